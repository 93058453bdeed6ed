package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"tableware-inspector/internal/config"
	"tableware-inspector/internal/logger"
	"tableware-inspector/internal/lut"
	"tableware-inspector/internal/pipeline"
	"tableware-inspector/internal/shutdown"
)

const (
	exitOK    = 0
	exitNG    = 1
	exitError = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", envOr("INSPECTOR_CONFIG", "configs/inspector.yaml"), "YAML config file")
	maskDir := flag.String("mask-dir", "", "write each final mask as PNG into this directory")
	rebuild := flag.Bool("rebuild-cache", false, "rebuild the classification cache before inspecting")
	clearCache := flag.Bool("clear-cache", false, "delete the classification cache file and exit")
	cacheStats := flag.Bool("cache-stats", false, "print classification cache statistics and exit")
	showTimings := flag.Bool("timings", false, "print average stage timings after the batch")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <image>...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitError
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	log := logger.NewConsoleLogger(level, "tableware-inspector")

	manager := shutdown.NewManager(log)
	defer manager.Shutdown()

	if *clearCache {
		cache, err := pipeline.NewCache(cfg, log)
		if err == nil {
			err = cache.ClearFile()
		}
		if err != nil {
			log.Error("CLI", err, nil)
			return exitError
		}
		fmt.Printf("removed %s\n", cfg.Cache.Path)
		return exitOK
	}

	var cache *lut.Cache
	if cfg.Cache.Enabled || *cacheStats {
		cache, err = openCache(cfg, *rebuild, log)
		if err != nil {
			log.Error("CLI", err, map[string]interface{}{"path": cfg.Cache.Path})
			return exitError
		}
		manager.Register("classification_cache", cache)
	}

	if *cacheStats {
		stats, err := cache.Stats()
		if err != nil {
			log.Error("CLI", err, nil)
			return exitError
		}
		fmt.Println(cache.StatusInfo())
		fmt.Printf("target: %d / %d (%.3f%%)\n", stats.Target, stats.Total, stats.TargetPct)
		return exitOK
	}

	if flag.NArg() == 0 {
		flag.Usage()
		return exitError
	}

	inspector, err := pipeline.FromConfig(cfg, cache, log)
	if err != nil {
		log.Error("CLI", err, nil)
		return exitError
	}
	manager.Register("inspector", shutdown.Func(inspector.Close))

	// registered last so a signal stops the batch before anything it uses
	batchDone := make(chan struct{})
	manager.Register("batch", shutdown.Func(func() { <-batchDone }))
	manager.Listen()

	code := inspectAll(manager.Context(), inspector, flag.Args(), *maskDir, log)
	close(batchDone)

	select {
	case <-manager.Done():
		log.Warning("CLI", "batch interrupted", nil)
		code = exitError
	default:
	}

	if *showTimings {
		for _, st := range inspector.TimingSummary() {
			fmt.Printf("%-28s %4d runs  avg %8.2fms\n", st.Stage, st.Runs, st.AvgMS)
		}
	}

	return code
}

// openCache loads or builds the table. With rebuild set the file on disk is
// ignored and the table is built exactly once.
func openCache(cfg *config.Config, rebuild bool, log logger.Logger) (*lut.Cache, error) {
	if !rebuild {
		return pipeline.OpenCache(cfg, log)
	}

	cache, err := pipeline.NewCache(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := cache.ForceRebuild(); err != nil {
		return nil, err
	}
	return cache, nil
}

func inspectAll(ctx context.Context, inspector *pipeline.Inspector, paths []string, maskDir string, log logger.Logger) int {
	code := exitOK
	for _, path := range paths {
		if ctx.Err() != nil {
			return exitError
		}

		report, err := inspector.InspectFile(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return exitError
			}
			log.Error("CLI", err, map[string]interface{}{"image": path})
			code = exitError
			continue
		}

		fmt.Printf("%s: %s\n", path, report)
		for _, line := range report.Diagnostics {
			fmt.Printf("  %s\n", line)
		}

		if maskDir != "" {
			if out, err := pipeline.SaveMask(maskDir, path, report.Mask); err != nil {
				log.Error("CLI", err, map[string]interface{}{"image": path})
			} else {
				log.Debug("CLI", "mask written", map[string]interface{}{"path": out})
			}
		}

		if !report.OK && code == exitOK {
			code = exitNG
		}
		report.Close()
	}
	return code
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
