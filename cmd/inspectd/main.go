package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"tableware-inspector/internal/config"
	"tableware-inspector/internal/eventbus"
	"tableware-inspector/internal/logger"
	"tableware-inspector/internal/lut"
	"tableware-inspector/internal/pipeline"
	"tableware-inspector/internal/shutdown"
	"tableware-inspector/internal/transport"

	"github.com/gin-gonic/gin"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("INSPECTOR_CONFIG"), "YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	log := logger.NewJSONLogger(level, "inspectd").With(map[string]interface{}{"version": version})
	gin.SetMode(gin.ReleaseMode)

	manager := shutdown.NewManager(log)

	bus := eventbus.NewBus(256, log)
	manager.Register("event_bus", bus)
	stats := pipeline.NewInspectionStats()
	stats.Subscribe(bus)
	handlerOpts := []transport.Option{transport.WithStats(stats)}

	// the table is built or loaded before the first request is accepted
	var cache *lut.Cache
	if cfg.Cache.Enabled {
		cache, err = pipeline.OpenCache(cfg, log)
		if err != nil {
			log.Error("Server", err, map[string]interface{}{"path": cfg.Cache.Path})
			os.Exit(1)
		}
		manager.Register("classification_cache", cache)
		handlerOpts = append(handlerOpts, transport.WithCache(cache))
	}

	inspector, err := pipeline.FromConfig(cfg, cache, log)
	if err != nil {
		log.Error("Server", err, nil)
		manager.Shutdown()
		os.Exit(1)
	}
	inspector.WithEvents(bus)
	manager.Register("inspector", shutdown.Func(inspector.Close))

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      transport.NewHandler(inspector, cfg.Server, log, handlerOpts...),
		ReadTimeout:  cfg.Server.RequestTimeout,
		WriteTimeout: cfg.Server.RequestTimeout,
	}
	manager.Register("http_server", shutdown.Func(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error("Server", err, nil)
		}
	}))

	manager.Listen()

	go func() {
		log.Info("Server", "starting HTTP server", map[string]interface{}{
			"address":  server.Addr,
			"strategy": string(cfg.Strategy),
			"stages":   inspector.Stages(),
			"timeout":  cfg.Server.RequestTimeout.String(),
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server", err, nil)
			manager.Shutdown()
		}
	}()

	manager.Wait()
}
