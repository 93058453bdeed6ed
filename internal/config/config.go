package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"tableware-inspector/internal/classify"
	"tableware-inspector/internal/decision"
	"tableware-inspector/internal/logger"
	"tableware-inspector/internal/opencv/conversion"
	"tableware-inspector/internal/processing/filters"

	"gopkg.in/yaml.v3"
)

// Strategy selects which decision rules produce the verdict.
type Strategy string

const (
	StrategyColumn   Strategy = "column"
	StrategyTemplate Strategy = "template"
	StrategyBoth     Strategy = "both"
)

func (s Strategy) UsesColumn() bool   { return s == StrategyColumn || s == StrategyBoth }
func (s Strategy) UsesTemplate() bool { return s == StrategyTemplate || s == StrategyBoth }

type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type MorphologyConfig struct {
	Policy       filters.MorphPolicy `yaml:"policy"`
	OpenKernel   int                 `yaml:"open_kernel"`
	CloseKernel  int                 `yaml:"close_kernel"`
	DilateKernel int                 `yaml:"dilate_kernel"`
}

// RegionConfig lists region filters applied in order after mask cleaning.
// Thresholds are a pixel area for the area strategies and a percentage of
// the image area for component_percent.
type RegionConfig struct {
	Stages []filters.RegionStage `yaml:"stages"`
}

type TemplateConfig struct {
	Dir        string                `yaml:"dir"`
	Thresholds []float64             `yaml:"thresholds"`
	Angles     decision.AngleOptions `yaml:"angles"`
}

type ServerConfig struct {
	Host               string        `yaml:"host"`
	Port               string        `yaml:"port"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	MaxRequestBodySize int64         `yaml:"max_request_body_size"`
}

func (s ServerConfig) Address() string {
	return net.JoinHostPort(strings.TrimSpace(s.Host), strings.TrimSpace(s.Port))
}

type Config struct {
	LogLevel    string              `yaml:"log_level"`
	ColorSpace  string              `yaml:"color_space"`
	Ranges      classify.RangeSet   `yaml:"ranges"`
	Cache       CacheConfig         `yaml:"cache"`
	ResizeScale float64             `yaml:"resize_scale"`
	Morphology  MorphologyConfig    `yaml:"morphology"`
	Region      RegionConfig        `yaml:"region"`
	Strategy    Strategy            `yaml:"strategy"`
	Column      decision.ColumnRule `yaml:"column"`
	Templates   TemplateConfig      `yaml:"templates"`
	Server      ServerConfig        `yaml:"server"`
}

// DefaultConfig returns the production inspection settings for the
// wood-tone target material.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:   "info",
		ColorSpace: string(conversion.ColorSpaceHSV),
		Ranges: classify.RangeSet{
			{Name: "wood", Min: [3]int{8, 151, 0}, Max: [3]int{20, 255, 255}},
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    "hsv_lut_cache.bin",
		},
		ResizeScale: 0.1,
		Morphology: MorphologyConfig{
			Policy:       filters.PolicyOpenClose,
			OpenKernel:   5,
			CloseKernel:  19,
			DilateKernel: 3,
		},
		Region: RegionConfig{
			Stages: []filters.RegionStage{
				{Strategy: filters.StrategyContourArea, Threshold: 200},
				{Strategy: filters.StrategyComponentPercent, Threshold: 2.0},
			},
		},
		Strategy: StrategyColumn,
		Column:   decision.DefaultColumnRule(),
		Templates: TemplateConfig{
			Dir:    "templates",
			Angles: decision.DefaultAngleOptions(),
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               "8080",
			RequestTimeout:     30 * time.Second,
			MaxRequestBodySize: 10 * 1024 * 1024,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) ApplyEnv() {
	c.Cache.Path = getEnvOrDefault("INSPECTOR_CACHE_PATH", c.Cache.Path)
	c.Templates.Dir = getEnvOrDefault("INSPECTOR_TEMPLATE_DIR", c.Templates.Dir)
	c.LogLevel = getEnvOrDefault("INSPECTOR_LOG_LEVEL", c.LogLevel)
	c.Server.Host = getEnvOrDefault("HOST", c.Server.Host)
	c.Server.Port = getEnvOrDefault("PORT", c.Server.Port)
	c.Server.RequestTimeout = parseDurationOrDefault("REQUEST_TIMEOUT", c.Server.RequestTimeout)
	c.Server.MaxRequestBodySize = parseIntOrDefault("MAX_REQUEST_BODY_SIZE", c.Server.MaxRequestBodySize)
}

func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	space, err := conversion.ParseColorSpace(c.ColorSpace)
	if err != nil {
		return err
	}
	if err := c.Ranges.Validate(space.ChannelLimits()); err != nil {
		return fmt.Errorf("invalid color ranges: %w", err)
	}

	if c.Cache.Enabled && strings.TrimSpace(c.Cache.Path) == "" {
		return fmt.Errorf("cache path is required when the cache is enabled")
	}

	if c.ResizeScale <= 0 || c.ResizeScale > 1 {
		return fmt.Errorf("resize_scale must be in (0, 1], got %v", c.ResizeScale)
	}

	m := c.Morphology
	if _, err := filters.NewMaskCleaner(m.Policy, m.OpenKernel, m.CloseKernel, m.DilateKernel); err != nil {
		return fmt.Errorf("invalid morphology: %w", err)
	}
	if _, err := filters.NewRegionFilters(c.Region.Stages, nil); err != nil {
		return fmt.Errorf("invalid region filter: %w", err)
	}

	switch c.Strategy {
	case StrategyColumn, StrategyTemplate, StrategyBoth:
	default:
		return fmt.Errorf("unknown strategy: %q", c.Strategy)
	}
	if err := c.Column.Validate(); err != nil {
		return fmt.Errorf("invalid column rule: %w", err)
	}
	if c.Strategy.UsesTemplate() {
		if strings.TrimSpace(c.Templates.Dir) == "" {
			return fmt.Errorf("templates.dir is required for strategy %q", c.Strategy)
		}
		if len(c.Templates.Thresholds) == 0 {
			return fmt.Errorf("templates.thresholds is required for strategy %q", c.Strategy)
		}
		a := c.Templates.Angles
		if a.Min > 0 || a.Max < 0 || a.Step < 0 {
			return fmt.Errorf("invalid template angles: min %v max %v step %v", a.Min, a.Max, a.Step)
		}
	}

	p, err := strconv.Atoi(strings.TrimSpace(c.Server.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid port: %q", c.Server.Port)
	}
	if c.Server.MaxRequestBodySize <= 0 {
		return fmt.Errorf("max_request_body_size must be > 0 (got %d)", c.Server.MaxRequestBodySize)
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be > 0 (got %s)", c.Server.RequestTimeout)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
