package geostore

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/beetlebugorg/geostore/internal/codec"
	"github.com/beetlebugorg/geostore/internal/spatial"
)

// Config is the file form of Options.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Index   IndexConfig   `yaml:"index"`
	Catalog CatalogConfig `yaml:"catalog"`
	Log     LogConfig     `yaml:"log"`
}

type StoreConfig struct {
	ReadOnly    bool   `yaml:"read_only"`
	AutoRebuild *bool  `yaml:"auto_rebuild"` // nil keeps the default (true)
	Codec       string `yaml:"codec"`        // none, lz4 or zstd
}

type IndexConfig struct {
	FanOut       int   `yaml:"fan_out"`
	MaxDepth     int   `yaml:"max_depth"`
	BuildOnWrite *bool `yaml:"build_on_write"`
}

type CatalogConfig struct {
	Workers    int   `yaml:"workers"`
	SkipErrors *bool `yaml:"skip_errors"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// LoadConfig reads a YAML configuration. With an empty path it looks for
// geostore.yaml and configs/geostore.yaml and falls back to defaults when
// neither exists.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Store: StoreConfig{Codec: "lz4"},
		Index: IndexConfig{FanOut: spatial.DefaultFanOut},
		Log:   LogConfig{Level: "info", Format: "text"},
	}

	if path == "" {
		for _, p := range []string{"geostore.yaml", "configs/geostore.yaml"} {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return cfg, fmt.Errorf("parse %s: %w", p, err)
				}
				applyDefaults(cfg)
				return cfg, nil
			}
		}
		applyDefaults(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Store.Codec == "" {
		cfg.Store.Codec = "lz4"
	}
	if cfg.Index.FanOut <= 0 {
		cfg.Index.FanOut = spatial.DefaultFanOut
	}
	if cfg.Index.MaxDepth < 0 {
		cfg.Index.MaxDepth = 0
	}
	if cfg.Catalog.Workers < 0 {
		cfg.Catalog.Workers = 0
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Options converts the configuration, starting from DefaultOptions.
func (c *Config) Options() (Options, error) {
	opts := DefaultOptions()
	opts.ReadOnly = c.Store.ReadOnly
	if c.Store.AutoRebuild != nil {
		opts.AutoRebuild = *c.Store.AutoRebuild
	}
	cd, err := codec.Parse(c.Store.Codec)
	if err != nil {
		return opts, fmt.Errorf("store.codec: %w", err)
	}
	opts.Codec = cd
	opts.FanOut = c.Index.FanOut
	opts.MaxDepth = c.Index.MaxDepth
	if c.Index.BuildOnWrite != nil {
		opts.BuildIndexes = *c.Index.BuildOnWrite
	}
	if c.Catalog.Workers > 0 {
		opts.Workers = c.Catalog.Workers
	}
	if c.Catalog.SkipErrors != nil {
		opts.SkipErrors = *c.Catalog.SkipErrors
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return opts, fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text":
		opts.Logger = NewTextLogger(level)
	case "json":
		opts.Logger = NewJSONLogger(level)
	default:
		return opts, fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return opts, nil
}
