// Package pipelinecfg provides configuration, periodic housekeeping, and
// host-sizing helpers for running a streamgraph pipeline as a long-lived
// process.
package pipelinecfg

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/streamgraph-io/streamgraph/pkg/bytesize"
)

// Default configuration values.
const (
	defaultThreading          = "one-per-filter"
	defaultAllocBlocks        = 10
	defaultLowLatencyBlocks   = 2
	defaultStatsLogInterval   = 30 * time.Second
	defaultHousekeepingCron   = "*/30 * * * * *" // every 30s, 6-field
	defaultGraphVersion       = 1
	defaultMaxQueueBytesHuman = "64MB"
)

// Config holds everything needed to stand up a pipeline process.
type Config struct {
	Pipeline     RuntimeConfig     `mapstructure:"pipeline"`
	Logging      LoggingConfig     `mapstructure:"logging"`
	Housekeeping HousekeepingConfig `mapstructure:"housekeeping"`
}

// RuntimeConfig controls pipeline construction.
type RuntimeConfig struct {
	// Threading selects "one-per-filter" or "mono" scheduling.
	Threading string `mapstructure:"threading"`
	// AllocBlocks is the block count for a default allocator pool. Load
	// and Validate handle it; nothing else in this module reads it.
	AllocBlocks int `mapstructure:"alloc_blocks"`
	// LowLatencyBlocks is the block count for low-latency allocator pools.
	// Load and Validate handle it; nothing else in this module reads it.
	LowLatencyBlocks int `mapstructure:"low_latency_blocks"`
	// MaxQueueBytes is a per-input queue memory limit; accepts
	// human-readable values like "64MB" via bytesize.Size's UnmarshalText.
	// Nothing in this module reads it: input queues are unbounded.
	MaxQueueBytes bytesize.Size `mapstructure:"max_queue_bytes"`
	// GraphVersion is a graph-document version, validated to be at least 1.
	// The loader checks documents against its own loader.SupportedVersion
	// constant and does not read this field.
	GraphVersion int `mapstructure:"graph_version"`
}

// LoggingConfig controls internal/obslog construction.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// HousekeepingConfig controls the periodic stats-snapshot logger.
type HousekeepingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"`
}

// Load reads configuration from file and environment variables (prefixed
// STREAMGRAPH_, nested fields separated by underscores), falling back to
// defaults when no file is present.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("streamgraph")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/streamgraph")
		v.AddConfigPath("$HOME/.streamgraph")
	}

	v.SetEnvPrefix("STREAMGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults configures default values, called before reading any config
// file so file/env values always take precedence.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.threading", defaultThreading)
	v.SetDefault("pipeline.alloc_blocks", defaultAllocBlocks)
	v.SetDefault("pipeline.low_latency_blocks", defaultLowLatencyBlocks)
	v.SetDefault("pipeline.max_queue_bytes", defaultMaxQueueBytesHuman)
	v.SetDefault("pipeline.graph_version", defaultGraphVersion)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("housekeeping.enabled", true)
	v.SetDefault("housekeeping.cron", defaultHousekeepingCron)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Pipeline.Threading {
	case "one-per-filter", "mono":
	default:
		return fmt.Errorf("pipeline.threading must be one of: one-per-filter, mono")
	}
	if c.Pipeline.AllocBlocks < 1 {
		return fmt.Errorf("pipeline.alloc_blocks must be at least 1")
	}
	if c.Pipeline.LowLatencyBlocks < 1 {
		return fmt.Errorf("pipeline.low_latency_blocks must be at least 1")
	}
	if c.Pipeline.GraphVersion < 1 {
		return fmt.Errorf("pipeline.graph_version must be at least 1")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
