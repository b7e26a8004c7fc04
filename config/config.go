// Package config loads the mmusim settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is the prefix of every environment variable, as in
// MMUSIM_CACHE_LINES.
const Prefix = "MMUSIM"

// Config holds all the settings of a simulation run.
type Config struct {
	Store   StoreConfig
	Cache   CacheConfig
	Logging LogConfig
	Monitor MonitorConfig
	Record  RecordConfig
}

// StoreConfig describes the backing store.
type StoreConfig struct {
	Size          uint64        `envconfig:"STORE_SIZE" default:"65535"`
	LatencyMean   time.Duration `envconfig:"LATENCY_MEAN" default:"750ms"`
	LatencyStdDev time.Duration `envconfig:"LATENCY_STDDEV" default:"300ms"`
	LatencySeed   uint64        `envconfig:"LATENCY_SEED" default:"0"`
}

// CacheConfig describes the cache.
type CacheConfig struct {
	Lines int `envconfig:"CACHE_LINES" default:"16"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// MonitorConfig holds the HTTP monitor configuration. Port 0 picks a free
// port.
type MonitorConfig struct {
	Port int `envconfig:"MONITOR_PORT" default:"0"`
}

// RecordConfig holds the access trace configuration. An empty path disables
// recording.
type RecordConfig struct {
	Path string `envconfig:"RECORD_PATH" default:""`
}

// Load reads the optional dotenv files and then the MMUSIM_ environment
// variables. Variables already set in the environment win over dotenv files.
func Load(dotenvFiles ...string) (*Config, error) {
	for _, f := range dotenvFiles {
		err := godotenv.Load(f)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Size:          65535,
			LatencyMean:   750 * time.Millisecond,
			LatencyStdDev: 300 * time.Millisecond,
		},
		Cache: CacheConfig{
			Lines: 16,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}

// Validate reports the first setting that cannot describe a working
// simulator.
func (c *Config) Validate() error {
	switch {
	case c.Store.Size == 0:
		return errors.New("store size must be positive")
	case c.Cache.Lines <= 0:
		return errors.New("number of cache lines must be positive")
	case uint64(c.Cache.Lines) > c.Store.Size:
		return fmt.Errorf("cache has %d lines but the store has only %d words",
			c.Cache.Lines, c.Store.Size)
	case c.Store.LatencyMean < 0:
		return errors.New("latency mean cannot be negative")
	case c.Store.LatencyStdDev < 0:
		return errors.New("latency standard deviation cannot be negative")
	case c.Monitor.Port < 0 || c.Monitor.Port > 65535:
		return fmt.Errorf("invalid monitor port %d", c.Monitor.Port)
	}

	return nil
}
