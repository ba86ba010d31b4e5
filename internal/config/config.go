/*
 *
 * Copyright 2026 The shmipc authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package config provides YAML-based configuration loading for the shmipc
// daemon.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"shmipc/internal/shm"
)

// Config is the root daemon configuration.
type Config struct {
	// Region describes the shared memory region to create
	Region RegionConfig `mapstructure:"region"`

	// Server holds dispatch and lifecycle settings
	Server ServerConfig `mapstructure:"server"`

	// Registry holds the incarnation registry settings
	Registry RegistryConfig `mapstructure:"registry"`

	// DataDir base directory for persistent data
	DataDir string `mapstructure:"data_dir"`

	// Status controls the status report rendering
	Status StatusConfig `mapstructure:"status"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`
}

// RegionConfig describes the shared region.
type RegionConfig struct {
	// Name suffix of the region file, shmipc_<name>
	Name string `mapstructure:"name"`
	// Slots is the table capacity
	Slots uint32 `mapstructure:"slots"`
}

// ServerConfig holds dispatch and lifecycle settings.
type ServerConfig struct {
	// ThreadsPerPool is the worker count per class pool; 0 auto-sizes
	ThreadsPerPool int `mapstructure:"threads_per_pool"`
	// ShutdownMode: drain or immediate
	ShutdownMode string `mapstructure:"shutdown_mode"`
	// SlowOpDelay is the artificial latency for mul and div
	SlowOpDelay time.Duration `mapstructure:"slow_op_delay"`
	// LockFile is the single-instance lock path; empty uses the default
	LockFile string `mapstructure:"lock_file"`
}

// RegistryConfig holds the incarnation registry settings.
type RegistryConfig struct {
	// Path of the registry database. Empty resolves under data_dir;
	// "off" disables the registry entirely.
	Path string `mapstructure:"path"`
}

// StatusConfig controls the status report rendering.
type StatusConfig struct {
	// Format: text or json
	Format string `mapstructure:"format"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// OutputPaths: stdout, stderr, or file paths
	OutputPaths []string `mapstructure:"output_paths"`
	// File configures an optional rotating file sink
	File LogFileConfig `mapstructure:"file"`
}

// LogFileConfig controls the rotating file sink.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Region: RegionConfig{
			Name:  "default",
			Slots: shm.DefaultCapacity,
		},
		Server: ServerConfig{
			ThreadsPerPool: 0,
			ShutdownMode:   "drain",
			SlowOpDelay:    0,
			LockFile:       "",
		},
		Registry: RegistryConfig{Path: ""},
		DataDir:  "./data",
		Status:   StatusConfig{Format: "text"},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stdout"},
			File: LogFileConfig{
				MaxSizeMB:  100,
				MaxBackups: 3,
				MaxAgeDays: 7,
			},
		},
	}
}

// Load reads configuration from the provided path (if non-empty), otherwise
// it searches common locations and supports environment overrides.
// Environment variables use the prefix SHMIPCD and `.`/`-` are replaced
// with `_`. Example: SHMIPCD_SERVER_SHUTDOWN_MODE=immediate
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SHMIPCD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("region.name", cfg.Region.Name)
	v.SetDefault("region.slots", cfg.Region.Slots)
	v.SetDefault("server.threads_per_pool", cfg.Server.ThreadsPerPool)
	v.SetDefault("server.shutdown_mode", cfg.Server.ShutdownMode)
	v.SetDefault("server.slow_op_delay", cfg.Server.SlowOpDelay)
	v.SetDefault("server.lock_file", cfg.Server.LockFile)
	v.SetDefault("registry.path", cfg.Registry.Path)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("status.format", cfg.Status.Format)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.output_paths", cfg.Log.OutputPaths)
	v.SetDefault("log.file.path", cfg.Log.File.Path)
	v.SetDefault("log.file.max_size_mb", cfg.Log.File.MaxSizeMB)
	v.SetDefault("log.file.max_backups", cfg.Log.File.MaxBackups)
	v.SetDefault("log.file.max_age_days", cfg.Log.File.MaxAgeDays)
	v.SetDefault("log.file.compress", cfg.Log.File.Compress)

	// Choose config file
	if path == "" {
		if envPath := os.Getenv("SHMIPCD_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `shmipcd`
		v.SetConfigName("shmipcd")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/shmipc")
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Region.Name) == "" {
		return errors.New("region.name must not be empty")
	}
	if strings.ContainsAny(c.Region.Name, "/\\") {
		return fmt.Errorf("region.name %q must not contain path separators", c.Region.Name)
	}
	if c.Region.Slots < 1 || c.Region.Slots > shm.MaxCapacity {
		return fmt.Errorf("region.slots %d out of range 1..%d", c.Region.Slots, shm.MaxCapacity)
	}
	if c.Server.ThreadsPerPool < 0 {
		return fmt.Errorf("server.threads_per_pool must not be negative, got %d", c.Server.ThreadsPerPool)
	}
	switch c.Server.ShutdownMode {
	case "drain", "immediate":
	default:
		return fmt.Errorf("unknown shutdown mode %q", c.Server.ShutdownMode)
	}
	if c.Server.SlowOpDelay < 0 {
		return fmt.Errorf("server.slow_op_delay must not be negative, got %s", c.Server.SlowOpDelay)
	}
	switch c.Status.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid status.format: %q", c.Status.Format)
	}

	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	if len(c.Log.OutputPaths) == 0 {
		c.Log.OutputPaths = []string{"stdout"}
	}
	return nil
}

// RegistryPath resolves the effective registry database path. Empty means
// the registry is disabled.
func (c *Config) RegistryPath() string {
	switch c.Registry.Path {
	case "off":
		return ""
	case "":
		return filepath.Join(c.DataDir, "shmipcd.db")
	default:
		return c.Registry.Path
	}
}
