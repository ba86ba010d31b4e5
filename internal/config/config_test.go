/*
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
 */

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Region.Name != "default" {
		t.Errorf("region.name = %q, want default", cfg.Region.Name)
	}
	if cfg.Region.Slots != 16 {
		t.Errorf("region.slots = %d, want 16", cfg.Region.Slots)
	}
	if cfg.Server.ShutdownMode != "drain" {
		t.Errorf("server.shutdown_mode = %q, want drain", cfg.Server.ShutdownMode)
	}
	if cfg.Server.ThreadsPerPool != 0 {
		t.Errorf("server.threads_per_pool = %d, want 0 (auto)", cfg.Server.ThreadsPerPool)
	}
	if cfg.Server.SlowOpDelay != 0 {
		t.Errorf("server.slow_op_delay = %s, want 0", cfg.Server.SlowOpDelay)
	}
	if cfg.Status.Format != "text" {
		t.Errorf("status.format = %q, want text", cfg.Status.Format)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Errorf("log = %q/%q, want info/console", cfg.Log.Level, cfg.Log.Format)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shmipcd.yaml")
	yaml := `
region:
  name: primary
  slots: 32
server:
  threads_per_pool: 4
  shutdown_mode: immediate
  slow_op_delay: 2s
registry:
  path: "off"
status:
  format: json
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Region.Name != "primary" || cfg.Region.Slots != 32 {
		t.Errorf("region = %+v, want primary/32", cfg.Region)
	}
	if cfg.Server.ThreadsPerPool != 4 {
		t.Errorf("threads_per_pool = %d, want 4", cfg.Server.ThreadsPerPool)
	}
	if cfg.Server.ShutdownMode != "immediate" {
		t.Errorf("shutdown_mode = %q, want immediate", cfg.Server.ShutdownMode)
	}
	if cfg.Server.SlowOpDelay != 2*time.Second {
		t.Errorf("slow_op_delay = %s, want 2s", cfg.Server.SlowOpDelay)
	}
	if cfg.Status.Format != "json" {
		t.Errorf("status.format = %q, want json", cfg.Status.Format)
	}
	if cfg.RegistryPath() != "" {
		t.Errorf("registry path = %q, want disabled", cfg.RegistryPath())
	}
	// Unset sections keep their defaults
	if cfg.Log.Format != "console" {
		t.Errorf("log.format = %q, want console default", cfg.Log.Format)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load accepted a missing explicit config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SHMIPCD_SERVER_SHUTDOWN_MODE", "immediate")
	t.Setenv("SHMIPCD_REGION_SLOTS", "8")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.ShutdownMode != "immediate" {
		t.Errorf("shutdown_mode = %q, want immediate from env", cfg.Server.ShutdownMode)
	}
	if cfg.Region.Slots != 8 {
		t.Errorf("slots = %d, want 8 from env", cfg.Region.Slots)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty region name", func(c *Config) { c.Region.Name = "" }},
		{"region name with separator", func(c *Config) { c.Region.Name = "a/b" }},
		{"zero slots", func(c *Config) { c.Region.Slots = 0 }},
		{"oversized slots", func(c *Config) { c.Region.Slots = 5000 }},
		{"negative threads", func(c *Config) { c.Server.ThreadsPerPool = -1 }},
		{"unknown shutdown mode", func(c *Config) { c.Server.ShutdownMode = "graceful" }},
		{"negative slow op delay", func(c *Config) { c.Server.SlowOpDelay = -time.Second }},
		{"bad status format", func(c *Config) { c.Status.Format = "xml" }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Log.Format = "logfmt" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Error("validate accepted an invalid configuration")
			}
		})
	}
}

func TestValidateShutdownModeMessage(t *testing.T) {
	cfg := Default()
	cfg.Server.ShutdownMode = "later"
	err := cfg.validate()
	if err == nil {
		t.Fatal("validate accepted an unknown shutdown mode")
	}
	if !strings.Contains(err.Error(), `unknown shutdown mode "later"`) {
		t.Errorf("error = %q, want the unknown-mode diagnostic", err)
	}
}

func TestRegistryPathResolution(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/shmipc"

	if got, want := cfg.RegistryPath(), filepath.Join("/var/lib/shmipc", "shmipcd.db"); got != want {
		t.Errorf("default registry path = %q, want %q", got, want)
	}

	cfg.Registry.Path = "off"
	if got := cfg.RegistryPath(); got != "" {
		t.Errorf("registry path = %q, want disabled", got)
	}

	cfg.Registry.Path = "/tmp/custom.db"
	if got := cfg.RegistryPath(); got != "/tmp/custom.db" {
		t.Errorf("registry path = %q, want the explicit path", got)
	}
}
