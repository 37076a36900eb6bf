// README: Config loading tests (defaults, file, environment overrides, validation).
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != BackendMemory || cfg.HTTP.Addr != ":8080" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Tracking.PollInterval != 30*time.Second || cfg.Tracking.EvictAfter != 2*time.Minute || cfg.Tracking.FetchTimeout != 10*time.Second {
		t.Fatalf("tracking defaults = %+v", cfg.Tracking)
	}
	if cfg.Order.TransitionPolicy != "permissive" {
		t.Fatalf("policy default = %q", cfg.Order.TransitionPolicy)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turbo.yaml")
	yaml := "store:\n  backend: postgres\norder:\n  transition_policy: forward\ntracking:\n  poll_interval: 45s\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TURBO_TRACKING_EVICT_AFTER", "5m")
	t.Setenv("TURBO_HTTP_ADDR", ":9090")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != BackendPostgres || cfg.Order.TransitionPolicy != "forward" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Tracking.PollInterval != 45*time.Second || cfg.Tracking.EvictAfter != 5*time.Minute {
		t.Fatalf("tracking = %+v", cfg.Tracking)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Fatalf("env override not applied: %q", cfg.HTTP.Addr)
	}
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cases := map[string]func(c *Config){
		"unknown backend":      func(c *Config) { c.Store.Backend = "mongo" },
		"unknown policy":       func(c *Config) { c.Order.TransitionPolicy = "strict" },
		"firestore no project": func(c *Config) { c.Store.Backend = BackendFirestore },
		"push no project":      func(c *Config) { c.Firebase.Push = true },
		"zero poll":            func(c *Config) { c.Tracking.PollInterval = 0 },
		"timeout over poll":    func(c *Config) { c.Tracking.FetchTimeout = time.Minute },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := *base
			mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
