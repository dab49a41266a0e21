package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.Breaker.MaxFailures = 0
	cfg.Queue.DrainRate = 2.5
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want work", loaded.DefaultProfile)
	}
	if loaded.Breaker.MaxFailures != 0 || loaded.Queue.DrainRate != 2.5 {
		t.Errorf("breaker=%d drain_rate=%v", loaded.Breaker.MaxFailures, loaded.Queue.DrainRate)
	}
	if loaded.API.Timeout.Duration != 10*time.Second {
		t.Errorf("timeout = %v", loaded.API.Timeout)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := "[api]\ntimeout = \"2s\"\n\n[paging]\npage_size = 50\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.Timeout.Duration != 2*time.Second {
		t.Errorf("timeout = %v, want 2s", cfg.API.Timeout)
	}
	if cfg.Paging.PageSize != 50 {
		t.Errorf("page_size = %d, want 50", cfg.Paging.PageSize)
	}
	if cfg.API.BaseURL != "http://localhost:3001/api" {
		t.Errorf("base_url = %q, want the default", cfg.API.BaseURL)
	}
	if cfg.Queue.MaxRetries != 3 || cfg.Breaker.MaxFailures != 5 {
		t.Errorf("unset sections lost their defaults: %+v %+v", cfg.Queue, cfg.Breaker)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[api]\ntimeout = \"soon\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted an invalid duration")
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load("/nonexistent/config.toml"); err == nil {
		t.Error("Load() expected error for missing file")
	}
	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.DefaultProfile != "main" {
		t.Errorf("DefaultProfile = %q", cfg.DefaultProfile)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvBaseURL:     "http://backend:9000/api",
		EnvProfile:     "ci",
		EnvMetricsAddr: "127.0.0.1:9100",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	if cfg.API.BaseURL != env[EnvBaseURL] || cfg.DefaultProfile != "ci" || cfg.Metrics.Addr != "127.0.0.1:9100" {
		t.Errorf("ApplyEnv() = %+v", cfg)
	}
}

func TestProbeTarget(t *testing.T) {
	cfg := Default()
	cfg.API.BaseURL = "http://h/api/"
	if got := cfg.ProbeTarget(); got != "http://h/api/messages?limit=1" {
		t.Errorf("ProbeTarget() = %q", got)
	}
	cfg.Network.ProbeURL = "http://h/health"
	if got := cfg.ProbeTarget(); got != "http://h/health" {
		t.Errorf("ProbeTarget() = %q", got)
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
