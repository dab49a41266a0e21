// Package config loads ~/.chatsync/config.toml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment overrides, applied after the file.
const (
	EnvBaseURL     = "CHATSYNC_API_BASE_URL"
	EnvProfile     = "CHATSYNC_PROFILE"
	EnvMetricsAddr = "CHATSYNC_METRICS_ADDR"
)

// Duration is a time.Duration written as a string ("10s") in toml.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the global configuration shared by every profile.
type Config struct {
	DefaultProfile string        `toml:"default_profile"`
	API            APIConfig     `toml:"api"`
	Breaker        BreakerConfig `toml:"breaker"`
	Queue          QueueConfig   `toml:"queue"`
	Network        NetworkConfig `toml:"network"`
	Paging         PagingConfig  `toml:"paging"`
	Metrics        MetricsConfig `toml:"metrics"`
}

type APIConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout Duration `toml:"timeout"`
}

// BreakerConfig controls the backend circuit breaker. MaxFailures 0
// disables it.
type BreakerConfig struct {
	MaxFailures uint32   `toml:"max_failures"`
	OpenTimeout Duration `toml:"open_timeout"`
}

// QueueConfig controls the offline queue. DrainRate is sends per second
// during a drain; 0 means unpaced.
type QueueConfig struct {
	MaxRetries int     `toml:"max_retries"`
	DrainRate  float64 `toml:"drain_rate"`
}

// NetworkConfig controls the connectivity prober. An empty ProbeURL probes
// the message list endpoint.
type NetworkConfig struct {
	ProbeURL      string   `toml:"probe_url"`
	ProbeInterval Duration `toml:"probe_interval"`
	ProbeTimeout  Duration `toml:"probe_timeout"`
}

type PagingConfig struct {
	PageSize int `toml:"page_size"`
}

// MetricsConfig enables the ops HTTP listener when Addr is set.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// Default returns a fully populated configuration.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		API: APIConfig{
			BaseURL: "http://localhost:3001/api",
			Timeout: Duration{10 * time.Second},
		},
		Breaker: BreakerConfig{
			MaxFailures: 5,
			OpenTimeout: Duration{30 * time.Second},
		},
		Queue: QueueConfig{MaxRetries: 3},
		Network: NetworkConfig{
			ProbeInterval: Duration{15 * time.Second},
			ProbeTimeout:  Duration{3 * time.Second},
		},
		Paging: PagingConfig{PageSize: 20},
	}
}

// Load reads path over the defaults. A missing file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// ApplyEnv overlays the CHATSYNC_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvBaseURL); ok && v != "" {
		c.API.BaseURL = v
	}
	if v, ok := lookup(EnvProfile); ok && v != "" {
		c.DefaultProfile = v
	}
	if v, ok := lookup(EnvMetricsAddr); ok {
		c.Metrics.Addr = v
	}
}

// ProbeTarget returns the URL the connectivity prober requests.
func (c *Config) ProbeTarget() string {
	if c.Network.ProbeURL != "" {
		return c.Network.ProbeURL
	}
	return strings.TrimRight(c.API.BaseURL, "/") + "/messages?limit=1"
}

// Save writes cfg to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
