package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MrEthical07/authsession"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk layout: the manager configuration shared by
// every simulated client plus the soak run parameters.
type fileConfig struct {
	Session authsession.Config `yaml:"session"`
	Soak    soakConfig         `yaml:"soak"`
}

type soakConfig struct {
	// Sessions is the number of independent clients, each with its own
	// Manager and principal.
	Sessions int `yaml:"sessions"`

	Duration time.Duration `yaml:"duration"`

	// FlapInterval is how often the shared network signal goes offline;
	// OfflineFor is how long it stays down. Zero disables flapping.
	FlapInterval time.Duration `yaml:"flap_interval"`
	OfflineFor   time.Duration `yaml:"offline_for"`

	// ValidateInterval spaces out ad-hoc ValidateSession calls on a random
	// client.
	ValidateInterval time.Duration `yaml:"validate_interval"`

	// RefreshFailureRate is the fraction of provider refreshes that fail.
	RefreshFailureRate float64 `yaml:"refresh_failure_rate"`

	RedisAddr   string `yaml:"redis_addr"`
	SQLitePath  string `yaml:"sqlite_path"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogOutput   string `yaml:"log_output"`
}

// defaultFileConfig shrinks the token windows so refreshes happen within
// a short run.
func defaultFileConfig() fileConfig {
	session := authsession.DefaultConfig()
	session.Policy.SessionTimeout = 2 * time.Minute
	session.Policy.RefreshThreshold = 90 * time.Second
	session.Policy.GracePeriod = 30 * time.Second
	session.Retry.BaseDelay = 200 * time.Millisecond
	session.Retry.Timeout = 2 * time.Second
	session.Network.ValidationWait = 2 * time.Second
	session.Scheduler.RetryDelay = 5 * time.Second
	session.Metrics.Enabled = true
	session.Metrics.EnableLatencyHistograms = true

	return fileConfig{
		Session: session,
		Soak: soakConfig{
			Sessions:         50,
			Duration:         2 * time.Minute,
			FlapInterval:     20 * time.Second,
			OfflineFor:       5 * time.Second,
			ValidateInterval: time.Second,
		},
	}
}

// loadConfig reads path over the defaults. Unknown keys are rejected. An
// empty path returns the defaults.
func loadConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return fileConfig{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func (c fileConfig) validate() error {
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if c.Soak.Sessions <= 0 {
		return errors.New("soak: sessions must be > 0")
	}
	if c.Soak.Duration <= 0 {
		return errors.New("soak: duration must be > 0")
	}
	if c.Soak.FlapInterval < 0 || c.Soak.OfflineFor < 0 {
		return errors.New("soak: flap_interval and offline_for must be >= 0")
	}
	if c.Soak.FlapInterval > 0 && c.Soak.OfflineFor >= c.Soak.FlapInterval {
		return errors.New("soak: offline_for must be shorter than flap_interval")
	}
	if c.Soak.ValidateInterval <= 0 {
		return errors.New("soak: validate_interval must be > 0")
	}
	if c.Soak.RefreshFailureRate < 0 || c.Soak.RefreshFailureRate >= 1 {
		return errors.New("soak: refresh_failure_rate must be in [0, 1)")
	}
	if c.Soak.RedisAddr != "" && c.Soak.SQLitePath != "" {
		return errors.New("soak: redis_addr and sqlite_path are mutually exclusive")
	}
	return nil
}
