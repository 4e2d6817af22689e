package authsession

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authsession/internal/retry"
	"github.com/MrEthical07/authsession/internal/tokenwindow"
	"github.com/MrEthical07/authsession/refresh"
)

// Config is the full set of tunables for a Manager.
//
// Config values are copied into the Manager at Build time; later changes
// to the caller's copy have no effect.
type Config struct {
	Policy    PolicyConfig    `yaml:"policy"`
	Retry     RetryConfig     `yaml:"retry"`
	Network   NetworkConfig   `yaml:"network"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// PolicyConfig holds the token trust window.
//
// A token is fresh while its age is at most SessionTimeout and still
// acceptable during validation up to SessionTimeout+GracePeriod. Proactive
// refresh fires RefreshThreshold before SessionTimeout.
type PolicyConfig struct {
	SessionTimeout   time.Duration `yaml:"session_timeout"`
	RefreshThreshold time.Duration `yaml:"refresh_threshold"`
	GracePeriod      time.Duration `yaml:"grace_period"`
}

// RetryConfig controls the retry executor used for every provider call.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Timeout     time.Duration `yaml:"timeout"`
}

// NetworkConfig controls how validation reacts to lost connectivity.
type NetworkConfig struct {
	// ValidationWait bounds how long validation waits for the network
	// before falling back to cached markers.
	ValidationWait time.Duration `yaml:"validation_wait"`
	// RevalidateOnReconnect re-runs validation for a session accepted
	// offline once the network comes back.
	RevalidateOnReconnect bool `yaml:"revalidate_on_reconnect"`
}

// SchedulerConfig controls proactive refresh.
type SchedulerConfig struct {
	Enabled    bool          `yaml:"enabled"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// StorageConfig names the keyspace used when the Builder creates a Redis
// durable store.
type StorageConfig struct {
	RedisPrefix string        `yaml:"redis_prefix"`
	Namespace   string        `yaml:"namespace"`
	DurableTTL  time.Duration `yaml:"durable_ttl"`
}

// LogConfig controls the asynchronous session log dispatcher.
type LogConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig controls in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// DefaultConfig returns the configuration used when the Builder is given
// none: 55m session timeout, 5m refresh threshold, 5m grace, 3 attempts
// starting at 1s with a 15s per-attempt timeout, and a 60s network wait.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Policy: PolicyConfig{
			SessionTimeout:   tokenwindow.DefaultSessionTimeout,
			RefreshThreshold: tokenwindow.DefaultRefreshThreshold,
			GracePeriod:      tokenwindow.DefaultGracePeriod,
		},
		Retry: RetryConfig{
			MaxAttempts: retry.DefaultMaxAttempts,
			BaseDelay:   retry.DefaultBaseDelay,
			Timeout:     retry.DefaultTimeout,
		},
		Network: NetworkConfig{
			ValidationWait:        60 * time.Second,
			RevalidateOnReconnect: true,
		},
		Scheduler: SchedulerConfig{
			Enabled:    true,
			RetryDelay: refresh.DefaultRetryDelay,
		},
		Storage: StorageConfig{
			RedisPrefix: "authsession",
			Namespace:   "default",
			DurableTTL:  30 * 24 * time.Hour,
		},
		Log: LogConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

func (c Config) policy() tokenwindow.Policy {
	return tokenwindow.Policy{
		SessionTimeout:   c.Policy.SessionTimeout,
		RefreshThreshold: c.Policy.RefreshThreshold,
		GracePeriod:      c.Policy.GracePeriod,
	}
}

func (c Config) retryOptions(op string) retry.Options {
	return retry.Options{
		Operation:   op,
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		Timeout:     c.Retry.Timeout,
	}
}

// Validate checks every field and returns the first problem found.
func (c *Config) Validate() error {
	// Policy
	if c.Policy.SessionTimeout <= 0 {
		return errors.New("Policy SessionTimeout must be > 0")
	}
	if c.Policy.RefreshThreshold <= 0 {
		return errors.New("Policy RefreshThreshold must be > 0")
	}
	if c.Policy.RefreshThreshold >= c.Policy.SessionTimeout {
		return errors.New("Policy RefreshThreshold must be < SessionTimeout")
	}
	if c.Policy.GracePeriod < 0 {
		return errors.New("Policy GracePeriod must be >= 0")
	}

	// Retry
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		return errors.New("Retry MaxAttempts must be in [1, 10]")
	}
	if c.Retry.BaseDelay <= 0 {
		return errors.New("Retry BaseDelay must be > 0")
	}
	if c.Retry.Timeout <= 0 {
		return errors.New("Retry Timeout must be > 0")
	}
	if retry.Backoff(c.Retry.BaseDelay, c.Retry.MaxAttempts-1) > time.Hour {
		return errors.New("Retry BaseDelay grows past one hour before the final attempt")
	}

	// Network
	if c.Network.ValidationWait < 0 {
		return errors.New("Network ValidationWait must be >= 0")
	}

	// Scheduler
	if c.Scheduler.RetryDelay <= 0 {
		return errors.New("Scheduler RetryDelay must be > 0")
	}

	// Storage
	if strings.TrimSpace(c.Storage.RedisPrefix) == "" {
		return errors.New("Storage RedisPrefix must not be empty")
	}
	if strings.TrimSpace(c.Storage.Namespace) == "" {
		return errors.New("Storage Namespace must not be empty")
	}
	if strings.Contains(c.Storage.Namespace, ":") {
		return errors.New("Storage Namespace must not contain ':'")
	}
	if c.Storage.DurableTTL < 0 {
		return errors.New("Storage DurableTTL must be >= 0")
	}

	// Log
	if c.Log.Enabled && c.Log.BufferSize <= 0 {
		return errors.New("Log BufferSize must be > 0 when logging is enabled")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
