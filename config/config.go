package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Push     PushConfig     `yaml:"push"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// AnalysisConfig holds the configuration for the video-analysis job queue
// and the external worker it invokes.
type AnalysisConfig struct {
	WorkerURL           string            `yaml:"worker_url"`
	Headers             map[string]string `yaml:"headers"`
	TimeoutSeconds      int               `yaml:"timeout_seconds"`
	PollIntervalSeconds int               `yaml:"poll_interval_seconds"`
	PoolSize            int               `yaml:"pool_size"`
	MaxAttempts         int               `yaml:"max_attempts"`

	Timeout      time.Duration `yaml:"-"` // Ignored by YAML parser
	PollInterval time.Duration `yaml:"-"`
}

// TrackerConfig holds the cadences of the periodic tracker.
type TrackerConfig struct {
	FastTickSeconds int `yaml:"fast_tick_seconds"`
	SlowTickSeconds int `yaml:"slow_tick_seconds"`

	FastTick time.Duration `yaml:"-"`
	SlowTick time.Duration `yaml:"-"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
	PoolSize   int    `yaml:"pool_size"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Analysis.TimeoutSeconds <= 0 {
		cfg.Analysis.TimeoutSeconds = 120
	}
	cfg.Analysis.Timeout = time.Duration(cfg.Analysis.TimeoutSeconds) * time.Second

	if cfg.Analysis.PollIntervalSeconds <= 0 {
		cfg.Analysis.PollIntervalSeconds = 3
	}
	cfg.Analysis.PollInterval = time.Duration(cfg.Analysis.PollIntervalSeconds) * time.Second

	if cfg.Analysis.PoolSize <= 0 {
		log.Printf("analysis.pool_size is not set or invalid; defaulting to 2")
		cfg.Analysis.PoolSize = 2
	}
	if cfg.Analysis.PoolSize > 5 {
		log.Printf("analysis.pool_size %d exceeds the maximum of 5; clamping", cfg.Analysis.PoolSize)
		cfg.Analysis.PoolSize = 5
	}

	if cfg.Analysis.MaxAttempts <= 0 {
		cfg.Analysis.MaxAttempts = 3
	}

	if cfg.Tracker.FastTickSeconds <= 0 {
		cfg.Tracker.FastTickSeconds = 1
	}
	if cfg.Tracker.SlowTickSeconds <= 0 {
		cfg.Tracker.SlowTickSeconds = 60
	}
	cfg.Tracker.FastTick = time.Duration(cfg.Tracker.FastTickSeconds) * time.Second
	cfg.Tracker.SlowTick = time.Duration(cfg.Tracker.SlowTickSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.Push.PoolSize <= 0 {
		cfg.Push.PoolSize = 1
	}

	return &cfg, nil
}
