package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Balancer    BalancerConfig    `yaml:"balancer"`
	NetworkTest NetworkTestConfig `yaml:"network_test"`
	Payment     PaymentConfig     `yaml:"payment"`
	Push        PushConfig        `yaml:"push"`
	WorkerPool  WorkerPoolConfig  `yaml:"worker_pool"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// MonitorConfig holds the node health monitor configuration.
type MonitorConfig struct {
	Enabled                  bool          `yaml:"enabled"`
	IntervalSeconds          int           `yaml:"interval_seconds"`
	Interval                 time.Duration `yaml:"-"`
	ProbeTimeoutSeconds      int           `yaml:"probe_timeout_seconds"`
	ProbeTimeout             time.Duration `yaml:"-"`
	StalenessMinutes         int           `yaml:"staleness_minutes"`
	Staleness                time.Duration `yaml:"-"`
	HeartbeatIntervalSeconds int           `yaml:"heartbeat_interval_seconds"`
}

// BalancerConfig holds the load balancer configuration.
type BalancerConfig struct {
	MaxMachinesPerNode   int           `yaml:"max_machines_per_node"`
	NotifyTimeoutSeconds int           `yaml:"notify_timeout_seconds"`
	NotifyTimeout        time.Duration `yaml:"-"`
}

// NetworkTestConfig holds the network tester configuration.
type NetworkTestConfig struct {
	ProbeTimeoutSeconds     int           `yaml:"probe_timeout_seconds"`
	ProbeTimeout            time.Duration `yaml:"-"`
	LatencySamples          int           `yaml:"latency_samples"`
	LatencyThresholdMs      float64       `yaml:"latency_threshold_ms"`
	ThroughputThresholdKBps float64       `yaml:"throughput_threshold_kbps"`
}

// TerminalConfig describes one HTTP-attached payment terminal.
type TerminalConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	AutomationKey  string        `yaml:"automation_key"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Timeout        time.Duration `yaml:"-"`
}

// PixConfig holds the push-payment (QR) configuration.
type PixConfig struct {
	PollIntervalSeconds int           `yaml:"poll_interval_seconds"`
	PollInterval        time.Duration `yaml:"-"`
	WindowSeconds       int           `yaml:"window_seconds"`
	Window              time.Duration `yaml:"-"`
	ExpirySeconds       int           `yaml:"expiry_seconds"`
}

// PaymentConfig holds the payment backend configuration.
type PaymentConfig struct {
	LocalTerminal  TerminalConfig `yaml:"local_terminal"`
	RemoteTerminal TerminalConfig `yaml:"remote_terminal"`
	Pix            PixConfig      `yaml:"pix"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the alert worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
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

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}

	if cfg.Monitor.IntervalSeconds <= 0 {
		cfg.Monitor.IntervalSeconds = 30
	}
	if cfg.Monitor.ProbeTimeoutSeconds <= 0 {
		cfg.Monitor.ProbeTimeoutSeconds = 5
	}
	if cfg.Monitor.StalenessMinutes <= 0 {
		cfg.Monitor.StalenessMinutes = 5
	}
	if cfg.Monitor.HeartbeatIntervalSeconds <= 0 {
		cfg.Monitor.HeartbeatIntervalSeconds = 30
	}
	cfg.Monitor.Interval = time.Duration(cfg.Monitor.IntervalSeconds) * time.Second
	cfg.Monitor.ProbeTimeout = time.Duration(cfg.Monitor.ProbeTimeoutSeconds) * time.Second
	cfg.Monitor.Staleness = time.Duration(cfg.Monitor.StalenessMinutes) * time.Minute

	if cfg.Balancer.MaxMachinesPerNode <= 0 {
		cfg.Balancer.MaxMachinesPerNode = 4
	}
	if cfg.Balancer.NotifyTimeoutSeconds <= 0 {
		cfg.Balancer.NotifyTimeoutSeconds = 3
	}
	cfg.Balancer.NotifyTimeout = time.Duration(cfg.Balancer.NotifyTimeoutSeconds) * time.Second

	if cfg.NetworkTest.ProbeTimeoutSeconds <= 0 {
		cfg.NetworkTest.ProbeTimeoutSeconds = 5
	}
	if cfg.NetworkTest.LatencySamples <= 0 {
		cfg.NetworkTest.LatencySamples = 5
	}
	if cfg.NetworkTest.LatencyThresholdMs <= 0 {
		cfg.NetworkTest.LatencyThresholdMs = 100
	}
	if cfg.NetworkTest.ThroughputThresholdKBps <= 0 {
		cfg.NetworkTest.ThroughputThresholdKBps = 200
	}
	cfg.NetworkTest.ProbeTimeout = time.Duration(cfg.NetworkTest.ProbeTimeoutSeconds) * time.Second

	applyTerminalDefaults(&cfg.Payment.LocalTerminal, 8080)
	applyTerminalDefaults(&cfg.Payment.RemoteTerminal, 8081)

	if cfg.Payment.Pix.PollIntervalSeconds <= 0 {
		cfg.Payment.Pix.PollIntervalSeconds = 5
	}
	if cfg.Payment.Pix.WindowSeconds <= 0 {
		cfg.Payment.Pix.WindowSeconds = 300
	}
	if cfg.Payment.Pix.ExpirySeconds <= 0 {
		cfg.Payment.Pix.ExpirySeconds = 300
	}
	cfg.Payment.Pix.PollInterval = time.Duration(cfg.Payment.Pix.PollIntervalSeconds) * time.Second
	cfg.Payment.Pix.Window = time.Duration(cfg.Payment.Pix.WindowSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
}

func applyTerminalDefaults(t *TerminalConfig, defaultPort int) {
	if t.Host == "" {
		t.Host = "localhost"
	}
	if t.Port <= 0 {
		t.Port = defaultPort
	}
	if t.TimeoutSeconds <= 0 {
		t.TimeoutSeconds = 10
	}
	t.Timeout = time.Duration(t.TimeoutSeconds) * time.Second
}
