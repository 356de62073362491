package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeConfig identifies this replica
type NodeConfig struct {
	DeviceID     string   `yaml:"device_id"`
	DeviceName   string   `yaml:"device_name"`
	Platform     string   `yaml:"platform"`
	Capabilities []string `yaml:"capabilities"`
}

// SyncConfig holds sync manager configuration
type SyncConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MaxDevices        int           `yaml:"max_devices"`
	DispatchWorkers   int           `yaml:"dispatch_workers"`
	DispatchQueueSize int           `yaml:"dispatch_queue_size"`
}

// DeltaConfig holds delta engine configuration
type DeltaConfig struct {
	MaxHistoryCount   int `yaml:"max_history_count"`
	ChunkSize         int `yaml:"chunk_size"`
	ChecksumCacheSize int `yaml:"checksum_cache_size"`
}

// TransportConfig selects and configures the transport adapter
type TransportConfig struct {
	Kind      string        `yaml:"kind"` // loopback, gossip, websocket
	Gossip    GossipConfig  `yaml:"gossip"`
	WebSocket WSConfig      `yaml:"websocket"`
}

// GossipConfig holds memberlist transport configuration
type GossipConfig struct {
	BindPort  int      `yaml:"bind_port"`
	SeedNodes []string `yaml:"seed_nodes"`
}

// WSConfig holds websocket transport configuration
type WSConfig struct {
	HubURL     string `yaml:"hub_url"`     // client mode: hub to dial
	ListenAddr string `yaml:"listen_addr"` // hub mode: address to serve on
}

// StoreConfig holds snapshot store configuration
type StoreConfig struct {
	Backend string `yaml:"backend"` // memory, sqlite
	Path    string `yaml:"path"`
}

// SchedulerConfig holds sync scheduler configuration
type SchedulerConfig struct {
	Interval       time.Duration `yaml:"interval"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	MaxRetries     uint64        `yaml:"max_retries"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete configuration for a sync replica
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Sync      SyncConfig      `yaml:"sync"`
	Delta     DeltaConfig     `yaml:"delta"`
	Transport TransportConfig `yaml:"transport"`
	Store     StoreConfig     `yaml:"store"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Node.Platform == "" {
		cfg.Node.Platform = "linux"
	}

	if cfg.Sync.HeartbeatInterval == 0 {
		cfg.Sync.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Sync.MaxDevices == 0 {
		cfg.Sync.MaxDevices = 16
	}
	if cfg.Sync.DispatchWorkers == 0 {
		cfg.Sync.DispatchWorkers = 4
	}
	if cfg.Sync.DispatchQueueSize == 0 {
		cfg.Sync.DispatchQueueSize = 64
	}

	if cfg.Delta.MaxHistoryCount == 0 {
		cfg.Delta.MaxHistoryCount = 1000
	}
	if cfg.Delta.ChunkSize == 0 {
		cfg.Delta.ChunkSize = 64
	}
	if cfg.Delta.ChecksumCacheSize == 0 {
		cfg.Delta.ChecksumCacheSize = 4096
	}

	if cfg.Transport.Kind == "" {
		cfg.Transport.Kind = "loopback"
	}
	if cfg.Transport.Gossip.BindPort == 0 {
		cfg.Transport.Gossip.BindPort = 7946
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.Backend == "sqlite" && cfg.Store.Path == "" {
		cfg.Store.Path = "driftsync.db"
	}

	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = time.Minute
	}
	if cfg.Scheduler.InitialBackoff == 0 {
		cfg.Scheduler.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.Scheduler.MaxBackoff == 0 {
		cfg.Scheduler.MaxBackoff = 30 * time.Second
	}
	if cfg.Scheduler.MaxRetries == 0 {
		cfg.Scheduler.MaxRetries = 5
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Node.DeviceID == "" {
		return fmt.Errorf("node.device_id is required")
	}

	switch c.Transport.Kind {
	case "loopback", "gossip":
	case "websocket":
		if c.Transport.WebSocket.HubURL == "" && c.Transport.WebSocket.ListenAddr == "" {
			return fmt.Errorf("transport.websocket needs hub_url or listen_addr")
		}
	default:
		return fmt.Errorf("transport.kind must be loopback, gossip, or websocket")
	}

	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("store.backend must be memory or sqlite")
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 0 and 65535")
	}
	return nil
}
