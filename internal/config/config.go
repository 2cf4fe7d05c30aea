// Package config loads the YAML configuration for a log-server process,
// mirroring the teacher's internal/config/config.go structure (nested
// structs, yaml tags, LoadConfig/setDefaults/Validate).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds this process's own identity and listen configuration.
type ServerConfig struct {
	NodeID          string        `yaml:"node_id"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MembershipConfig holds gossip-based log-server liveness tracking
// configuration, passed straight through to membership.Config.
type MembershipConfig struct {
	BindPort       int           `yaml:"bind_port"`
	SeedNodes      []string      `yaml:"seed_nodes"`
	GossipInterval time.Duration `yaml:"gossip_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

// LogSetConfig describes one replication group's static shape: which
// servers belong to it, the replication policy to enforce, and its
// locality (spec §3/§4.1).
type LogSetConfig struct {
	ServerIDs         []string `yaml:"server_ids"`
	ReplicationFactor int      `yaml:"replication_factor"`
	AntiQuorum        int      `yaml:"anti_quorum"`
	Locality          int      `yaml:"locality"`
	IsLocal           bool     `yaml:"is_local"`

	// Policy selects the replication policy: "any_n" (uses Count) or
	// "across_zones" (uses Count and Zones over ZoneKey).
	Policy  string `yaml:"policy"`
	Count   int    `yaml:"count"`
	Zones   int    `yaml:"zones"`
	ZoneKey string `yaml:"zone_key"`

	HasBestPolicy bool `yaml:"has_best_policy"`
}

// PushConfig tunes the push/commit path (spec §4.2).
type PushConfig struct {
	RouterTagCount  int           `yaml:"router_tag_count"`
	PushTimeout     time.Duration `yaml:"push_timeout"`
	ParallelGetMore bool          `yaml:"parallel_get_more"`
}

// MetricsConfig holds Prometheus exposition configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds zap logger configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the complete configuration for a txlogd process.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Membership MembershipConfig  `yaml:"membership"`
	LogSets    []LogSetConfig    `yaml:"log_sets"`
	Push       PushConfig        `yaml:"push"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file at filePath.
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

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 4800
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Membership.BindPort == 0 {
		cfg.Membership.BindPort = 7946
	}
	if cfg.Membership.GossipInterval == 0 {
		cfg.Membership.GossipInterval = 200 * time.Millisecond
	}
	if cfg.Membership.ProbeTimeout == 0 {
		cfg.Membership.ProbeTimeout = 500 * time.Millisecond
	}
	if cfg.Membership.ProbeInterval == 0 {
		cfg.Membership.ProbeInterval = time.Second
	}

	for i := range cfg.LogSets {
		ls := &cfg.LogSets[i]
		if ls.Policy == "" {
			ls.Policy = "any_n"
		}
		if ls.Count == 0 {
			ls.Count = ls.ReplicationFactor - ls.AntiQuorum
		}
	}

	if cfg.Push.RouterTagCount == 0 {
		cfg.Push.RouterTagCount = 1
	}
	if cfg.Push.PushTimeout == 0 {
		cfg.Push.PushTimeout = 5 * time.Second
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

// Validate checks invariants spec §3/§7 require to hold before this
// configuration is used to build any log set: a violation here is a
// configuration error, caught before it becomes the fatal runtime
// invariant txerr.FatalInvariant exists to guard against.
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if len(c.LogSets) == 0 {
		return fmt.Errorf("at least one log_sets entry is required")
	}
	for i, ls := range c.LogSets {
		if ls.ReplicationFactor < 1 {
			return fmt.Errorf("log_sets[%d].replication_factor must be >= 1", i)
		}
		if ls.AntiQuorum < 0 || ls.AntiQuorum >= ls.ReplicationFactor {
			return fmt.Errorf("log_sets[%d].anti_quorum must satisfy 0 <= anti_quorum < replication_factor", i)
		}
		if len(ls.ServerIDs) < ls.ReplicationFactor {
			return fmt.Errorf("log_sets[%d].server_ids has fewer entries than replication_factor", i)
		}
		if ls.Policy == "across_zones" && ls.ZoneKey == "" {
			return fmt.Errorf("log_sets[%d].zone_key is required for the across_zones policy", i)
		}
	}
	return nil
}
