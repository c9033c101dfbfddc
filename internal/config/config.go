// Package config loads the platform configuration from YAML with
// sensible defaults and a few environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides where Load looks for the config file.
const EnvConfigPath = "CONCORD_CONFIG"

// Config holds all concord configuration.
type Config struct {
	Name string `yaml:"name"`

	ContextState ContextStateConfig `yaml:"context_state"`
	Registry     RegistryConfig     `yaml:"registry"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Messaging    MessagingConfig    `yaml:"messaging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ContextStateConfig configures the context state manager.
type ContextStateConfig struct {
	CacheTTL string `yaml:"cache_ttl"`
}

// RegistryConfig configures agent health tracking.
type RegistryConfig struct {
	// DemoAgents controls whether run starts the built-in agent set.
	DemoAgents bool `yaml:"demo_agents"`
	// HeartbeatInterval is how often running agents report liveness.
	// Keep it well under the registry's five-minute staleness cutoff.
	HeartbeatInterval string `yaml:"heartbeat_interval"`
}

// OrchestratorConfig configures workflow scheduling.
type OrchestratorConfig struct {
	TickInterval string `yaml:"tick_interval"`
	// WatchDir is scanned for workflow YAML files; empty disables the
	// watcher.
	WatchDir string `yaml:"watch_dir"`
}

// MessagingConfig configures the message router.
type MessagingConfig struct {
	QueueBound int `yaml:"queue_bound"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "concord",
		ContextState: ContextStateConfig{
			CacheTTL: "60s",
		},
		Registry: RegistryConfig{
			DemoAgents:        true,
			HeartbeatInterval: "60s",
		},
		Orchestrator: OrchestratorConfig{
			TickInterval: "1s",
		},
		Messaging: MessagingConfig{
			QueueBound: 128,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file, merged over the defaults.
// A missing file returns the defaults. The CONCORD_CONFIG environment
// variable overrides the path.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if env := os.Getenv(EnvConfigPath); env != "" {
		path = env
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// GetCacheTTL returns the context cache TTL as a duration.
func (c *Config) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.ContextState.CacheTTL)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// GetHeartbeatInterval returns the agent heartbeat interval as a
// duration.
func (c *Config) GetHeartbeatInterval() time.Duration {
	d, err := time.ParseDuration(c.Registry.HeartbeatInterval)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// GetTickInterval returns the orchestrator tick interval as a duration.
func (c *Config) GetTickInterval() time.Duration {
	d, err := time.ParseDuration(c.Orchestrator.TickInterval)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}
