// Package config handles exercise-orchestrator configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// searchPathsFunc is overridable in tests to avoid picking up real
// config files on developer/deploy machines.
var searchPathsFunc = DefaultSearchPaths

// DefaultSearchPaths returns the config file search order. An
// explicit path (from -config flag) is checked first by FindConfig.
// Then: ./config.yaml, ~/.config/exercise-orchestrator/config.yaml,
// the container convention /config/config.yaml, and
// /etc/exercise-orchestrator/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "exercise-orchestrator", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/exercise-orchestrator/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise searches searchPathsFunc() and returns the first
// path that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds all exercise-orchestrator configuration.
type Config struct {
	Listen        ListenConfig `yaml:"listen"`
	ScenariosRoot string       `yaml:"scenarios_root"`
	MQTT          MQTTConfig   `yaml:"mqtt"`
	Redis         RedisConfig  `yaml:"redis"`
	Docker        DockerConfig `yaml:"docker"`
	IQ            IQConfig     `yaml:"iq"`
	LogLevel      string       `yaml:"log_level"`
}

// ListenConfig defines the control surface's HTTP bind settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// MQTTConfig defines the MessageBus broker connection (C1).
type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url"` // e.g. "mqtt://localhost:1883"
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// RedisConfig defines the StatusStore backing connection (C2).
type RedisConfig struct {
	Address  string `yaml:"address"` // host:port
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DockerConfig defines the container Launcher connection (C3).
type DockerConfig struct {
	Host    string `yaml:"host"` // hostname used in launched workers' URLs; the daemon connection always comes from the environment (DOCKER_HOST or the local socket)
	Network string `yaml:"network"`
}

// IQConfig defines defaults for the IQ streaming core (C7-C9).
type IQConfig struct {
	DefaultSampleRate int    `yaml:"default_sample_rate"`
	RTLListenAddress  string `yaml:"rtl_listen_address"` // e.g. "0.0.0.0:1234"
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${REDIS_PASSWORD}) — a
	// convenience for container deployments; the recommended approach
	// is still to put non-secret values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any
// field without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.ScenariosRoot == "" {
		c.ScenariosRoot = "./scenarios"
	}
	if c.MQTT.BrokerURL == "" {
		c.MQTT.BrokerURL = "mqtt://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "exercise-orchestrator"
	}
	if c.Redis.Address == "" {
		c.Redis.Address = "localhost:6379"
	}
	if c.IQ.DefaultSampleRate == 0 {
		c.IQ.DefaultSampleRate = 2_000_000
	}
	if c.IQ.RTLListenAddress == "" {
		c.IQ.RTLListenAddress = "0.0.0.0:1234"
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db %d must not be negative", c.Redis.DB)
	}
	if c.IQ.DefaultSampleRate <= 0 {
		return fmt.Errorf("iq.default_sample_rate %d must be positive", c.IQ.DefaultSampleRate)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for local
// development against a broker and Redis on localhost. All defaults
// are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
