// Package config provides configuration management for the fmodel CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverBolt     = "bolt"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents the fmodel CLI configuration
type Config struct {
	// Version of the config file format
	Version string `yaml:"version"`

	// Project configuration
	Project ProjectConfig `yaml:"project"`

	// Store configuration
	Store StoreConfig `yaml:"store"`

	// Serializer is the event payload format (json, msgpack)
	Serializer string `yaml:"serializer" env:"FMODEL_SERIALIZER"`

	// Log configuration
	Log LogConfig `yaml:"log"`

	// Kafka relay configuration
	Kafka KafkaConfig `yaml:"kafka"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics"`
}

// ProjectConfig contains project-level settings
type ProjectConfig struct {
	// Name of the project, used as the service name of metrics and traces
	Name string `yaml:"name" env:"FMODEL_PROJECT_NAME"`
}

// StoreConfig contains event store connection settings
type StoreConfig struct {
	// Driver is the store driver (memory, bolt, sqlite, postgres)
	Driver string `yaml:"driver" env:"FMODEL_STORE_DRIVER"`

	// Path is the database file of the bolt and sqlite drivers
	Path string `yaml:"path,omitempty" env:"FMODEL_STORE_PATH"`

	// URL is the postgres connection string
	URL string `yaml:"url,omitempty" env:"FMODEL_DATABASE_URL"`

	// Schema is the postgres schema to use
	Schema string `yaml:"schema,omitempty" env:"FMODEL_STORE_SCHEMA"`
}

// LogConfig contains logging settings
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `yaml:"level" env:"FMODEL_LOG_LEVEL"`

	// Format is text or json
	Format string `yaml:"format" env:"FMODEL_LOG_FORMAT"`
}

// KafkaConfig contains the event relay settings
type KafkaConfig struct {
	// Brokers are the broker addresses. Empty disables the relay.
	Brokers []string `yaml:"brokers,omitempty" env:"FMODEL_KAFKA_BROKERS" envSeparator:","`

	// Topic receives every relayed event
	Topic string `yaml:"topic" env:"FMODEL_KAFKA_TOPIC"`
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	// Namespace prefixes every metric name
	Namespace string `yaml:"namespace" env:"FMODEL_METRICS_NAMESPACE"`

	// Addr is the listen address of the /metrics endpoint. Empty disables it.
	Addr string `yaml:"addr,omitempty" env:"FMODEL_METRICS_ADDR"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Project: ProjectConfig{
			Name: "fmodel",
		},
		Store: StoreConfig{
			Driver: DriverBolt,
			Path:   "fmodel.db",
			Schema: "fmodel",
		},
		Serializer: "json",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Kafka: KafkaConfig{
			Topic: "fmodel-events",
		},
		Metrics: MetricsConfig{
			Namespace: "fmodel",
		},
	}
}

// ConfigFileName is the default config file name
const ConfigFileName = "fmodel.yaml"

// Load loads configuration from the specified directory
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path. Values missing from
// the file keep their defaults and FMODEL_* environment variables override both.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overrides fields from FMODEL_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Save saves the configuration to the specified directory
func (c *Config) Save(dir string) error {
	path := filepath.Join(dir, ConfigFileName)
	return c.SaveFile(path)
}

// SaveFile saves the configuration to a specific file path
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// Exists checks if a config file exists in the directory
func Exists(dir string) bool {
	path := filepath.Join(dir, ConfigFileName)
	_, err := os.Stat(path)
	return err == nil
}

// FindConfig searches for a config file starting from dir and going up
func FindConfig(dir string) (string, *Config, error) {
	current := dir
	for {
		configPath := filepath.Join(current, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			cfg, err := LoadFile(configPath)
			if err != nil {
				return "", nil, err
			}
			return current, cfg, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", nil, os.ErrNotExist
		}
		current = parent
	}
}

// Validate validates the configuration
func (c *Config) Validate() []string {
	var errors []string

	if c.Project.Name == "" {
		errors = append(errors, "project.name is required")
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverBolt, DriverSQLite:
		if c.Store.Path == "" {
			errors = append(errors, fmt.Sprintf("store.path is required for %s driver", c.Store.Driver))
		}
	case DriverPostgres:
		if c.Store.URL == "" {
			errors = append(errors, "store.url is required for postgres driver")
		}
	case "":
		errors = append(errors, "store.driver is required")
	default:
		errors = append(errors, "store.driver must be one of memory, bolt, sqlite, postgres")
	}

	switch c.Serializer {
	case "json", "msgpack":
	default:
		errors = append(errors, "serializer must be 'json' or 'msgpack'")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, "log.level must be one of debug, info, warn, error")
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, "log.format must be 'text' or 'json'")
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errors = append(errors, "kafka.topic is required when brokers are set")
	}

	return errors
}

// GenerateYAML generates YAML content with comments
func GenerateYAML(cfg *Config) string {
	return `# fmodel configuration file

version: "1"

project:
  # Service name reported in metrics and traces
  name: "` + cfg.Project.Name + `"

store:
  # Driver: memory, bolt, sqlite or postgres
  driver: "` + cfg.Store.Driver + `"

  # Database file (bolt and sqlite)
  path: "` + cfg.Store.Path + `"

  # Connection URL (postgres). FMODEL_DATABASE_URL overrides it.
  url: "` + cfg.Store.URL + `"

  # Database schema (postgres only)
  schema: "` + cfg.Store.Schema + `"

# Event payload format: json or msgpack
serializer: "` + cfg.Serializer + `"

log:
  level: "` + cfg.Log.Level + `"
  format: "` + cfg.Log.Format + `"

kafka:
  # Broker addresses; leave empty to disable the relay
  brokers: []
  topic: "` + cfg.Kafka.Topic + `"

metrics:
  namespace: "` + cfg.Metrics.Namespace + `"
`
}
