package main

import (
	"fmt"
	"os"

	"github.com/anvil-works/protostore/core/migrate"
	"gopkg.in/yaml.v3"
)

// Config drives one bootstrap run. All paths are relative to the working
// directory unless absolute.
type Config struct {
	// Driver selects the dialect: "sqlite3" or "mysql".
	Driver string `yaml:"driver"`
	// DSN is the database connection string for the selected driver.
	DSN string `yaml:"dsn"`
	// DescriptorSet is the path to a compiled FileDescriptorSet (protoc
	// --descriptor_set_out) that defines the record kinds.
	DescriptorSet string `yaml:"descriptor_set"`
	// Snapshot is the path to the legacy SQL dump to replay. Optional; when
	// empty only schema reconciliation runs.
	Snapshot string `yaml:"snapshot"`
	// Policy configures the migration resolver.
	Policy migrate.Policy `yaml:"policy"`
	// Verbose switches the logger to development output at debug level.
	Verbose bool `yaml:"verbose"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := &Config{Policy: migrate.DefaultPolicy()}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Driver {
	case "sqlite3", "mysql":
	case "":
		return fmt.Errorf("config: driver is required")
	default:
		return fmt.Errorf("config: unsupported driver %q", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("config: dsn is required")
	}
	if c.DescriptorSet == "" {
		return fmt.Errorf("config: descriptor_set is required")
	}
	return nil
}
