package config

import (
	"fmt"
	"os"
	"time"

	"github.com/forgeline/latentpool/types"
	"gopkg.in/yaml.v3"
)

// Config represents the main configuration
type Config struct {
	Version  string                      `yaml:"version"`
	Provider string                      `yaml:"provider"`
	Region   string                      `yaml:"region"`
	Defaults Defaults                    `yaml:"defaults,omitempty"`
	Workers  map[string]types.WorkerSpec `yaml:"workers,omitempty"`
	Reaper   Reaper                      `yaml:"reaper,omitempty"`
	Paths    Paths                       `yaml:"paths,omitempty"`
	OTEL     OTEL                        `yaml:"otel,omitempty"`
}

// Defaults holds deployment-wide substitutes for worker fields left
// empty in individual specs.
type Defaults struct {
	KeypairName  string `yaml:"keypair_name,omitempty"`
	SecurityName string `yaml:"security_name,omitempty"`
}

// Reaper controls idle worker reclamation.
type Reaper struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval,omitempty"`
	IdleTimeout time.Duration `yaml:"idle_timeout,omitempty"`
}

// Paths holds on-disk state locations.
type Paths struct {
	Journal  string `yaml:"journal,omitempty"`
	Registry string `yaml:"registry,omitempty"`
	Policies string `yaml:"policies,omitempty"`
}

// OTEL configures telemetry export.
type OTEL struct {
	Endpoint    string `yaml:"endpoint,omitempty"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// LoadConfig loads configuration from file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Validate ensures config has required fields
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}
	for name, worker := range c.Workers {
		if worker.Name != "" && worker.Name != name {
			return fmt.Errorf("worker %s declares conflicting name %s", name, worker.Name)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Reaper.Interval == 0 {
		c.Reaper.Interval = time.Minute
	}
	if c.Reaper.IdleTimeout == 0 {
		c.Reaper.IdleTimeout = 10 * time.Minute
	}
	if c.Paths.Journal == "" {
		c.Paths.Journal = "/var/lib/latentpool/journal"
	}
	if c.Paths.Registry == "" {
		c.Paths.Registry = "/var/lib/latentpool/state"
	}
	if c.OTEL.MetricsAddr == "" {
		c.OTEL.MetricsAddr = ":9464"
	}

	// Map keys double as worker names.
	for name, worker := range c.Workers {
		if worker.Name == "" {
			worker.Name = name
			c.Workers[name] = worker
		}
	}
}

// Worker returns a named worker spec.
func (c *Config) Worker(name string) (types.WorkerSpec, error) {
	worker, ok := c.Workers[name]
	if !ok {
		return types.WorkerSpec{}, fmt.Errorf("no worker named %s in config", name)
	}
	return worker, nil
}
