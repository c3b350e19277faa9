// Package config defines the Kokoro configuration model and its loader.
//
// Every section follows the same contract: SetDefaults fills zero values,
// Validate rejects impossible configurations. Validation failures are
// boot-time errors; the server never starts with a half-valid config.
package config

import (
	"fmt"
)

// Config is the root configuration.
type Config struct {
	Server        ServerConfig                 `yaml:"server" json:"server"`
	Database      DatabaseConfig               `yaml:"database" json:"database"`
	Redis         RedisConfig                  `yaml:"redis" json:"redis"`
	Vector        VectorConfig                 `yaml:"vector" json:"vector"`
	Embedder      EmbedderConfig               `yaml:"embedder" json:"embedder"`
	LLMs          map[string]*LLMProviderConfig `yaml:"llms" json:"llms"`
	DefaultLLM    string                       `yaml:"default_llm" json:"default_llm"`
	Brain         BrainConfig                  `yaml:"brain" json:"brain"`
	Capabilities  map[string]*CapabilityConfig `yaml:"capabilities" json:"capabilities"`
	Observability ObservabilityConfig          `yaml:"observability" json:"observability"`
	Logging       LoggingConfig                `yaml:"logging" json:"logging"`
}

// LoggingConfig controls the slog setup.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file,omitempty" json:"file,omitempty"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// ObservabilityConfig controls tracing and metrics.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ServiceName string `yaml:"service_name" json:"service_name"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

func (c *ObservabilityConfig) SetDefaults() {
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "kokoro"
	}
}

// RedisConfig configures the optional redis used for the execution dedup
// window and list-context caching. When Addr is empty the in-process
// fallback is used.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty" json:"addr,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`
}

// SetDefaults applies defaults to all sections.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Database.SetDefaults()
	c.Vector.SetDefaults()
	c.Embedder.SetDefaults()
	c.Brain.SetDefaults()
	c.Observability.SetDefaults()
	c.Logging.SetDefaults()

	for name, llm := range c.LLMs {
		if llm != nil {
			llm.SetDefaults()
		} else {
			delete(c.LLMs, name)
		}
	}
	if c.DefaultLLM == "" && len(c.LLMs) > 0 {
		if _, ok := c.LLMs["default"]; ok {
			c.DefaultLLM = "default"
		}
	}

	for name, cap := range c.Capabilities {
		if cap != nil {
			cap.SetDefaults(name)
		} else {
			delete(c.Capabilities, name)
		}
	}
}

// Validate checks all sections.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Vector.Validate(); err != nil {
		return fmt.Errorf("vector: %w", err)
	}
	if err := c.Embedder.Validate(); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	if err := c.Brain.Validate(); err != nil {
		return fmt.Errorf("brain: %w", err)
	}

	for name, llm := range c.LLMs {
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("llms.%s: %w", name, err)
		}
	}
	if c.DefaultLLM != "" {
		if _, ok := c.LLMs[c.DefaultLLM]; !ok {
			return fmt.Errorf("default_llm '%s' is not defined in llms", c.DefaultLLM)
		}
	}

	for name, cap := range c.Capabilities {
		if err := cap.Validate(); err != nil {
			return fmt.Errorf("capabilities.%s: %w", name, err)
		}
	}

	return nil
}
