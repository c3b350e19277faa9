package config

import "fmt"

// LLMProviderConfig configures one named LLM provider.
type LLMProviderConfig struct {
	// Type is one of openai, gemini.
	Type string `yaml:"type" json:"type"`

	Model   string `yaml:"model" json:"model"`
	APIKey  string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	MaxTokens      int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature    float64 `yaml:"temperature" json:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds" json:"timeout_seconds"`

	// Breaker settings; consecutive failures before the circuit opens.
	BreakerThreshold int `yaml:"breaker_threshold" json:"breaker_threshold"`
}

func (c *LLMProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Model == "" {
		switch c.Type {
		case "gemini":
			c.Model = "gemini-2.0-flash"
		default:
			c.Model = "gpt-4o-mini"
		}
	}
	if c.BaseURL == "" && c.Type == "openai" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 10
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = 5
	}
}

func (c *LLMProviderConfig) Validate() error {
	switch c.Type {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unsupported LLM type: %s (supported: openai, gemini)", c.Type)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be in [0, 2], got %f", c.Temperature)
	}
	return nil
}

// EmbedderConfig configures the embedding provider used by knowledge
// retrieval and episodic recall.
type EmbedderConfig struct {
	// Type is one of openai, ollama.
	Type string `yaml:"type" json:"type"`

	Model     string `yaml:"model" json:"model"`
	APIKey    string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Dimension int    `yaml:"dimension" json:"dimension"`

	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "ollama"
	}
	if c.Model == "" {
		switch c.Type {
		case "openai":
			c.Model = "text-embedding-3-small"
		default:
			c.Model = "nomic-embed-text"
		}
	}
	if c.BaseURL == "" {
		switch c.Type {
		case "openai":
			c.BaseURL = "https://api.openai.com/v1"
		default:
			c.BaseURL = "http://localhost:11434"
		}
	}
	if c.Dimension == 0 {
		switch c.Type {
		case "openai":
			c.Dimension = 1536
		default:
			c.Dimension = 768
		}
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
}

func (c *EmbedderConfig) Validate() error {
	switch c.Type {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unsupported embedder type: %s (supported: openai, ollama)", c.Type)
	}
	if c.Type == "openai" && c.APIKey == "" {
		return fmt.Errorf("api_key is required for openai embedder")
	}
	return nil
}
