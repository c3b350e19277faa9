package config

import "fmt"

// CapabilityConfig is one declarative row of the capability catalog.
// Adding a capability is a pure data change; understanding and decision
// never need code changes for a new row.
type CapabilityConfig struct {
	// Name is filled from the map key when omitted.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	PrimaryKeywords   []string `yaml:"primary_keywords,omitempty" json:"primary_keywords,omitempty"`
	SecondaryKeywords []string `yaml:"secondary_keywords,omitempty" json:"secondary_keywords,omitempty"`
	NegativeKeywords  []string `yaml:"negative_keywords,omitempty" json:"negative_keywords,omitempty"`
	IntentHints       []string `yaml:"intent_hints,omitempty" json:"intent_hints,omitempty"`

	// RiskLevel is one of LOW, MEDIUM, HIGH, CRITICAL.
	RiskLevel string `yaml:"risk_level" json:"risk_level"`

	RequiresConfirmation bool `yaml:"requires_confirmation,omitempty" json:"requires_confirmation,omitempty"`
	Dangerous            bool `yaml:"dangerous,omitempty" json:"dangerous,omitempty"`

	// Handler is the binding name resolved at registration time.
	Handler string `yaml:"handler" json:"handler"`
}

func (c *CapabilityConfig) SetDefaults(name string) {
	if c.Name == "" {
		c.Name = name
	}
	if c.RiskLevel == "" {
		c.RiskLevel = "LOW"
	}
	if c.Handler == "" {
		c.Handler = c.Name
	}
}

func (c *CapabilityConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c *CapabilityConfig) Validate() error {
	switch c.RiskLevel {
	case "LOW", "MEDIUM", "HIGH", "CRITICAL":
	default:
		return fmt.Errorf("invalid risk_level: %s", c.RiskLevel)
	}
	if c.Handler == "" {
		return fmt.Errorf("handler is required")
	}
	return nil
}
