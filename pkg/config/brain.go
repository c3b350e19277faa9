package config

import "fmt"

// BrainConfig holds the decision core's feature flags and budgets.
type BrainConfig struct {
	// Enabled is the kill switch. Off answers every message with a
	// "system unavailable" reply without entering the pipeline.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// ExecutionExcellence enables the multi-action planner.
	ExecutionExcellence bool `yaml:"execution_excellence" json:"execution_excellence"`

	// TruthResolver enables priority-based data source selection in
	// memory access (realtime > durable > derived, never guessed).
	TruthResolver bool `yaml:"truth_resolver" json:"truth_resolver"`

	// KnowledgeSynthesis enables LLM synthesis of search hits. Off falls
	// back to extractive answers.
	KnowledgeSynthesis bool `yaml:"knowledge_synthesis" json:"knowledge_synthesis"`

	// LongTermMemory enables episodic recall in the context builder.
	LongTermMemory bool `yaml:"long_term_memory" json:"long_term_memory"`

	// PersonaMemory enables bot persona memory slices.
	PersonaMemory bool `yaml:"persona_memory" json:"persona_memory"`

	// Budgets, in milliseconds unless noted.
	TurnTimeoutSeconds    int `yaml:"turn_timeout_seconds" json:"turn_timeout_seconds"`
	ContextBudgetMillis   int `yaml:"context_budget_millis" json:"context_budget_millis"`
	RefineTimeoutSeconds  int `yaml:"refine_timeout_seconds" json:"refine_timeout_seconds"`
	HandlerTimeoutSeconds int `yaml:"handler_timeout_seconds" json:"handler_timeout_seconds"`

	// MinScoreThreshold is the capability selection floor.
	MinScoreThreshold float64 `yaml:"min_score_threshold" json:"min_score_threshold"`

	// ContinuationMaxRunes is the "short message = continue" heuristic
	// used by the goal-setting interruption check. Locale-tunable.
	ContinuationMaxRunes int `yaml:"continuation_max_runes" json:"continuation_max_runes"`

	// DedupWindowSeconds is the handler idempotency window.
	DedupWindowSeconds int `yaml:"dedup_window_seconds" json:"dedup_window_seconds"`

	// StateTimeoutMinutes is the default multi-step session TTL.
	StateTimeoutMinutes int `yaml:"state_timeout_minutes" json:"state_timeout_minutes"`

	// ListContextTimeoutMinutes is the list-context follow-up TTL.
	ListContextTimeoutMinutes int `yaml:"list_context_timeout_minutes" json:"list_context_timeout_minutes"`
}

// IsEnabled reports the kill switch state; nil means enabled.
func (c *BrainConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c *BrainConfig) SetDefaults() {
	if c.TurnTimeoutSeconds == 0 {
		c.TurnTimeoutSeconds = 60
	}
	if c.ContextBudgetMillis == 0 {
		c.ContextBudgetMillis = 300
	}
	if c.RefineTimeoutSeconds == 0 {
		c.RefineTimeoutSeconds = 10
	}
	if c.HandlerTimeoutSeconds == 0 {
		c.HandlerTimeoutSeconds = 30
	}
	if c.MinScoreThreshold == 0 {
		c.MinScoreThreshold = 0.3
	}
	if c.ContinuationMaxRunes == 0 {
		c.ContinuationMaxRunes = 20
	}
	if c.DedupWindowSeconds == 0 {
		c.DedupWindowSeconds = 5
	}
	if c.StateTimeoutMinutes == 0 {
		c.StateTimeoutMinutes = 30
	}
	if c.ListContextTimeoutMinutes == 0 {
		c.ListContextTimeoutMinutes = 5
	}
}

func (c *BrainConfig) Validate() error {
	if c.MinScoreThreshold < 0 || c.MinScoreThreshold > 1 {
		return fmt.Errorf("min_score_threshold must be in [0, 1], got %f", c.MinScoreThreshold)
	}
	if c.TurnTimeoutSeconds < 1 {
		return fmt.Errorf("turn_timeout_seconds must be positive")
	}
	return nil
}
