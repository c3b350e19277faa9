package llms

import (
	"context"
	"fmt"

	"github.com/kokoro-ai/kokoro/pkg/config"
	"github.com/kokoro-ai/kokoro/pkg/registry"
)

// LLMRegistry holds named providers. The brain resolves the refinement and
// synthesis providers by name, falling back to the default.
type LLMRegistry struct {
	*registry.BaseRegistry[Provider]
	defaultName string
}

func NewLLMRegistry() *LLMRegistry {
	return &LLMRegistry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
	}
}

// InitFromConfig creates and registers every configured provider, each
// wrapped with its circuit breaker.
func (r *LLMRegistry) InitFromConfig(ctx context.Context, llms map[string]*config.LLMProviderConfig, defaultName string) error {
	for name, cfg := range llms {
		provider, err := CreateProvider(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to create LLM provider '%s': %w", name, err)
		}
		wrapped := NewBreakerProvider(provider, cfg.BreakerThreshold)
		if err := r.Replace(name, wrapped); err != nil {
			return err
		}
	}
	r.defaultName = defaultName
	return nil
}

// Default returns the configured default provider, or nil when no LLM is
// configured. Callers must handle nil: the pipeline runs keyword-only
// without a provider.
func (r *LLMRegistry) Default() Provider {
	if r.defaultName == "" {
		return nil
	}
	p, ok := r.Get(r.defaultName)
	if !ok {
		return nil
	}
	return p
}

// CreateProvider builds an unwrapped provider from config.
func CreateProvider(ctx context.Context, cfg *config.LLMProviderConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("LLM config cannot be nil")
	}

	switch cfg.Type {
	case "openai":
		return NewOpenAIProviderFromConfig(cfg)
	case "gemini":
		return NewGeminiProviderFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM type: %s (supported: openai, gemini)", cfg.Type)
	}
}
