package llms

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerProvider wraps a Provider with a circuit breaker. An open circuit
// fails fast so the pipeline can degrade to keyword-only understanding or
// an honest refusal instead of stacking timeouts.
type BreakerProvider struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker
}

type generateResult struct {
	text   string
	tokens int
}

// NewBreakerProvider wraps the provider. threshold is the number of
// consecutive failures before the circuit opens.
func NewBreakerProvider(inner Provider, threshold int) *BreakerProvider {
	if threshold <= 0 {
		threshold = 5
	}

	settings := gobreaker.Settings{
		Name:    "llm-" + inner.ModelName(),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
	}

	return &BreakerProvider{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (p *BreakerProvider) Generate(ctx context.Context, messages []Message) (string, int, error) {
	return p.execute(ctx, messages, p.inner.Generate)
}

func (p *BreakerProvider) GenerateJSON(ctx context.Context, messages []Message) (string, int, error) {
	return p.execute(ctx, messages, p.inner.GenerateJSON)
}

func (p *BreakerProvider) execute(ctx context.Context, messages []Message, call func(context.Context, []Message) (string, int, error)) (string, int, error) {
	out, err := p.breaker.Execute(func() (interface{}, error) {
		text, tokens, err := call(ctx, messages)
		if err != nil {
			return nil, err
		}
		return generateResult{text: text, tokens: tokens}, nil
	})
	if err != nil {
		return "", 0, fmt.Errorf("llm call failed: %w", err)
	}

	res := out.(generateResult)
	return res.text, res.tokens, nil
}

func (p *BreakerProvider) ModelName() string {
	return p.inner.ModelName()
}

func (p *BreakerProvider) Close() error {
	return p.inner.Close()
}
