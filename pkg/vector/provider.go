// Package vector abstracts the vector store behind a small provider
// interface with a store-agnostic metadata filter grammar.
package vector

import "context"

// Result is one vector search hit.
type Result struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Provider is the vector store interface. Implementations must apply the
// filter server-side where the backend supports it, and post-filter
// otherwise; a hit violating the filter must never be returned.
type Provider interface {
	Name() string

	Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error

	Search(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]Result, error)

	Delete(ctx context.Context, collection string, id string) error

	Close() error
}
