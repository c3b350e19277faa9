package vector

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryProvider is a brute-force in-memory provider used by tests.
type MemoryProvider struct {
	mu          sync.RWMutex
	collections map[string]map[string]memoryDoc
}

type memoryDoc struct {
	vector   []float32
	metadata map[string]any
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		collections: make(map[string]map[string]memoryDoc),
	}
}

func (p *MemoryProvider) Name() string {
	return "memory"
}

func (p *MemoryProvider) Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.collections[collection] == nil {
		p.collections[collection] = make(map[string]memoryDoc)
	}
	p.collections[collection][id] = memoryDoc{vector: vector, metadata: metadata}
	return nil
}

func (p *MemoryProvider) Search(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var results []Result
	for id, doc := range p.collections[collection] {
		if !Match(filter, doc.metadata) {
			continue
		}
		results = append(results, Result{
			ID:       id,
			Score:    cosineSimilarity(vector, doc.vector),
			Metadata: doc.metadata,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (p *MemoryProvider) Delete(ctx context.Context, collection string, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.collections[collection], id)
	return nil
}

func (p *MemoryProvider) Close() error {
	return nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
