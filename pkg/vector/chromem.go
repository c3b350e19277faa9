package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/kokoro-ai/kokoro/pkg/config"
)

// ChromemProvider implements Provider using chromem-go for embedded vector
// storage. Zero-config: pure Go, optional file persistence. chromem only
// supports flat equality filters server-side, so composite filters are
// evaluated here after an over-fetch.
type ChromemProvider struct {
	db          *chromem.DB
	persistPath string
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// overFetchFactor compensates for post-filtering dropping hits.
const overFetchFactor = 4

func NewChromemProvider(cfg *config.ChromemConfig) (*ChromemProvider, error) {
	var db *chromem.DB
	var err error

	if cfg != nil && cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}
		dbPath := cfg.PersistPath + "/vectors.gob"
		if cfg.Compress {
			dbPath += ".gz"
		}
		if _, statErr := os.Stat(dbPath); statErr == nil {
			db, err = chromem.NewPersistentDB(dbPath, cfg.Compress)
			if err != nil {
				slog.Warn("Failed to load existing vector database, creating new",
					"path", dbPath,
					"error", err)
				db = chromem.NewDB()
			}
		} else {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
		slog.Info("Created in-memory vector database (no persistence)")
	}

	persistPath := ""
	if cfg != nil {
		persistPath = cfg.PersistPath
	}

	return &ChromemProvider{
		db:          db,
		persistPath: persistPath,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (p *ChromemProvider) Name() string {
	return "chromem"
}

func (p *ChromemProvider) getCollection(name string) (*chromem.Collection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.collections[name]; ok {
		return c, nil
	}

	// Identity embedding function: vectors are pre-computed by the
	// embedder package.
	identity := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function called but vectors are pre-computed")
	}

	c, err := p.db.GetOrCreateCollection(name, nil, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection %s: %w", name, err)
	}
	p.collections[name] = c
	return c, nil
}

func (p *ChromemProvider) Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error {
	c, err := p.getCollection(collection)
	if err != nil {
		return err
	}

	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = fmt.Sprintf("%v", v)
	}

	doc := chromem.Document{
		ID:        id,
		Embedding: vector,
		Metadata:  meta,
	}
	if content, ok := metadata["content"].(string); ok {
		doc.Content = content
	}

	if err := c.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to add document %s: %w", id, err)
	}
	return nil
}

func (p *ChromemProvider) Search(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]Result, error) {
	c, err := p.getCollection(collection)
	if err != nil {
		return nil, err
	}

	count := c.Count()
	if count == 0 {
		return nil, nil
	}

	fetch := topK
	if filter != nil {
		fetch = topK * overFetchFactor
	}
	if fetch > count {
		fetch = count
	}

	hits, err := c.QueryEmbedding(ctx, vector, fetch, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	results := make([]Result, 0, topK)
	for _, hit := range hits {
		meta := make(map[string]any, len(hit.Metadata))
		for k, v := range hit.Metadata {
			meta[k] = v
		}
		if !Match(filter, meta) {
			continue
		}
		results = append(results, Result{
			ID:       hit.ID,
			Score:    hit.Similarity,
			Metadata: meta,
		})
		if len(results) >= topK {
			break
		}
	}

	return results, nil
}

func (p *ChromemProvider) Delete(ctx context.Context, collection string, id string) error {
	c, err := p.getCollection(collection)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

func (p *ChromemProvider) Close() error {
	return nil
}
