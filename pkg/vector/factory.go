package vector

import (
	"fmt"

	"github.com/kokoro-ai/kokoro/pkg/config"
)

// CreateProvider builds a vector provider from config.
func CreateProvider(cfg *config.VectorConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vector config cannot be nil")
	}

	switch cfg.Type {
	case "chromem":
		return NewChromemProvider(cfg.Chromem)
	case "qdrant":
		return NewQdrantProvider(cfg.Qdrant)
	case "pinecone":
		return NewPineconeProvider(cfg.Pinecone)
	default:
		return nil, fmt.Errorf("unsupported vector type: %s (supported: chromem, qdrant, pinecone)", cfg.Type)
	}
}
