package config

import "fmt"

// VectorConfig selects and configures the vector store backend.
type VectorConfig struct {
	// Type is one of chromem, qdrant, pinecone.
	Type string `yaml:"type" json:"type"`

	Chromem  *ChromemConfig  `yaml:"chromem,omitempty" json:"chromem,omitempty"`
	Qdrant   *QdrantConfig   `yaml:"qdrant,omitempty" json:"qdrant,omitempty"`
	Pinecone *PineconeConfig `yaml:"pinecone,omitempty" json:"pinecone,omitempty"`

	// TimeoutSeconds bounds every vector query.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	// PersistPath enables file persistence; empty keeps vectors in memory.
	PersistPath string `yaml:"persist_path,omitempty" json:"persist_path,omitempty"`
	Compress    bool   `yaml:"compress,omitempty" json:"compress,omitempty"`
}

// QdrantConfig configures a Qdrant backend.
type QdrantConfig struct {
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	UseTLS bool   `yaml:"use_tls,omitempty" json:"use_tls,omitempty"`
}

// PineconeConfig configures a Pinecone backend.
type PineconeConfig struct {
	APIKey    string `yaml:"api_key" json:"api_key"`
	IndexHost string `yaml:"index_host" json:"index_host"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
}

func (c *VectorConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
	if c.Type == "chromem" && c.Chromem == nil {
		c.Chromem = &ChromemConfig{}
	}
	if c.Qdrant != nil && c.Qdrant.Port == 0 {
		c.Qdrant.Port = 6334
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 5
	}
}

func (c *VectorConfig) Validate() error {
	switch c.Type {
	case "chromem":
		return nil
	case "qdrant":
		if c.Qdrant == nil {
			return fmt.Errorf("qdrant configuration is required")
		}
		if c.Qdrant.Host == "" {
			return fmt.Errorf("qdrant host is required")
		}
		return nil
	case "pinecone":
		if c.Pinecone == nil {
			return fmt.Errorf("pinecone configuration is required")
		}
		if c.Pinecone.APIKey == "" {
			return fmt.Errorf("pinecone api_key is required")
		}
		if c.Pinecone.IndexHost == "" {
			return fmt.Errorf("pinecone index_host is required")
		}
		return nil
	default:
		return fmt.Errorf("unsupported vector type: %s (supported: chromem, qdrant, pinecone)", c.Type)
	}
}
