package vector

import (
	"context"
	"fmt"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kokoro-ai/kokoro/pkg/config"
)

// PineconeProvider implements Provider using the Pinecone managed service.
// The filter tree translates to Pinecone's $and/$or/$in metadata filters.
type PineconeProvider struct {
	client    *pinecone.Client
	indexHost string
	namespace string
}

func NewPineconeProvider(cfg *config.PineconeConfig) (*PineconeProvider, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Pinecone")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	return &PineconeProvider{
		client:    client,
		indexHost: cfg.IndexHost,
		namespace: cfg.Namespace,
	}, nil
}

func (p *PineconeProvider) Name() string {
	return "pinecone"
}

func (p *PineconeProvider) connect(ctx context.Context) (*pinecone.IndexConnection, error) {
	conn, err := p.client.Index(pinecone.NewIndexConnParams{
		Host:      p.indexHost,
		Namespace: p.namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index connection: %w", err)
	}
	return conn, nil
}

func (p *PineconeProvider) Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error {
	conn, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	var meta *pinecone.Metadata
	if len(metadata) > 0 {
		meta, err = structpb.NewStruct(metadata)
		if err != nil {
			return fmt.Errorf("failed to convert metadata: %w", err)
		}
	}

	_, err = conn.UpsertVectors(ctx, []*pinecone.Vector{{
		Id:       id,
		Values:   vector,
		Metadata: meta,
	}})
	if err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}
	return nil
}

func (p *PineconeProvider) Search(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]Result, error) {
	conn, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		IncludeMetadata: true,
	}

	if filter != nil {
		metaFilter, err := structpb.NewStruct(toPineconeFilter(filter))
		if err != nil {
			return nil, fmt.Errorf("failed to build metadata filter: %w", err)
		}
		req.MetadataFilter = metaFilter
	}

	resp, err := conn.QueryByVectorValues(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	results := make([]Result, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		meta := map[string]any{}
		if match.Vector != nil && match.Vector.Metadata != nil {
			meta = match.Vector.Metadata.AsMap()
		}
		id := ""
		if match.Vector != nil {
			id = match.Vector.Id
		}
		results = append(results, Result{
			ID:       id,
			Score:    match.Score,
			Metadata: meta,
		})
	}
	return results, nil
}

func (p *PineconeProvider) Delete(ctx context.Context, collection string, id string) error {
	conn, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.DeleteVectorsById(ctx, []string{id}); err != nil {
		return fmt.Errorf("failed to delete vector %s: %w", id, err)
	}
	return nil
}

func (p *PineconeProvider) Close() error {
	return nil
}

func toPineconeFilter(f Filter) map[string]any {
	switch v := f.(type) {
	case Eq:
		return map[string]any{v.Field: map[string]any{"$eq": v.Value}}
	case In:
		return map[string]any{v.Field: map[string]any{"$in": v.Values}}
	case And:
		clauses := make([]any, 0, len(v.Clauses))
		for _, c := range v.Clauses {
			clauses = append(clauses, toPineconeFilter(c))
		}
		return map[string]any{"$and": clauses}
	case Or:
		clauses := make([]any, 0, len(v.Clauses))
		for _, c := range v.Clauses {
			clauses = append(clauses, toPineconeFilter(c))
		}
		return map[string]any{"$or": clauses}
	default:
		return map[string]any{}
	}
}
