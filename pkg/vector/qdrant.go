package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kokoro-ai/kokoro/pkg/config"
)

// QdrantProvider implements Provider using the Qdrant vector database.
// Filters translate natively: And → must, Or → should, In → keyword match.
type QdrantProvider struct {
	client *qdrant.Client
}

func NewQdrantProvider(cfg *config.QdrantConfig) (*QdrantProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("qdrant config is required")
	}

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client for %s:%d: %w", host, port, err)
	}

	return &QdrantProvider{client: client}, nil
}

func (p *QdrantProvider) Name() string {
	return "qdrant"
}

func (p *QdrantProvider) Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error {
	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		err = p.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(len(vector)),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}

	payload := make(map[string]*qdrant.Value)
	for key, value := range metadata {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return fmt.Errorf("failed to convert metadata value for key %s: %w", key, err)
		}
		payload[key] = val
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(id),
		Vectors: qdrant.NewVectors(vector...),
		Payload: payload,
	}

	_, err = p.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}

func (p *QdrantProvider) Search(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]Result, error) {
	searchRequest := &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	if filter != nil {
		searchRequest.Filter = toQdrantFilter(filter)
	}

	pointsClient := p.client.GetPointsClient()
	searchResult, err := pointsClient.Search(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	results := make([]Result, 0, len(searchResult.Result))
	for _, hit := range searchResult.Result {
		meta := make(map[string]any, len(hit.Payload))
		for k, v := range hit.Payload {
			meta[k] = qdrantValueToAny(v)
		}

		id := ""
		if uid := hit.Id.GetUuid(); uid != "" {
			id = uid
		} else {
			id = fmt.Sprintf("%d", hit.Id.GetNum())
		}

		results = append(results, Result{
			ID:       id,
			Score:    hit.Score,
			Metadata: meta,
		})
	}
	return results, nil
}

func (p *QdrantProvider) Delete(ctx context.Context, collection string, id string) error {
	deletePoints := &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{
						{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id}},
					},
				},
			},
		},
	}
	if _, err := p.client.Delete(ctx, deletePoints); err != nil {
		return fmt.Errorf("failed to delete point %s: %w", id, err)
	}
	return nil
}

func (p *QdrantProvider) Close() error {
	return p.client.Close()
}

func toQdrantFilter(f Filter) *qdrant.Filter {
	switch v := f.(type) {
	case Eq:
		return &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch(v.Field, fmt.Sprintf("%v", v.Value)),
			},
		}
	case In:
		keywords := make([]string, 0, len(v.Values))
		for _, val := range v.Values {
			keywords = append(keywords, fmt.Sprintf("%v", val))
		}
		return &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchKeywords(v.Field, keywords...),
			},
		}
	case And:
		must := make([]*qdrant.Condition, 0, len(v.Clauses))
		for _, c := range v.Clauses {
			must = append(must, filterAsCondition(toQdrantFilter(c)))
		}
		return &qdrant.Filter{Must: must}
	case Or:
		should := make([]*qdrant.Condition, 0, len(v.Clauses))
		for _, c := range v.Clauses {
			should = append(should, filterAsCondition(toQdrantFilter(c)))
		}
		return &qdrant.Filter{Should: should}
	default:
		return nil
	}
}

func filterAsCondition(f *qdrant.Filter) *qdrant.Condition {
	// Unwrap single-condition filters to avoid needless nesting.
	if len(f.Must) == 1 && len(f.Should) == 0 && len(f.MustNot) == 0 {
		return f.Must[0]
	}
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Filter{Filter: f},
	}
}

func qdrantValueToAny(v *qdrant.Value) any {
	switch kind := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return v.String()
	}
}
