package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	meta := map[string]any{
		"classification": "confidential",
		"department_id":  "D1",
		"category":       "hr",
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{
			name:   "nil filter matches everything",
			filter: nil,
			want:   true,
		},
		{
			name:   "eq match",
			filter: Eq{Field: "category", Value: "hr"},
			want:   true,
		},
		{
			name:   "eq mismatch",
			filter: Eq{Field: "category", Value: "it"},
			want:   false,
		},
		{
			name:   "in match",
			filter: In{Field: "classification", Values: []any{"public", "confidential"}},
			want:   true,
		},
		{
			name:   "in empty denies",
			filter: In{Field: "classification", Values: nil},
			want:   false,
		},
		{
			name:   "in missing field denies",
			filter: In{Field: "missing", Values: []any{"x"}},
			want:   false,
		},
		{
			name: "and all match",
			filter: And{Clauses: []Filter{
				Eq{Field: "classification", Value: "confidential"},
				Eq{Field: "department_id", Value: "D1"},
			}},
			want: true,
		},
		{
			name: "and one fails",
			filter: And{Clauses: []Filter{
				Eq{Field: "classification", Value: "confidential"},
				Eq{Field: "department_id", Value: "D2"},
			}},
			want: false,
		},
		{
			name: "or one matches",
			filter: Or{Clauses: []Filter{
				Eq{Field: "classification", Value: "public"},
				Eq{Field: "department_id", Value: "D1"},
			}},
			want: true,
		},
		{
			name:   "empty or denies",
			filter: Or{},
			want:   false,
		},
		{
			name: "access gate shape",
			filter: Or{Clauses: []Filter{
				In{Field: "classification", Values: []any{"public", "internal"}},
				And{Clauses: []Filter{
					Eq{Field: "classification", Value: "confidential"},
					In{Field: "department_id", Values: []any{"D1"}},
				}},
			}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.filter, meta))
		})
	}
}

func TestMemoryProviderSearchRespectsFilter(t *testing.T) {
	p := NewMemoryProvider()
	ctx := t.Context()

	mustUpsert := func(id string, vec []float32, meta map[string]any) {
		t.Helper()
		assert.NoError(t, p.Upsert(ctx, "kb", id, vec, meta))
	}

	mustUpsert("a", []float32{1, 0}, map[string]any{"classification": "internal"})
	mustUpsert("b", []float32{0.9, 0.1}, map[string]any{"classification": "confidential", "department_id": "D2"})
	mustUpsert("c", []float32{0.8, 0.2}, map[string]any{"classification": "public"})

	filter := In{Field: "classification", Values: []any{"public", "internal"}}
	results, err := p.Search(ctx, "kb", []float32{1, 0}, 10, filter)
	assert.NoError(t, err)
	assert.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, "b", r.ID)
	}
}
