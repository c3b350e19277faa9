package knowledge

import (
	"github.com/kokoro-ai/kokoro/pkg/memory"
	"github.com/kokoro-ai/kokoro/pkg/vector"
)

// AccessFilter builds the vector-store filter enforcing chunk
// classification rules for one user:
//
//   - public and internal chunks are readable by everyone in the tenant
//   - confidential chunks additionally require membership in the chunk's
//     department
//
// The tenant clause is always present; retrieval without it cannot be
// expressed.
func AccessFilter(tenant string, departments []string) vector.Filter {
	shared := vector.In{
		Field:  "classification",
		Values: []any{memory.ClassificationPublic, memory.ClassificationInternal},
	}

	var access vector.Filter = shared
	if len(departments) > 0 {
		depts := make([]any, len(departments))
		for i, d := range departments {
			depts[i] = d
		}
		access = vector.Or{Clauses: []vector.Filter{
			shared,
			vector.And{Clauses: []vector.Filter{
				vector.Eq{Field: "classification", Value: memory.ClassificationConfidential},
				vector.In{Field: "department_id", Values: depts},
			}},
		}}
	}

	return vector.And{Clauses: []vector.Filter{
		vector.Eq{Field: "organization_id", Value: tenant},
		access,
	}}
}
