package vector

// Filter is a store-agnostic metadata predicate. The knowledge access gate
// composes Eq/In leaves with And/Or; providers translate the tree into
// their native filter language or evaluate it with Match.
type Filter interface {
	isFilter()
}

// Eq matches field = value.
type Eq struct {
	Field string
	Value any
}

// In matches field ∈ values.
type In struct {
	Field  string
	Values []any
}

// And matches when every clause matches.
type And struct {
	Clauses []Filter
}

// Or matches when at least one clause matches.
type Or struct {
	Clauses []Filter
}

func (Eq) isFilter()  {}
func (In) isFilter()  {}
func (And) isFilter() {}
func (Or) isFilter()  {}

// Match evaluates a filter against metadata. A nil filter matches
// everything. Used by providers without server-side composite filters.
func Match(f Filter, metadata map[string]any) bool {
	if f == nil {
		return true
	}

	switch v := f.(type) {
	case Eq:
		return metadata[v.Field] == v.Value
	case In:
		got, ok := metadata[v.Field]
		if !ok {
			return false
		}
		for _, want := range v.Values {
			if got == want {
				return true
			}
		}
		return false
	case And:
		for _, c := range v.Clauses {
			if !Match(c, metadata) {
				return false
			}
		}
		return true
	case Or:
		// An empty Or denies; the access gate relies on this.
		for _, c := range v.Clauses {
			if Match(c, metadata) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
