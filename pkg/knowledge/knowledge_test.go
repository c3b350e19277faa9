package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokoro-ai/kokoro/pkg/llms"
	"github.com/kokoro-ai/kokoro/pkg/memory"
	"github.com/kokoro-ai/kokoro/pkg/vector"
)

// hashEmbedder produces deterministic unit vectors so tests control
// similarity ordering via shared prefixes.
type hashEmbedder struct{}

func (hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for i, r := range text {
		vec[i%8] += float32(r % 97)
	}
	return vec, nil
}
func (hashEmbedder) Dimension() int    { return 8 }
func (hashEmbedder) ModelName() string { return "hash" }

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedder down")
}
func (failingEmbedder) Dimension() int    { return 8 }
func (failingEmbedder) ModelName() string { return "broken" }

func seedChunk(t *testing.T, svc *Service, store *memory.InMemoryStore, tenant string, chunk memory.KnowledgeChunk) {
	t.Helper()
	store.AddKnowledgeChunk(tenant, chunk)
	require.NoError(t, svc.Index(t.Context(), tenant, chunk))
}

func newTestService(t *testing.T, opts ...Option) (*Service, *memory.InMemoryStore) {
	t.Helper()
	store := memory.NewInMemoryStore()
	svc := NewService(hashEmbedder{}, vector.NewMemoryProvider(), store, nil, opts...)
	return svc, store
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "org1_expense-policy_v3_chunk12", ChunkID("org1", "expense-policy", 3, 12))
}

func TestWithTopKClampsRange(t *testing.T) {
	svc, _ := newTestService(t, WithTopK(100))
	assert.Equal(t, maxTopK, svc.topK)

	svc, _ = newTestService(t, WithTopK(0))
	assert.Equal(t, 1, svc.topK)

	svc, _ = newTestService(t, WithTopK(7))
	assert.Equal(t, 7, svc.topK)
}

func TestQueryAnswersFromChunks(t *testing.T) {
	svc, store := newTestService(t)

	seedChunk(t, svc, store, "org1", memory.KnowledgeChunk{
		ID: ChunkID("org1", "expense", 1, 0), DocumentID: "expense", Version: 1,
		Content:        "経費精算は月末締め、翌月10日払いです。",
		Classification: memory.ClassificationInternal,
		QualityScore:   0.9, Page: 2,
	})

	ans := svc.Query(t.Context(), "org1", "経費精算の締め日は？", nil)

	assert.True(t, ans.Answered)
	assert.Contains(t, ans.Message, "月末締め")
	require.Len(t, ans.Citations, 1)
	assert.Equal(t, "expense", ans.Citations[0].DocumentID)
	assert.Equal(t, 2, ans.Citations[0].Page)
}

func TestQueryRefusesOnNoResults(t *testing.T) {
	svc, _ := newTestService(t)

	ans := svc.Query(t.Context(), "org1", "有給休暇の繰越は？", nil)

	assert.False(t, ans.Answered)
	assert.Equal(t, RefusalNoResults, ans.RefusalReason)
	assert.NotEmpty(t, ans.Message)
	assert.Empty(t, ans.Citations)
}

func TestQueryRefusesWhenRetrievalUnavailable(t *testing.T) {
	store := memory.NewInMemoryStore()
	svc := NewService(failingEmbedder{}, vector.NewMemoryProvider(), store, nil)

	ans := svc.Query(t.Context(), "org1", "就業規則は？", nil)

	assert.False(t, ans.Answered)
	assert.Equal(t, RefusalUnavailable, ans.RefusalReason)
}

func TestQueryFiltersConfidentialByDepartment(t *testing.T) {
	svc, store := newTestService(t)

	confidential := memory.KnowledgeChunk{
		ID: ChunkID("org1", "salary-table", 1, 0), DocumentID: "salary-table", Version: 1,
		Content:        "等級別の給与テーブルは次の通り。",
		Classification: memory.ClassificationConfidential,
		DepartmentID:   "hr",
		QualityScore:   0.9,
	}
	seedChunk(t, svc, store, "org1", confidential)

	// A member of another department cannot retrieve it.
	ans := svc.Query(t.Context(), "org1", "給与テーブルを教えて", []string{"engineering"})
	assert.False(t, ans.Answered)
	assert.Equal(t, RefusalNoResults, ans.RefusalReason)

	// A user with no department memberships cannot either.
	ans = svc.Query(t.Context(), "org1", "給与テーブルを教えて", nil)
	assert.False(t, ans.Answered)

	// An HR member can.
	ans = svc.Query(t.Context(), "org1", "給与テーブルを教えて", []string{"hr"})
	assert.True(t, ans.Answered)
	assert.Contains(t, ans.Message, "給与テーブル")
}

func TestQueryTenantIsolation(t *testing.T) {
	svc, store := newTestService(t)

	seedChunk(t, svc, store, "org-a", memory.KnowledgeChunk{
		ID: ChunkID("org-a", "handbook", 1, 0), DocumentID: "handbook", Version: 1,
		Content:        "リモート勤務は週3日までです。",
		Classification: memory.ClassificationPublic,
		QualityScore:   0.9,
	})

	ans := svc.Query(t.Context(), "org-b", "リモート勤務のルールは？", nil)
	assert.False(t, ans.Answered)
}

func TestQueryDropsBoilerplateAndLowQuality(t *testing.T) {
	svc, store := newTestService(t)

	seedChunk(t, svc, store, "org1", memory.KnowledgeChunk{
		ID: ChunkID("org1", "rules", 1, 0), DocumentID: "rules", Version: 1,
		Content:        "本規定は就業規則の定めにより効力を有する。",
		Classification: memory.ClassificationInternal,
		QualityScore:   0.9, Boilerplate: true,
	})
	seedChunk(t, svc, store, "org1", memory.KnowledgeChunk{
		ID: ChunkID("org1", "rules", 1, 1), DocumentID: "rules", Version: 1,
		Content:        "規則 規則 規則",
		Classification: memory.ClassificationInternal,
		QualityScore:   0.2,
	})

	ans := svc.Query(t.Context(), "org1", "就業規則について", nil)

	assert.False(t, ans.Answered)
	assert.Equal(t, RefusalLowQuality, ans.RefusalReason)
}

// scriptedLLM returns a canned synthesis response.
type scriptedLLM struct {
	response string
}

func (s scriptedLLM) Generate(ctx context.Context, messages []llms.Message) (string, int, error) {
	return s.response, 42, nil
}
func (s scriptedLLM) GenerateJSON(ctx context.Context, messages []llms.Message) (string, int, error) {
	return s.response, 42, nil
}
func (s scriptedLLM) ModelName() string { return "scripted" }
func (s scriptedLLM) Close() error      { return nil }

func TestSynthesizedAnswerCarriesCitations(t *testing.T) {
	svc, store := newTestService(t, WithLLM(scriptedLLM{
		response: "経費精算は月末締めです [1]。",
	}))

	seedChunk(t, svc, store, "org1", memory.KnowledgeChunk{
		ID: ChunkID("org1", "expense", 1, 0), DocumentID: "expense", Version: 1,
		Content:        "経費精算は月末締め、翌月10日払いです。",
		Classification: memory.ClassificationInternal,
		QualityScore:   0.9,
	})

	ans := svc.Query(t.Context(), "org1", "経費精算の締め日は？", nil)

	assert.True(t, ans.Answered)
	assert.Contains(t, ans.Message, "[1]")
	assert.NotEmpty(t, ans.Citations)
}

func TestSynthesisInsufficientBecomesRefusal(t *testing.T) {
	svc, store := newTestService(t, WithLLM(scriptedLLM{response: "INSUFFICIENT"}))

	seedChunk(t, svc, store, "org1", memory.KnowledgeChunk{
		ID: ChunkID("org1", "expense", 1, 0), DocumentID: "expense", Version: 1,
		Content:        "経費精算は月末締めです。",
		Classification: memory.ClassificationInternal,
		QualityScore:   0.9,
	})

	ans := svc.Query(t.Context(), "org1", "駐車場の契約方法は？", nil)

	assert.False(t, ans.Answered)
	assert.Equal(t, RefusalNoResults, ans.RefusalReason)
}

func TestAccessFilterShape(t *testing.T) {
	meta := func(class, dept string) map[string]any {
		return map[string]any{
			"organization_id": "org1",
			"classification":  class,
			"department_id":   dept,
		}
	}

	noDept := AccessFilter("org1", nil)
	assert.True(t, vector.Match(noDept, meta("public", "")))
	assert.True(t, vector.Match(noDept, meta("internal", "")))
	assert.False(t, vector.Match(noDept, meta("confidential", "hr")))

	hr := AccessFilter("org1", []string{"hr"})
	assert.True(t, vector.Match(hr, meta("confidential", "hr")))
	assert.False(t, vector.Match(hr, meta("confidential", "finance")))

	// Wrong tenant never matches, whatever the classification.
	other := AccessFilter("org2", []string{"hr"})
	assert.False(t, vector.Match(other, meta("public", "")))
}
