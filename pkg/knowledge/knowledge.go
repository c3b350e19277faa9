// Package knowledge answers questions from the tenant's document base.
// The contract is strict: an answer exists only when retrieval produced
// usable chunks, and every sentence of a synthesized answer is backed by
// a citation. No hits means a refusal, never a guess.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kokoro-ai/kokoro/pkg/embedders"
	"github.com/kokoro-ai/kokoro/pkg/llms"
	"github.com/kokoro-ai/kokoro/pkg/memory"
	"github.com/kokoro-ai/kokoro/pkg/observability"
	"github.com/kokoro-ai/kokoro/pkg/vector"
)

// Retrieval constants.
const (
	// qualityFloor drops chunks whose ingestion quality score is too low
	// to quote.
	qualityFloor = 0.4

	defaultTopK  = 5
	maxTopK      = 20
	embedTimeout = 5 * time.Second

	// Collection is the shared vector collection; tenancy is enforced by
	// the filter, not by collection naming.
	Collection = "knowledge"
)

// Refusal reasons.
const (
	RefusalNoResults   = "no_results"
	RefusalLowQuality  = "low_quality"
	RefusalUnavailable = "retrieval_unavailable"
)

// Citation points at the exact chunk behind an answer fragment.
type Citation struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Page       int    `json:"page,omitempty"`
}

// Answer is the outcome of one knowledge query.
type Answer struct {
	Answered      bool       `json:"answered"`
	Message       string     `json:"message"`
	Citations     []Citation `json:"citations,omitempty"`
	RefusalReason string     `json:"refusal_reason,omitempty"`
}

// ChunkID derives the canonical chunk identifier.
func ChunkID(tenant, document string, version, index int) string {
	return fmt.Sprintf("%s_%s_v%d_chunk%d", tenant, document, version, index)
}

// Service is the retrieval and synthesis pipeline.
type Service struct {
	embedder embedders.Embedder
	provider vector.Provider
	store    memory.Reader
	llm      llms.Provider
	topK     int
	metrics  observability.Metrics
	logger   *slog.Logger
}

// Option tunes the service.
type Option func(*Service)

// WithLLM enables synthesized answers; without it answers are extractive.
func WithLLM(p llms.Provider) Option {
	return func(s *Service) {
		s.llm = p
	}
}

// WithTopK overrides the retrieval depth. Values are clamped to [1, 20].
func WithTopK(k int) Option {
	return func(s *Service) {
		if k < 1 {
			k = 1
		}
		if k > maxTopK {
			k = maxTopK
		}
		s.topK = k
	}
}

// WithMetrics attaches the metrics sink.
func WithMetrics(m observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(embedder embedders.Embedder, provider vector.Provider, store memory.Reader, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		embedder: embedder,
		provider: provider,
		store:    store,
		topK:     defaultTopK,
		metrics:  observability.NoopMetrics{},
		logger:   logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Query answers one question for one user. Retrieval failures refuse;
// they never degrade into an unsourced answer.
func (s *Service) Query(ctx context.Context, tenant, query string, departments []string) Answer {
	chunks, refusal := s.retrieve(ctx, tenant, query, departments)
	if refusal != "" {
		s.metrics.RecordKnowledgeRefusal(ctx, refusal)
		return refuse(refusal)
	}

	if s.llm == nil {
		return extractive(chunks)
	}

	answer, err := s.synthesize(ctx, query, chunks)
	if err != nil {
		s.logger.Warn("synthesis degraded to extractive", "kind", "provider")
		return extractive(chunks)
	}
	return answer
}

func (s *Service) retrieve(ctx context.Context, tenant, query string, departments []string) ([]memory.KnowledgeChunk, string) {
	ectx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	// The query is embedded exactly once per turn.
	vec, err := s.embedder.Embed(ectx, query)
	if err != nil {
		s.logger.Warn("query embedding failed", "kind", "embedder")
		return nil, RefusalUnavailable
	}

	results, err := s.provider.Search(ctx, Collection, vec, s.topK*2, AccessFilter(tenant, departments))
	if err != nil {
		s.logger.Warn("vector search failed", "kind", "vector")
		return nil, RefusalUnavailable
	}
	if len(results) == 0 {
		return nil, RefusalNoResults
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	rows, err := s.store.KnowledgeChunks(ctx, tenant, ids)
	if err != nil {
		s.logger.Warn("chunk metadata load failed", "kind", "store")
		return nil, RefusalUnavailable
	}

	byID := make(map[string]memory.KnowledgeChunk, len(rows))
	for _, c := range rows {
		byID[c.ID] = c
	}

	// Keep vector ranking order; drop junk.
	var chunks []memory.KnowledgeChunk
	for _, r := range results {
		c, ok := byID[r.ID]
		if !ok {
			continue
		}
		if c.Boilerplate || c.QualityScore < qualityFloor {
			continue
		}
		chunks = append(chunks, c)
		if len(chunks) == s.topK {
			break
		}
	}

	if len(chunks) == 0 {
		return nil, RefusalLowQuality
	}
	return chunks, ""
}

// synthesize asks the model to answer strictly from the numbered chunks.
func (s *Service) synthesize(ctx context.Context, query string, chunks []memory.KnowledgeChunk) (Answer, error) {
	var sb strings.Builder
	sb.WriteString("You answer workplace questions using ONLY the numbered sources below.\n")
	sb.WriteString("Rules: cite every claim as [n]. If the sources do not answer the question, reply exactly: INSUFFICIENT.\n")
	sb.WriteString("Answer in the language of the question.\n\n")
	for i, c := range chunks {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, c.Content)
	}

	text, tokens, err := s.llm.Generate(ctx, []llms.Message{
		{Role: llms.RoleSystem, Content: sb.String()},
		{Role: llms.RoleUser, Content: query},
	})
	if err != nil {
		return Answer{}, err
	}
	s.metrics.RecordLLMTokens(ctx, s.llm.ModelName(), tokens)

	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.HasPrefix(trimmed, "INSUFFICIENT") {
		// The model judged the sources insufficient: that is a refusal,
		// not an invitation to guess.
		s.metrics.RecordKnowledgeRefusal(ctx, RefusalNoResults)
		return refuse(RefusalNoResults), nil
	}

	return Answer{
		Answered:  true,
		Message:   trimmed,
		Citations: citations(chunks),
	}, nil
}

// extractive quotes the best chunk directly. Used when no LLM is
// configured or synthesis fails.
func extractive(chunks []memory.KnowledgeChunk) Answer {
	best := chunks[0]
	return Answer{
		Answered:  true,
		Message:   fmt.Sprintf("社内資料より:\n%s", best.Content),
		Citations: citations(chunks[:1]),
	}
}

func citations(chunks []memory.KnowledgeChunk) []Citation {
	out := make([]Citation, len(chunks))
	for i, c := range chunks {
		out[i] = Citation{ChunkID: c.ID, DocumentID: c.DocumentID, Page: c.Page}
	}
	return out
}

func refuse(reason string) Answer {
	msg := "該当する社内情報が見つかりませんでした。担当部署にご確認ください。"
	if reason == RefusalUnavailable {
		msg = "現在、社内情報の検索が利用できません。しばらくしてからお試しください。"
	}
	return Answer{
		Answered:      false,
		Message:       msg,
		RefusalReason: reason,
	}
}

// Index embeds and stores one chunk with its access metadata. The chunk
// ID must come from ChunkID so versioned re-ingestion overwrites cleanly.
func (s *Service) Index(ctx context.Context, tenant string, chunk memory.KnowledgeChunk) error {
	vec, err := s.embedder.Embed(ctx, chunk.Content)
	if err != nil {
		return fmt.Errorf("[Knowledge:Index] embed failed: %w", err)
	}
	metadata := map[string]any{
		"organization_id": tenant,
		"classification":  chunk.Classification,
		"department_id":   chunk.DepartmentID,
		"category":        chunk.Category,
		"document_id":     chunk.DocumentID,
	}
	if err := s.provider.Upsert(ctx, Collection, chunk.ID, vec, metadata); err != nil {
		return fmt.Errorf("[Knowledge:Index] upsert failed: %w", err)
	}
	return nil
}
