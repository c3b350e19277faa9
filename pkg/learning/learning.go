// Package learning records decision outcomes after the response has
// already been sent. Every write is fire-and-forget: a learning failure
// is logged by kind and otherwise invisible to the user.
package learning

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kokoro-ai/kokoro/pkg/memory"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
)

// reviewConfidenceCeiling queues low-confidence successes for human
// review so scoring drift gets noticed.
const reviewConfidenceCeiling = 0.6

// writeTimeout bounds a single detached write.
const writeTimeout = 5 * time.Second

// Recorder owns the post-response write path.
type Recorder struct {
	store  memory.Writer
	logger *slog.Logger
}

func NewRecorder(store memory.Writer, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// RecordOutcome persists the turn's outcome and, when warranted, an
// episode and a review-queue entry. It detaches from the request
// context and returns immediately.
func (r *Recorder) RecordOutcome(tenant string, decision *protocol.DecisionResult, result protocol.HandlerResult) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		outcome := memory.Outcome{
			ID:         uuid.NewString(),
			Action:     decision.Action,
			Confidence: decision.Confidence,
			Success:    result.Success,
			RiskLevel:  string(decision.RiskLevel),
			CreatedAt:  time.Now(),
		}
		if !result.Success {
			outcome.ReasonCode = "handler_failure"
		}
		if err := r.store.AppendOutcome(ctx, tenant, outcome); err != nil {
			r.logger.Warn("outcome write dropped", "kind", kindOf(err))
		}

		if result.Success && decision.Confidence < reviewConfidenceCeiling {
			if err := r.store.AppendReview(ctx, tenant, decision.ID, "low_confidence_success"); err != nil {
				r.logger.Warn("review write dropped", "kind", kindOf(err))
			}
		}
	}()
}

// RecordEpisode persists a PII-safe episode summary. The summary must be
// factual meta ("task created"), never user text; callers own that
// contract and the audit tests enforce it end to end.
func (r *Recorder) RecordEpisode(tenant string, episode memory.Episode) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if episode.ID == "" {
			episode.ID = uuid.NewString()
		}
		if episode.CreatedAt.IsZero() {
			episode.CreatedAt = time.Now()
		}
		if err := r.store.AppendEpisode(ctx, tenant, episode); err != nil {
			r.logger.Warn("episode write dropped", "kind", kindOf(err))
		}
	}()
}

// RecordFeedback persists an explicit user verdict about a prior turn.
func (r *Recorder) RecordFeedback(tenant, decisionID, verdict string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		fb := memory.Feedback{
			ID:         uuid.NewString(),
			DecisionID: decisionID,
			Verdict:    verdict,
			CreatedAt:  time.Now(),
		}
		if err := r.store.AppendFeedback(ctx, tenant, fb); err != nil {
			r.logger.Warn("feedback write dropped", "kind", kindOf(err))
		}
	}()
}

func kindOf(err error) string {
	if err == nil {
		return "none"
	}
	if se, ok := err.(*memory.StoreError); ok {
		return "store:" + se.Action
	}
	return "unknown"
}
