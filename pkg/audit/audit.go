// Package audit emits one structured record per decision. Records carry
// identifiers, scores and outcomes only; message text and params that
// could carry it are redacted before anything is written.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/kokoro-ai/kokoro/pkg/execution"
	"github.com/kokoro-ai/kokoro/pkg/observability"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
)

// Event is one audited decision.
type Event struct {
	Event       string         `json:"event"`
	Tenant      string         `json:"tenant"`
	UserHash    string         `json:"user_hash"`
	DecisionID  string         `json:"decision_id"`
	Action      string         `json:"action"`
	RiskLevel   string         `json:"risk_level"`
	Confidence  float64        `json:"confidence"`
	GateLevel   string         `json:"gate_level,omitempty"`
	Enforcement string         `json:"enforcement,omitempty"`
	Pattern     string         `json:"pattern,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	LatencyMS   int64          `json:"latency_ms"`
	Outcome     string         `json:"outcome"`
	ErrorKind   string         `json:"error_kind,omitempty"`
}

// Auditor writes decision events to the log stream and the metrics sink.
type Auditor struct {
	logger  *slog.Logger
	metrics observability.Metrics
}

func NewAuditor(logger *slog.Logger, metrics observability.Metrics) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Auditor{logger: logger, metrics: metrics}
}

// HashUser derives the stable pseudonymous user identifier used in audit
// records. Sixteen hex chars is plenty for correlation and useless for
// reversal.
func HashUser(tenant, user string) string {
	sum := sha256.Sum256([]byte(tenant + ":" + user))
	return hex.EncodeToString(sum[:])[:16]
}

// Decision records a completed pipeline run. Fire-and-forget: callers
// never wait on or fail from auditing.
func (a *Auditor) Decision(ctx context.Context, tenant, user string, decision *protocol.DecisionResult, gd protocol.GateDecision, outcome string, errKind string, latency time.Duration) {
	ev := Event{
		Event:       "decision",
		Tenant:      tenant,
		UserHash:    HashUser(tenant, user),
		DecisionID:  decision.ID,
		Action:      decision.Action,
		RiskLevel:   string(decision.RiskLevel),
		Confidence:  decision.Confidence,
		GateLevel:   string(gd.Level),
		Enforcement: string(gd.Enforcement),
		Pattern:     gd.Pattern,
		Params:      execution.RedactParams(decision.Params),
		LatencyMS:   latency.Milliseconds(),
		Outcome:     outcome,
		ErrorKind:   errKind,
	}
	a.emit(ctx, ev)
}

// Proactive records a system-initiated action that traversed the gate.
func (a *Auditor) Proactive(ctx context.Context, tenant string, action string, gd protocol.GateDecision, outcome string) {
	a.emit(ctx, Event{
		Event:       "proactive",
		Tenant:      tenant,
		Action:      action,
		GateLevel:   string(gd.Level),
		Enforcement: string(gd.Enforcement),
		Pattern:     gd.Pattern,
		Outcome:     outcome,
	})
}

func (a *Auditor) emit(ctx context.Context, ev Event) {
	a.metrics.RecordGateDecision(ctx, ev.GateLevel, ev.Enforcement)
	a.logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("event", ev.Event),
		slog.String("tenant", ev.Tenant),
		slog.String("user_hash", ev.UserHash),
		slog.String("decision_id", ev.DecisionID),
		slog.String("action", ev.Action),
		slog.String("risk_level", ev.RiskLevel),
		slog.Float64("confidence", ev.Confidence),
		slog.String("gate_level", ev.GateLevel),
		slog.String("pattern", ev.Pattern),
		slog.Int64("latency_ms", ev.LatencyMS),
		slog.String("outcome", ev.Outcome),
		slog.String("error_kind", ev.ErrorKind),
	)
}
