// Package proactive runs system-initiated actions: reminders, nudges and
// scheduled announcements. A proactive action is held to a stricter
// standard than a user request: it traverses the same authorization
// gate, and anything the gate does not auto-approve is dropped with the
// reason logged. There is no bypass path and no half-sent message.
package proactive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kokoro-ai/kokoro/pkg/audit"
	"github.com/kokoro-ai/kokoro/pkg/capability"
	"github.com/kokoro-ai/kokoro/pkg/execution"
	"github.com/kokoro-ai/kokoro/pkg/gate"
	"github.com/kokoro-ai/kokoro/pkg/observability"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
)

// Trigger is one proactive impulse from a scheduler or rule engine.
type Trigger struct {
	Tenant string         `json:"tenant"`
	RoomID string         `json:"room_id"`
	UserID string         `json:"user_id"`
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
	Reason string         `json:"reason"`
}

// Generator evaluates and executes proactive triggers.
type Generator struct {
	catalog  *capability.Catalog
	executor *execution.Executor
	auditor  *audit.Auditor
	metrics  observability.Metrics
	logger   *slog.Logger
}

func NewGenerator(catalog *capability.Catalog, executor *execution.Executor, auditor *audit.Auditor, metrics observability.Metrics, logger *slog.Logger) *Generator {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		catalog:  catalog,
		executor: executor,
		auditor:  auditor,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run evaluates one trigger. It returns nil when the trigger was
// dropped; a non-nil response is the executed action's result.
func (g *Generator) Run(ctx context.Context, trigger Trigger) (*protocol.Response, error) {
	if trigger.Tenant == "" {
		return nil, fmt.Errorf("[Proactive:Run] trigger rejected: missing tenant")
	}

	cap, _ := g.catalog.Get(trigger.Action)

	gd := gate.Evaluate(gate.Request{
		Action:     trigger.Action,
		Capability: cap,
		Confidence: 1.0,
		Proactive:  true,
	})

	switch {
	case cap == nil:
		g.drop(ctx, trigger, gd, "unknown_capability")
		return nil, nil
	case gd.Enforcement == protocol.EnforcementBlockAndSuggest:
		g.drop(ctx, trigger, gd, "blocked")
		return nil, nil
	case gd.Level != protocol.AuthzAutoApprove:
		// The system cannot answer its own confirmation prompt, so
		// anything short of an auto-approval never reaches the room.
		g.drop(ctx, trigger, gd, "not_auto_approved")
		return nil, nil
	}

	tc := &protocol.Context{
		Message: protocol.Message{
			TenantID:   trigger.Tenant,
			RoomID:     trigger.RoomID,
			UserID:     trigger.UserID,
			ReceivedAt: time.Now(),
		},
		BuiltAt: time.Now(),
	}
	decision := &protocol.DecisionResult{
		ID:         fmt.Sprintf("proactive-%d", time.Now().UnixNano()),
		Action:     trigger.Action,
		Params:     trigger.Params,
		Confidence: 1.0,
		RiskLevel:  cap.RiskLevel,
	}

	result := g.executor.Execute(ctx, decision, tc)
	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	g.auditor.Proactive(ctx, trigger.Tenant, trigger.Action, gd, outcome)

	if !result.Success {
		// A failed proactive action stays invisible; nobody asked for it.
		g.metrics.RecordProactiveDropped(ctx, "execution_failure")
		g.logger.Warn("proactive action failed", "action", trigger.Action, "reason", trigger.Reason)
		return nil, nil
	}

	return &protocol.Response{
		Message:     result.Message,
		ActionTaken: trigger.Action,
		Success:     true,
		Suggestions: result.Suggestions,
	}, nil
}

func (g *Generator) drop(ctx context.Context, trigger Trigger, gd protocol.GateDecision, reason string) {
	g.metrics.RecordProactiveDropped(ctx, reason)
	g.auditor.Proactive(ctx, trigger.Tenant, trigger.Action, gd, "dropped:"+reason)
	g.logger.Info("proactive trigger dropped",
		"action", trigger.Action,
		"reason", reason,
		"trigger_reason", trigger.Reason,
	)
}
