// Package brain is the decision core: one message in, one response out.
// Every turn walks the same path — context, understanding, authorization,
// decision, execution, response, learning — and no capability handler is
// reachable except through it.
package brain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kokoro-ai/kokoro/pkg/audit"
	"github.com/kokoro-ai/kokoro/pkg/capability"
	"github.com/kokoro-ai/kokoro/pkg/config"
	"github.com/kokoro-ai/kokoro/pkg/decision"
	"github.com/kokoro-ai/kokoro/pkg/execution"
	"github.com/kokoro-ai/kokoro/pkg/gate"
	"github.com/kokoro-ai/kokoro/pkg/learning"
	"github.com/kokoro-ai/kokoro/pkg/memory"
	"github.com/kokoro-ai/kokoro/pkg/observability"
	"github.com/kokoro-ai/kokoro/pkg/orchestrator"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
	"github.com/kokoro-ai/kokoro/pkg/understanding"
)

const unavailableMessage = "ただいまシステムをご利用いただけません。しばらくしてからお試しください。"

// Brain wires the pipeline stages together.
type Brain struct {
	cfg      *config.BrainConfig
	builder  *ContextBuilder
	orch     *orchestrator.Orchestrator
	und      *understanding.Engine
	decider  *decision.Engine
	catalog  *capability.Catalog
	executor *execution.Executor
	auditor  *audit.Auditor
	recorder *learning.Recorder
	writer   memory.Writer
	metrics  observability.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
}

// Deps carries the constructed stages.
type Deps struct {
	Config       *config.BrainConfig
	Builder      *ContextBuilder
	Orchestrator *orchestrator.Orchestrator
	Understander *understanding.Engine
	Decider      *decision.Engine
	Catalog      *capability.Catalog
	Executor     *execution.Executor
	Auditor      *audit.Auditor
	Recorder     *learning.Recorder
	Writer       memory.Writer
	Metrics      observability.Metrics
	Tracer       trace.Tracer
	Logger       *slog.Logger
}

func New(deps Deps) *Brain {
	b := &Brain{
		cfg:      deps.Config,
		builder:  deps.Builder,
		orch:     deps.Orchestrator,
		und:      deps.Understander,
		decider:  deps.Decider,
		catalog:  deps.Catalog,
		executor: deps.Executor,
		auditor:  deps.Auditor,
		recorder: deps.Recorder,
		writer:   deps.Writer,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		logger:   deps.Logger,
	}
	if b.metrics == nil {
		b.metrics = observability.NoopMetrics{}
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Process runs the pipeline for one message. The returned response
// always carries a non-empty message.
func (b *Brain) Process(ctx context.Context, msg protocol.Message) (*protocol.Response, error) {
	if msg.TenantID == "" {
		return nil, fmt.Errorf("[Brain:Process] message rejected: missing tenant")
	}

	if !b.cfg.IsEnabled() {
		return &protocol.Response{
			Message:     unavailableMessage,
			ActionTaken: "disabled",
			Success:     false,
		}, nil
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(b.cfg.TurnTimeoutSeconds)*time.Second)
	defer cancel()

	if b.tracer != nil {
		var span trace.Span
		ctx, span = b.tracer.Start(ctx, observability.SpanPipelineRun,
			trace.WithAttributes(attribute.String(observability.AttrTenant, msg.TenantID)))
		defer span.End()
	}

	tc := b.builder.Build(ctx, msg)

	routed := b.orch.Route(ctx, tc)
	if routed.Handled {
		resp := routed.Response
		resp.LatencyMS = time.Since(start).Milliseconds()
		b.finishTurn(ctx, tc, resp, nil, protocol.GateDecision{}, start)
		return resp, nil
	}

	ur := b.und.Understand(ctx, tc)
	d := b.decider.Decide(tc, ur)

	if routed.ResolvedItem != nil {
		if d.Params == nil {
			d.Params = map[string]any{}
		}
		d.Params["item_id"] = routed.ResolvedItem.ID
		d.Params["item_label"] = routed.ResolvedItem.Label
	}

	cap, _ := b.catalog.Get(d.Action)
	gd := gate.Evaluate(gate.Request{
		Action:     d.Action,
		Capability: cap,
		Confidence: ur.Confidence,
		Message:    msg.Text,
		Emotion:    ur.Emotion,
	})
	decision.ApplyGate(&d, gd)

	resp := b.resolve(ctx, tc, &d, gd)
	if routed.ResumeSuffix != "" {
		resp.Message += routed.ResumeSuffix
	}
	resp.LatencyMS = time.Since(start).Milliseconds()

	b.finishTurn(ctx, tc, resp, &d, gd, start)
	return resp, nil
}

// resolve applies enforcement, confirmation policy and finally executes.
func (b *Brain) resolve(ctx context.Context, tc *protocol.Context, d *protocol.DecisionResult, gd protocol.GateDecision) *protocol.Response {
	switch gd.Enforcement {
	case protocol.EnforcementForceListening:
		// The user needs an ear, not a feature.
		return b.listen(ctx, tc, d)

	case protocol.EnforcementBlockAndSuggest:
		msg := gd.Redirect
		if msg == "" {
			msg = "その操作にはお応えできません。"
		}
		return &protocol.Response{
			Message:     msg,
			ActionTaken: "blocked",
			Success:     false,
		}
	}

	if d.NeedsConfirmation && d.Action != capability.GeneralConversation {
		return b.askConfirmation(ctx, tc, d)
	}

	result := b.executor.Execute(ctx, d, tc)
	b.orch.ApplyMetadata(ctx, tc, result)

	if len(d.Plan) > 1 {
		b.orch.SavePlan(ctx, tc, d.Plan[1:])
	}

	resp := &protocol.Response{
		Message:              result.Message,
		ActionTaken:          d.Action,
		Success:              result.Success,
		Suggestions:          result.Suggestions,
		AwaitingConfirmation: result.Metadata.AwaitingConfirmation,
		AwaitingInput:        result.Metadata.AwaitingInput,
		StateChanged:         result.Metadata.NewState != "" || result.Metadata.AwaitingConfirmation || result.Metadata.AwaitingInput,
		NewState:             result.Metadata.NewState,
	}
	if gd.Enforcement == protocol.EnforcementWarnOnly {
		resp.Message = "※ 投稿内容には十分ご注意ください。\n" + resp.Message
	}
	return resp
}

// listen routes a distress signal to the conversation handler in
// listening mode; no other action runs this turn.
func (b *Brain) listen(ctx context.Context, tc *protocol.Context, d *protocol.DecisionResult) *protocol.Response {
	listening := &protocol.DecisionResult{
		ID:         d.ID,
		Action:     capability.GeneralConversation,
		Params:     map[string]any{"mode": "listening"},
		Confidence: 1.0,
		RiskLevel:  protocol.RiskLow,
	}
	result := b.executor.Execute(ctx, listening, tc)
	return &protocol.Response{
		Message:     result.Message,
		ActionTaken: decision.ForcedListening,
		Success:     result.Success,
	}
}

// askConfirmation parks the action behind a confirmation state instead
// of executing it.
func (b *Brain) askConfirmation(ctx context.Context, tc *protocol.Context, d *protocol.DecisionResult) *protocol.Response {
	b.orch.ApplyMetadata(ctx, tc, protocol.HandlerResult{
		Success: true,
		Metadata: protocol.HandlerMetadata{
			AwaitingConfirmation: true,
			PendingAction:        d.Action,
			PendingParams:        d.Params,
			PendingRisk:          string(d.RiskLevel),
			ConfirmationOptions:  d.ConfirmationOptions,
		},
	})

	msg := fmt.Sprintf("「%s」を実行してよろしいですか？", actionLabel(d.Action))
	if len(d.ConfirmationOptions) > 0 {
		msg += "\n" + joinOptions(d.ConfirmationOptions)
	}
	return &protocol.Response{
		Message:              msg,
		ActionTaken:          "confirmation_request",
		Success:              true,
		AwaitingConfirmation: true,
		StateChanged:         true,
	}
}

// finishTurn does the post-response work: conversation log, audit record,
// outcome learning and the pipeline metric. All fire-and-forget.
func (b *Brain) finishTurn(ctx context.Context, tc *protocol.Context, resp *protocol.Response, d *protocol.DecisionResult, gd protocol.GateDecision, start time.Time) {
	msg := tc.Message
	outcome := "success"
	if !resp.Success {
		outcome = "failure"
	}
	b.metrics.RecordPipelineRun(ctx, msg.TenantID, time.Since(start), outcome)

	if b.writer != nil {
		go func() {
			wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			now := time.Now()
			_ = b.writer.AppendConversation(wctx, msg.TenantID, msg.RoomID, memory.ConversationEntry{
				Role: "user", SenderID: msg.UserID, Sender: msg.SenderName, Text: msg.Text, At: now,
			})
			_ = b.writer.AppendConversation(wctx, msg.TenantID, msg.RoomID, memory.ConversationEntry{
				Role: "assistant", SenderID: "kokoro", Sender: "kokoro", Text: resp.Message, At: now.Add(time.Millisecond),
			})
		}()
	}

	if d == nil {
		return
	}

	b.auditor.Decision(ctx, msg.TenantID, msg.UserID, d, gd, outcome, "", time.Since(start))
	b.recorder.RecordOutcome(msg.TenantID, d, protocol.HandlerResult{Success: resp.Success, Message: resp.Message})

	if resp.Success && d.Action != capability.GeneralConversation &&
		d.Action != decision.ForcedListening && resp.ActionTaken == d.Action {
		b.recorder.RecordEpisode(msg.TenantID, memory.Episode{
			Type:       d.Action,
			Summary:    d.Action + " completed",
			Keywords:   []string{d.Action},
			Importance: 0.5,
		})
	}
}

func actionLabel(action string) string {
	switch action {
	case "announcement_create":
		return "お知らせの送信"
	case "task_create":
		return "タスクの作成"
	case "goal_register":
		return "目標の登録"
	default:
		return action
	}
}

func joinOptions(options []string) string {
	out := ""
	for i, opt := range options {
		if i > 0 {
			out += "\n"
		}
		out += opt
	}
	return out
}
