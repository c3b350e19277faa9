// Package execution dispatches the decided action to its capability
// handler. One attempt per action, bounded by a hard timeout; handlers
// are not retried because a retry on a write is a duplicate side effect.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kokoro-ai/kokoro/pkg/capability"
	"github.com/kokoro-ai/kokoro/pkg/observability"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
)

// piiParamKeys are stripped from params before any log or audit record.
// The message body never leaves the turn.
var piiParamKeys = []string{"message", "body", "content", "text"}

// Executor runs one planned action.
type Executor struct {
	catalog *capability.Catalog
	dedup   Deduper
	timeout time.Duration
	metrics observability.Metrics
	logger  *slog.Logger
}

// Option tunes the executor.
type Option func(*Executor)

// WithTimeout bounds a single handler invocation.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.timeout = d
	}
}

// WithMetrics attaches the metrics sink.
func WithMetrics(m observability.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

func NewExecutor(catalog *capability.Catalog, dedup Deduper, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		catalog: catalog,
		dedup:   dedup,
		timeout: 30 * time.Second,
		metrics: observability.NoopMetrics{},
		logger:  logger,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute dispatches the action. The returned result is always safe to
// render: a failed or duplicate invocation comes back as a structured
// failure, never an empty message.
func (e *Executor) Execute(ctx context.Context, decision *protocol.DecisionResult, tc *protocol.Context) protocol.HandlerResult {
	msg := tc.Message

	cap, ok := e.catalog.Get(decision.Action)
	if !ok {
		e.logger.Error("unknown action reached executor", "action", decision.Action)
		return failure("実行できない操作です。もう一度お試しください。")
	}

	key := DedupKey(msg.TenantID, msg.RoomID, msg.UserID, decision.Action, decision.Params)
	if seen, err := e.dedup.Seen(ctx, key); err != nil {
		// A broken dedup backend must not block execution.
		e.logger.Warn("dedup check degraded", "kind", "backend")
	} else if seen {
		e.metrics.RecordDedupHit(ctx, decision.Action)
		e.logger.Info("duplicate invocation suppressed", "action", decision.Action)
		return protocol.HandlerResult{
			Success: true,
			Message: "同じ操作を処理済みです。",
		}
	}

	start := time.Now()
	result, err := e.invoke(ctx, cap, decision, tc)
	elapsed := time.Since(start)
	e.metrics.RecordHandlerExecution(ctx, decision.Action, elapsed, err)

	if err != nil {
		e.logger.Error("handler failed",
			"action", decision.Action,
			"kind", errKind(err),
			"elapsed_ms", elapsed.Milliseconds(),
		)
		return failure(userFacingError(err))
	}

	return normalize(result)
}

func (e *Executor) invoke(ctx context.Context, cap *capability.Capability, decision *protocol.DecisionResult, tc *protocol.Context) (protocol.HandlerResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	msg := tc.Message

	done := make(chan struct{})
	var result protocol.HandlerResult
	var err error
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("[Execution:Invoke] handler panicked: %v", r)
			}
		}()
		result, err = cap.Handler(ctx, decision.Params, msg.RoomID, msg.UserID, msg.SenderName, tc)
	}()

	select {
	case <-done:
		return result, err
	case <-ctx.Done():
		// The goroutine is abandoned; the handler's own ctx is canceled
		// so it unwinds on its next blocking call.
		return protocol.HandlerResult{}, fmt.Errorf("[Execution:Invoke] handler timed out: %w", ctx.Err())
	}
}

// RedactParams returns a copy of params with PII-bearing keys removed.
// Audit and log paths must only ever see the redacted copy.
func RedactParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, k := range piiParamKeys {
		delete(out, k)
	}
	return out
}

// normalize guarantees the result invariants: a message is always
// present and a failure never claims success.
func normalize(r protocol.HandlerResult) protocol.HandlerResult {
	if r.Message == "" {
		if r.Success {
			r.Message = "完了しました。"
		} else {
			r.Message = "処理できませんでした。もう一度お試しください。"
		}
	}
	return r
}

func failure(message string) protocol.HandlerResult {
	return protocol.HandlerResult{Success: false, Message: message}
}

func userFacingError(err error) string {
	if errKind(err) == "timeout" {
		return "処理に時間がかかりすぎたため中断しました。もう一度お試しください。"
	}
	return "処理中にエラーが発生しました。もう一度お試しください。"
}

func errKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "handler"
	}
}
