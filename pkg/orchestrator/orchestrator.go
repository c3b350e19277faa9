// Package orchestrator routes messages that arrive while a multi-step
// flow is active: confirmations, goal-setting dialogues, pending task
// fields, list follow-ups and queued multi-action plans. It owns all
// conversation-state reads and writes; handlers only signal transitions
// through result metadata.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kokoro-ai/kokoro/pkg/capability"
	"github.com/kokoro-ai/kokoro/pkg/execution"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
	"github.com/kokoro-ai/kokoro/pkg/state"
	"github.com/kokoro-ai/kokoro/pkg/understanding"
)

const (
	confirmationMaxRetries = 2

	// interruptConfidence is the re-understanding confidence above which
	// a mid-dialogue message counts as a request for another capability.
	interruptConfidence = 0.7
)

// Understander re-interprets a message that arrives mid-flow, so a
// strong request for another capability can interrupt the dialogue.
type Understander interface {
	Understand(ctx context.Context, tc *protocol.Context) protocol.UnderstandingResult
}

// Result is the orchestrator's verdict for one message.
type Result struct {
	// Handled is true when the orchestrator produced the response and
	// the normal pipeline must not run.
	Handled  bool
	Response *protocol.Response

	// ResolvedItem is set when a list follow-up resolved a reference;
	// the pipeline folds it into the decision params.
	ResolvedItem *state.ListItem

	// ResumeSuffix is appended to the pipeline's response when an active
	// flow was interrupted by an unrelated request.
	ResumeSuffix string
}

// Orchestrator is the session router.
type Orchestrator struct {
	states          state.Store
	executor        *execution.Executor
	und             Understander
	continuationMax int
	stateTimeout    time.Duration
	listTimeout     time.Duration
	logger          *slog.Logger
}

// Option tunes the orchestrator.
type Option func(*Orchestrator)

// WithContinuationMax sets the "short reply continues the flow" rune
// threshold.
func WithContinuationMax(runes int) Option {
	return func(o *Orchestrator) {
		o.continuationMax = runes
	}
}

// WithUnderstander wires intent re-detection into dialogue routing.
// Without it, routing falls back to the length heuristic alone.
func WithUnderstander(u Understander) Option {
	return func(o *Orchestrator) {
		o.und = u
	}
}

// WithTimeouts sets the multi-step and list-context TTLs.
func WithTimeouts(stateTTL, listTTL time.Duration) Option {
	return func(o *Orchestrator) {
		o.stateTimeout = stateTTL
		o.listTimeout = listTTL
	}
}

func New(states state.Store, executor *execution.Executor, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		states:          states,
		executor:        executor,
		continuationMax: 20,
		stateTimeout:    30 * time.Minute,
		listTimeout:     5 * time.Minute,
		logger:          logger,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Route inspects the active conversation state and decides whether this
// message belongs to it. A state-store failure degrades to stateless
// handling rather than blocking the turn.
func (o *Orchestrator) Route(ctx context.Context, tc *protocol.Context) Result {
	msg := tc.Message

	st, err := o.states.Get(ctx, msg.TenantID, msg.RoomID, msg.UserID)
	if err != nil {
		o.logger.Warn("state read degraded", "kind", "store")
		return Result{}
	}
	if st == nil {
		return Result{}
	}

	// Stop words abort any flow, whatever step it is on.
	if understanding.IsStopWord(msg.Text) {
		o.clear(ctx, &msg, state.ExitUserCancel)
		return handled("承知しました。中断します。", string(st.Type), false)
	}

	switch st.Type {
	case state.TypeConfirmation:
		return o.routeConfirmation(ctx, st, tc)
	case state.TypeGoalSetting, state.TypeAnnouncement:
		return o.routeDialogue(ctx, st, tc)
	case state.TypeTaskPending:
		return o.routeTaskPending(ctx, st, tc)
	case state.TypeListContext:
		return o.routeListContext(ctx, st, tc)
	case state.TypeMultiAction:
		return o.routeMultiAction(ctx, st, tc)
	default:
		o.logger.Error("unknown state type cleared", "type", string(st.Type))
		o.clear(ctx, &msg, state.ExitError)
		return Result{}
	}
}

// routeConfirmation parses yes/no/numbered answers. The first
// unparseable reply re-prompts; the second ends the flow without
// executing anything.
func (o *Orchestrator) routeConfirmation(ctx context.Context, st *state.ConversationState, tc *protocol.Context) Result {
	msg := tc.Message

	var data state.ConfirmationData
	if err := st.DecodeData(&data); err != nil {
		o.logger.Error("confirmation payload corrupt", "kind", "decode")
		o.clear(ctx, &msg, state.ExitError)
		return Result{}
	}

	answer := parseAnswer(msg.Text, len(data.Options))
	switch answer {
	case "yes":
		o.clear(ctx, &msg, state.ExitCompleted)
		decision := &protocol.DecisionResult{
			ID:         fmt.Sprintf("confirm-%d", time.Now().UnixNano()),
			Action:     data.PendingAction,
			Params:     data.PendingParams,
			Confidence: 1.0,
			RiskLevel:  protocol.RiskLevel(data.RiskLevel),
		}
		result := o.executor.Execute(ctx, decision, tc)
		resp := responseFrom(result, data.PendingAction)
		o.applyMetadata(ctx, tc, result)
		return Result{Handled: true, Response: resp}

	case "no":
		o.clear(ctx, &msg, state.ExitUserCancel)
		return handled("承知しました。中止します。", string(state.TypeConfirmation), false)

	default:
		data.Retries++
		if data.Retries >= confirmationMaxRetries {
			o.clear(ctx, &msg, state.ExitError)
			return handled("もう一度、最初から教えてください。", string(state.TypeConfirmation), false)
		}
		if st.Data == nil {
			st.Data = map[string]any{}
		}
		st.Data["retries"] = data.Retries
		st.ExpiresAt = time.Now().Add(o.stateTimeout)
		o.save(ctx, st)
		prompt := "「はい」か「いいえ」でお答えください。"
		if len(data.Options) > 0 {
			prompt = "番号でお答えください: " + strings.Join(data.Options, " / ")
		}
		return handledAwaiting(prompt, string(state.TypeConfirmation))
	}
}

// routeDialogue handles goal-setting and announcement drafting. The
// message is re-understood first: a strong match for another capability
// interrupts, whatever its length. Otherwise a short or
// continuation-flavored reply feeds the flow, and anything else is an
// interruption too: the flow is parked with its partial answers and the
// new request runs normally, with a resume hint appended to its
// response.
func (o *Orchestrator) routeDialogue(ctx context.Context, st *state.ConversationState, tc *protocol.Context) Result {
	msg := tc.Message

	if parked(st) {
		return o.routeParked(ctx, st, tc)
	}

	if o.und != nil {
		ur := o.und.Understand(ctx, tc)
		if ur.Intent != capability.GeneralConversation &&
			ur.Intent != dialogueAction(st.Type) &&
			ur.Confidence >= interruptConfidence {
			return o.park(ctx, st, &msg)
		}
	}

	if understanding.IsContinuation(msg.Text) || utf8.RuneCountInString(msg.Text) <= o.continuationMax {
		action := dialogueAction(st.Type)
		params := map[string]any{"reply": msg.Text}
		for k, v := range st.Data {
			params[k] = v
		}
		decision := &protocol.DecisionResult{
			ID:         fmt.Sprintf("dialogue-%d", time.Now().UnixNano()),
			Action:     action,
			Params:     params,
			Confidence: 1.0,
		}
		result := o.executor.Execute(ctx, decision, tc)
		if !continuesFlow(result) {
			o.clear(ctx, &msg, state.ExitCompleted)
		} else {
			o.applyMetadata(ctx, tc, result)
		}
		return Result{Handled: true, Response: responseFrom(result, action)}
	}

	return o.park(ctx, st, &msg)
}

// park suspends a dialogue, keeping its partial answers addressable for
// a later resume. The interrupting message falls through to the normal
// pipeline with a resume hint appended to its response.
func (o *Orchestrator) park(ctx context.Context, st *state.ConversationState, msg *protocol.Message) Result {
	data := map[string]any{}
	for k, v := range st.Data {
		data[k] = v
	}
	data["interrupted"] = true
	data["reference_id"] = uuid.NewString()
	o.saveNew(ctx, msg, st.Type, data, o.stateTimeout)
	o.logger.Info("dialogue interrupted", "type", string(st.Type))
	return Result{ResumeSuffix: resumeSuffix(st.Type)}
}

func parked(st *state.ConversationState) bool {
	b, _ := st.Data["interrupted"].(bool)
	return b
}

// routeParked decides whether a message revives a suspended dialogue.
// An explicit resume request re-runs the flow's current step from the
// saved answers; anything else falls through to the pipeline and the
// parked flow stays addressable until its TTL.
func (o *Orchestrator) routeParked(ctx context.Context, st *state.ConversationState, tc *protocol.Context) Result {
	if !wantsResume(tc.Message.Text) {
		return Result{}
	}

	action := dialogueAction(st.Type)
	params := map[string]any{}
	for k, v := range st.Data {
		if k == "interrupted" || k == "reference_id" {
			continue
		}
		params[k] = v
	}
	decision := &protocol.DecisionResult{
		ID:         fmt.Sprintf("resume-%d", time.Now().UnixNano()),
		Action:     action,
		Params:     params,
		Confidence: 1.0,
	}
	result := o.executor.Execute(ctx, decision, tc)
	if !continuesFlow(result) {
		o.clear(ctx, &tc.Message, state.ExitCompleted)
	} else {
		o.applyMetadata(ctx, tc, result)
	}
	return Result{Handled: true, Response: responseFrom(result, action)}
}

func wantsResume(text string) bool {
	for _, word := range []string{"続き", "つづき", "再開"} {
		if strings.Contains(text, word) {
			return true
		}
	}
	return false
}

// routeTaskPending merges the reply into the first missing field.
func (o *Orchestrator) routeTaskPending(ctx context.Context, st *state.ConversationState, tc *protocol.Context) Result {
	msg := tc.Message

	var data state.TaskPendingData
	if err := st.DecodeData(&data); err != nil {
		o.logger.Error("task-pending payload corrupt", "kind", "decode")
		o.clear(ctx, &msg, state.ExitError)
		return Result{}
	}
	if data.Collected == nil {
		data.Collected = map[string]any{}
	}
	if len(data.MissingFields) > 0 {
		data.Collected[data.MissingFields[0]] = strings.TrimSpace(msg.Text)
		data.MissingFields = data.MissingFields[1:]
	}

	if len(data.MissingFields) > 0 {
		st.Data = map[string]any{
			"collected":      data.Collected,
			"missing_fields": data.MissingFields,
		}
		st.ExpiresAt = time.Now().Add(o.stateTimeout)
		o.save(ctx, st)
		return handledAwaiting(fieldPrompt(data.MissingFields[0]), string(state.TypeTaskPending))
	}

	o.clear(ctx, &msg, state.ExitCompleted)
	decision := &protocol.DecisionResult{
		ID:         fmt.Sprintf("pending-%d", time.Now().UnixNano()),
		Action:     "task_create",
		Params:     data.Collected,
		Confidence: 1.0,
		RiskLevel:  protocol.RiskMedium,
	}
	result := o.executor.Execute(ctx, decision, tc)
	o.applyMetadata(ctx, tc, result)
	return Result{Handled: true, Response: responseFrom(result, "task_create")}
}

// routeListContext resolves ordinal and demonstrative references against
// the last shown list. Unrelated messages fall through with the state
// kept until its TTL.
func (o *Orchestrator) routeListContext(ctx context.Context, st *state.ConversationState, tc *protocol.Context) Result {
	var data state.ListContextData
	if err := st.DecodeData(&data); err != nil {
		o.logger.Error("list-context payload corrupt", "kind", "decode")
		o.clear(ctx, &tc.Message, state.ExitError)
		return Result{}
	}

	idx, ok := resolveOrdinal(tc.Message.Text, len(data.Items))
	if !ok {
		return Result{}
	}

	item := data.Items[idx]
	o.clear(ctx, &tc.Message, state.ExitCompleted)
	return Result{ResolvedItem: &item}
}

// routeMultiAction advances the queued plan by one step per message.
func (o *Orchestrator) routeMultiAction(ctx context.Context, st *state.ConversationState, tc *protocol.Context) Result {
	msg := tc.Message

	var data state.MultiActionData
	if err := st.DecodeData(&data); err != nil || len(data.Remaining) == 0 {
		o.clear(ctx, &msg, state.ExitError)
		return Result{}
	}

	step := data.Remaining[0]
	data.Remaining = data.Remaining[1:]
	data.Completed = append(data.Completed, step.Action)

	decision := &protocol.DecisionResult{
		ID:         fmt.Sprintf("plan-%d", time.Now().UnixNano()),
		Action:     step.Action,
		Params:     step.Params,
		Confidence: 1.0,
	}
	result := o.executor.Execute(ctx, decision, tc)

	if len(data.Remaining) == 0 {
		o.clear(ctx, &msg, state.ExitCompleted)
	} else {
		st.Data = map[string]any{
			"remaining": data.Remaining,
			"completed": data.Completed,
		}
		st.ExpiresAt = time.Now().Add(o.stateTimeout)
		o.save(ctx, st)
	}
	return Result{Handled: true, Response: responseFrom(result, step.Action)}
}

// ApplyMetadata turns handler state signals into stored conversation
// state. The pipeline calls this after every stateless execution.
func (o *Orchestrator) ApplyMetadata(ctx context.Context, tc *protocol.Context, result protocol.HandlerResult) {
	o.applyMetadata(ctx, tc, result)
}

func (o *Orchestrator) applyMetadata(ctx context.Context, tc *protocol.Context, result protocol.HandlerResult) {
	md := result.Metadata
	msg := tc.Message

	switch {
	case md.AwaitingConfirmation:
		o.saveNew(ctx, &msg, state.TypeConfirmation, map[string]any{
			"pending_action": md.PendingAction,
			"pending_params": md.PendingParams,
			"options":        md.ConfirmationOptions,
			"risk_level":     md.PendingRisk,
			"retries":        0,
		}, o.stateTimeout)

	case len(md.MissingFields) > 0:
		o.saveNew(ctx, &msg, state.TypeTaskPending, map[string]any{
			"collected":      md.PendingParams,
			"missing_fields": md.MissingFields,
		}, o.stateTimeout)

	case len(md.ListItems) > 0:
		items := make([]map[string]any, len(md.ListItems))
		kind := ""
		for i, it := range md.ListItems {
			items[i] = map[string]any{"id": it.ID, "label": it.Label}
			kind = it.Kind
		}
		o.saveNew(ctx, &msg, state.TypeListContext, map[string]any{
			"kind":  kind,
			"items": items,
		}, o.listTimeout)

	case md.AwaitingInput && md.NewState != "":
		// PendingParams carries the dialogue's accumulated fields.
		o.saveNew(ctx, &msg, state.Type(md.NewState), md.PendingParams, o.stateTimeout)
	}
}

// SavePlan stores the tail of a split compound request.
func (o *Orchestrator) SavePlan(ctx context.Context, tc *protocol.Context, remaining []protocol.PlannedAction) {
	if len(remaining) == 0 {
		return
	}
	steps := make([]map[string]any, len(remaining))
	for i, step := range remaining {
		steps[i] = map[string]any{"action": step.Action, "params": step.Params}
	}
	o.saveNew(ctx, &tc.Message, state.TypeMultiAction, map[string]any{
		"remaining": steps,
	}, o.stateTimeout)
}

func (o *Orchestrator) saveNew(ctx context.Context, msg *protocol.Message, typ state.Type, data map[string]any, ttl time.Duration) {
	// Replace whatever flow was active; the newest signal wins.
	if err := o.states.Clear(ctx, msg.TenantID, msg.RoomID, msg.UserID, state.ExitInterrupted); err != nil {
		o.logger.Warn("state clear degraded", "kind", "store")
	}
	st := &state.ConversationState{
		OrganizationID: msg.TenantID,
		RoomID:         msg.RoomID,
		UserID:         msg.UserID,
		Type:           typ,
		Data:           data,
		ExpiresAt:      time.Now().Add(ttl),
	}
	o.save(ctx, st)
}

func (o *Orchestrator) save(ctx context.Context, st *state.ConversationState) {
	if err := o.states.Save(ctx, st); err != nil {
		o.logger.Warn("state save degraded", "kind", "store")
	}
}

func (o *Orchestrator) clear(ctx context.Context, msg *protocol.Message, reason string) {
	if err := o.states.Clear(ctx, msg.TenantID, msg.RoomID, msg.UserID, reason); err != nil {
		o.logger.Warn("state clear degraded", "kind", "store")
	}
}

// parseAnswer handles numbered options ahead of yes/no words.
func parseAnswer(text string, optionCount int) string {
	trimmed := strings.TrimSpace(text)
	if n, err := strconv.Atoi(trimmed); err == nil && optionCount > 0 {
		switch {
		case n == 1:
			return "yes"
		case n >= 2 && n <= optionCount:
			return "no"
		}
	}
	return understanding.ParseConfirmation(trimmed)
}

var ordinalWords = map[string]int{
	"最初の": 0, "一番目": 0, "1番目": 0, "これ": 0, "それ": 0,
	"二番目": 1, "2番目": 1,
	"三番目": 2, "3番目": 2,
}

// resolveOrdinal maps "1", "最初の", "最後の" to a list index.
func resolveOrdinal(text string, count int) (int, bool) {
	if count == 0 {
		return 0, false
	}
	trimmed := strings.TrimSpace(text)

	if n, err := strconv.Atoi(trimmed); err == nil && n >= 1 && n <= count {
		return n - 1, true
	}
	if strings.Contains(trimmed, "最後") {
		return count - 1, true
	}
	for word, idx := range ordinalWords {
		if strings.Contains(trimmed, word) && idx < count {
			return idx, true
		}
	}
	return 0, false
}

func dialogueAction(typ state.Type) string {
	if typ == state.TypeAnnouncement {
		return "announcement_create"
	}
	return "goal_register"
}

func resumeSuffix(typ state.Type) string {
	if typ == state.TypeAnnouncement {
		return "\n（お知らせの作成は中断しました。「お知らせ」でいつでも再開できます）"
	}
	return "\n（目標設定の続きは「目標」でいつでも再開できます）"
}

func continuesFlow(result protocol.HandlerResult) bool {
	md := result.Metadata
	return md.AwaitingInput || md.AwaitingConfirmation || len(md.MissingFields) > 0
}

func fieldPrompt(field string) string {
	switch field {
	case "body":
		return "タスクの内容を教えてください。"
	case "limit_date":
		return "期限はいつにしますか？"
	case "assigned_to":
		return "担当者はどなたですか？"
	default:
		return fmt.Sprintf("%s を教えてください。", field)
	}
}

func handled(message, from string, awaiting bool) Result {
	return Result{
		Handled: true,
		Response: &protocol.Response{
			Message:       message,
			StateChanged:  true,
			ActionTaken:   "state_" + strings.ToLower(from),
			Success:       true,
			AwaitingInput: awaiting,
		},
	}
}

func handledAwaiting(message, from string) Result {
	r := handled(message, from, true)
	r.Response.AwaitingInput = true
	return r
}

func responseFrom(result protocol.HandlerResult, action string) *protocol.Response {
	return &protocol.Response{
		Message:              result.Message,
		ActionTaken:          action,
		Success:              result.Success,
		Suggestions:          result.Suggestions,
		AwaitingConfirmation: result.Metadata.AwaitingConfirmation,
		AwaitingInput:        result.Metadata.AwaitingInput,
		StateChanged:         true,
		NewState:             result.Metadata.NewState,
	}
}
