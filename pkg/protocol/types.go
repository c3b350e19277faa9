// Package protocol defines the types that cross component boundaries inside
// the decision core: the inbound message, the per-turn context snapshot, the
// understanding/gate/decision verdicts, the handler contract and the outbound
// response.
package protocol

import (
	"context"
	"time"

	"github.com/kokoro-ai/kokoro/pkg/memory"
)

// RiskLevel classifies a capability or decision.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Urgency of the user's message.
type Urgency string

const (
	UrgencyLow      Urgency = "LOW"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyCritical Urgency = "CRITICAL"
)

// Emotion bucket detected from the message.
type Emotion string

const (
	EmotionPositive Emotion = "positive"
	EmotionNegative Emotion = "negative"
	EmotionNeutral  Emotion = "neutral"
)

// EnforcementAction is the gate's override instruction to the orchestrator.
type EnforcementAction string

const (
	EnforcementNone            EnforcementAction = "NONE"
	EnforcementForceListening  EnforcementAction = "FORCE_LISTENING"
	EnforcementBlockAndSuggest EnforcementAction = "BLOCK_AND_SUGGEST"
	EnforcementWarnOnly        EnforcementAction = "WARN_ONLY"
)

// AuthzLevel is the gate's three-level verdict.
type AuthzLevel string

const (
	AuthzAutoApprove         AuthzLevel = "AUTO_APPROVE"
	AuthzRequireConfirmation AuthzLevel = "REQUIRE_CONFIRMATION"
	AuthzRequireDoubleCheck  AuthzLevel = "REQUIRE_DOUBLE_CHECK"
)

// Attachment is an opaque handle; the core never reads attachment bytes.
type Attachment struct {
	ID   string `json:"id"`
	Kind string `json:"kind,omitempty"`
}

// Message is the inbound chat message. It lives only for one pipeline run.
type Message struct {
	TenantID    string       `json:"tenant_id"`
	RoomID      string       `json:"room_id"`
	UserID      string       `json:"user_id"`
	SenderName  string       `json:"sender_name"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReceivedAt  time.Time    `json:"received_at"`
}

// Context is the immutable per-turn snapshot assembled by the context
// builder. Every slice may be empty; a missing source never blocks a turn.
type Context struct {
	Message Message

	RecentConversation []memory.ConversationEntry
	Summary            string
	Preferences        *memory.Preferences
	Persons            []memory.Person
	ActiveTasks        []memory.Task
	ActiveGoals        []memory.Goal
	RecentInsights     []memory.Insight
	RecalledEpisodes   []memory.Episode

	// KnowledgeChunks is lazily filled by the knowledge path; empty for
	// every other capability.
	KnowledgeChunks []memory.KnowledgeChunk

	BuiltAt time.Time
}

// PronounResolution maps a pronoun in the message to a referent.
type PronounResolution struct {
	Pronoun    string  `json:"pronoun"`
	Referent   string  `json:"referent"`
	Confidence float64 `json:"confidence"`
}

// UnderstandingResult is the output of the understanding stage.
type UnderstandingResult struct {
	Intent             string              `json:"intent"`
	Confidence         float64             `json:"intent_confidence"`
	Entities           map[string]string   `json:"entities,omitempty"`
	ResolvedPronouns   []PronounResolution `json:"resolved_pronouns,omitempty"`
	Urgency            Urgency             `json:"urgency"`
	Emotion            Emotion             `json:"emotion"`
	NeedsClarification bool                `json:"needs_clarification,omitempty"`
	NeedsConfirmation  bool                `json:"needs_confirmation,omitempty"`
	RawMessage         string              `json:"raw_message"`

	// Scores holds the per-capability keyword scores computed during
	// understanding; the decision stage folds them into its weighted sum.
	Scores map[string]float64 `json:"-"`
}

// GateDecision is the authorization gate's verdict for one candidate action.
type GateDecision struct {
	Level       AuthzLevel        `json:"level"`
	Enforcement EnforcementAction `json:"enforcement_action"`
	Pattern     string            `json:"pattern,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Redirect    string            `json:"redirect,omitempty"`
}

// PlannedAction is one step of a multi-action plan.
type PlannedAction struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
	Offset int            `json:"-"`
}

// DecisionResult selects the action to execute and how.
type DecisionResult struct {
	ID                  string            `json:"id"`
	Action              string            `json:"action"`
	Params              map[string]any    `json:"params,omitempty"`
	Confidence          float64           `json:"confidence"`
	NeedsConfirmation   bool              `json:"needs_confirmation"`
	ConfirmationOptions []string          `json:"confirmation_options,omitempty"`
	RiskLevel           RiskLevel         `json:"risk_level"`
	Reasoning           string            `json:"reasoning,omitempty"`
	Enforcement         EnforcementAction `json:"enforcement_action,omitempty"`
	Plan                []PlannedAction   `json:"plan,omitempty"`
}

// ListItem is one referenceable entry stored for list-context follow-ups.
type ListItem struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Kind  string `json:"kind"`
}

// HandlerMetadata carries state-change signals from handlers back to the
// orchestrator. Handlers never write conversation state directly.
type HandlerMetadata struct {
	AwaitingInput        bool           `json:"awaiting_input,omitempty"`
	AwaitingConfirmation bool           `json:"awaiting_confirmation,omitempty"`
	PendingAction        string         `json:"pending_action,omitempty"`
	PendingParams        map[string]any `json:"pending_params,omitempty"`
	PendingRisk          string         `json:"pending_risk,omitempty"`
	ConfirmationOptions  []string       `json:"confirmation_options,omitempty"`
	MissingFields        []string       `json:"missing_fields,omitempty"`
	ListItems            []ListItem     `json:"list_items,omitempty"`
	NewState             string         `json:"new_state,omitempty"`
}

// HandlerResult is the normalized result of a capability handler.
type HandlerResult struct {
	Success     bool            `json:"success"`
	Message     string          `json:"message"`
	Data        map[string]any  `json:"data,omitempty"`
	Suggestions []string        `json:"suggestions,omitempty"`
	Metadata    HandlerMetadata `json:"metadata,omitempty"`
}

// Handler is the capability handler contract. Handlers must be
// side-effect-idempotent for identical params within the dedup window.
type Handler func(ctx context.Context, params map[string]any, roomID, accountID, senderName string, tc *Context) (HandlerResult, error)

// Response is the structured reply returned to the transport layer.
// Message must never be empty.
type Response struct {
	Message              string   `json:"message"`
	StateChanged         bool     `json:"state_changed"`
	NewState             string   `json:"new_state,omitempty"`
	ActionTaken          string   `json:"action_taken"`
	Success              bool     `json:"success"`
	Suggestions          []string `json:"suggestions,omitempty"`
	AwaitingConfirmation bool     `json:"awaiting_confirmation,omitempty"`
	AwaitingInput        bool     `json:"awaiting_input,omitempty"`
	LatencyMS            int64    `json:"latency_ms"`
}
