package state

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Type names a multi-step conversation flow. A room/user pair holds at
// most one active state at a time.
type Type string

const (
	// TypeGoalSetting is the multi-turn goal registration dialogue.
	TypeGoalSetting Type = "GOAL_SETTING"
	// TypeAnnouncement is the announcement draft/confirm flow.
	TypeAnnouncement Type = "ANNOUNCEMENT"
	// TypeConfirmation awaits a yes/no (or numbered) answer before a
	// pending action runs.
	TypeConfirmation Type = "CONFIRMATION"
	// TypeTaskPending collects missing task fields across turns.
	TypeTaskPending Type = "TASK_PENDING"
	// TypeListContext remembers a just-shown list so ordinal follow-ups
	// ("1", "最初の") resolve against it.
	TypeListContext Type = "LIST_CONTEXT"
	// TypeMultiAction tracks a split compound request mid-execution.
	TypeMultiAction Type = "MULTI_ACTION"
)

// Exit reasons recorded in the transition history when a state clears.
const (
	ExitCompleted   = "completed"
	ExitUserCancel  = "user_cancel"
	ExitTimeout     = "timeout"
	ExitError       = "error"
	ExitInterrupted = "interrupted"
)

// ConversationState is the single active flow for a (tenant, room, user)
// triple. Data carries flow-specific fields; decode with DecodeData.
type ConversationState struct {
	OrganizationID string         `json:"organization_id"`
	RoomID         string         `json:"room_id"`
	UserID         string         `json:"user_id"`
	Type           Type           `json:"type"`
	Data           map[string]any `json:"data,omitempty"`
	Version        int            `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

// Expired reports whether the state's TTL has passed.
func (s *ConversationState) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// DecodeData maps the loose Data payload into a typed flow struct.
func (s *ConversationState) DecodeData(out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "json",
	})
	if err != nil {
		return fmt.Errorf("[State:DecodeData] decoder setup failed: %w", err)
	}
	if err := decoder.Decode(s.Data); err != nil {
		return fmt.Errorf("[State:DecodeData] decode %s payload failed: %w", s.Type, err)
	}
	return nil
}

// GoalSettingData is the TypeGoalSetting payload.
type GoalSettingData struct {
	Step        int    `json:"step"`
	Title       string `json:"title,omitempty"`
	Axis        string `json:"axis,omitempty"`
	Interrupted string `json:"interrupted,omitempty"`
}

// ConfirmationData is the TypeConfirmation payload. PendingAction and
// PendingParams replay into the executor on a positive answer.
type ConfirmationData struct {
	PendingAction string         `json:"pending_action"`
	PendingParams map[string]any `json:"pending_params,omitempty"`
	Options       []string       `json:"options,omitempty"`
	Retries       int            `json:"retries"`
	RiskLevel     string         `json:"risk_level,omitempty"`
}

// TaskPendingData is the TypeTaskPending payload.
type TaskPendingData struct {
	Collected     map[string]any `json:"collected,omitempty"`
	MissingFields []string       `json:"missing_fields,omitempty"`
}

// ListContextData is the TypeListContext payload. Items are stored in
// display order so "1" resolves to Items[0].
type ListContextData struct {
	Kind  string     `json:"kind"`
	Items []ListItem `json:"items"`
}

// ListItem is one displayed row with its backing entity ID.
type ListItem struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// MultiActionData is the TypeMultiAction payload.
type MultiActionData struct {
	Remaining []PlannedStep `json:"remaining"`
	Completed []string      `json:"completed,omitempty"`
}

// PlannedStep is one queued action of a split compound request.
type PlannedStep struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// Transition is one recorded state change, kept for audit and debugging.
type Transition struct {
	OrganizationID string    `json:"organization_id"`
	RoomID         string    `json:"room_id"`
	UserID         string    `json:"user_id"`
	From           Type      `json:"from,omitempty"`
	FromStep       int       `json:"from_step,omitempty"`
	To             Type      `json:"to,omitempty"`
	ToStep         int       `json:"to_step,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	At             time.Time `json:"at"`
}

// stepOf extracts the numeric step from a flow payload. JSON round-trips
// deliver numbers as float64.
func stepOf(data map[string]any) int {
	switch v := data["step"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
