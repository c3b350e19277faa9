package memory

import (
	"context"
	"fmt"
	"time"
)

// Reader is the durable read surface consumed by the context builder and
// the knowledge path. Every method takes the tenant first; implementations
// must reject an empty tenant before touching the store.
type Reader interface {
	RecentConversation(ctx context.Context, tenant, room string, limit int) ([]ConversationEntry, error)
	ConversationSummary(ctx context.Context, tenant, room string) (string, error)
	UserPreferences(ctx context.Context, tenant, user string) (*Preferences, error)
	Persons(ctx context.Context, tenant string) ([]Person, error)
	RecentTasks(ctx context.Context, tenant, user string, limit int) ([]Task, error)
	ActiveGoals(ctx context.Context, tenant, user string) ([]Goal, error)
	RecentInsights(ctx context.Context, tenant string, limit int) ([]Insight, error)
	KnowledgeChunks(ctx context.Context, tenant string, ids []string) ([]KnowledgeChunk, error)
	EpisodesByKeywords(ctx context.Context, tenant string, keywords []string, limit int) ([]Episode, error)
}

// Writer is the durable write surface. The decision core owns episode and
// learning writes; handlers own their domain entities.
type Writer interface {
	AppendConversation(ctx context.Context, tenant, room string, entry ConversationEntry) error
	AppendEpisode(ctx context.Context, tenant string, episode Episode) error
	AppendOutcome(ctx context.Context, tenant string, outcome Outcome) error
	AppendFeedback(ctx context.Context, tenant string, feedback Feedback) error
	AppendReview(ctx context.Context, tenant, decisionID, reason string) error

	CreateTask(ctx context.Context, tenant string, task Task) error
	CreateGoal(ctx context.Context, tenant string, goal Goal) error
}

// Store combines both surfaces.
type Store interface {
	Reader
	Writer
}

// StoreError is a component-scoped store failure.
type StoreError struct {
	Component string
	Action    string
	Message   string
	Err       error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Action, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func newStoreError(action, message string, err error) *StoreError {
	return &StoreError{Component: "Memory", Action: action, Message: message, Err: err}
}

// requireTenant rejects tenant-less queries before execution. A missing
// tenant filter is a programmer error, never a data condition.
func requireTenant(action, tenant string) error {
	if tenant == "" {
		return newStoreError(action, "query rejected: missing organization filter", nil)
	}
	return nil
}

// truncateTime drops sub-second precision so round-trips through the
// store compare equal across drivers.
func truncateTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
