package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokoro-ai/kokoro/pkg/capability"
	"github.com/kokoro-ai/kokoro/pkg/config"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
)

func buildCatalog(t *testing.T, handlers map[string]protocol.Handler) *capability.Catalog {
	t.Helper()
	rows := map[string]*config.CapabilityConfig{
		"general_conversation": {RiskLevel: "LOW"},
	}
	for name := range handlers {
		if name != "general_conversation" {
			rows[name] = &config.CapabilityConfig{RiskLevel: "LOW"}
		}
	}
	if _, ok := handlers["general_conversation"]; !ok {
		handlers["general_conversation"] = func(ctx context.Context, params map[string]any, roomID, accountID, senderName string, tc *protocol.Context) (protocol.HandlerResult, error) {
			return protocol.HandlerResult{Success: true, Message: "ok"}, nil
		}
	}
	catalog, err := capability.Build(rows, handlers)
	require.NoError(t, err)
	return catalog
}

func turnContext() *protocol.Context {
	return &protocol.Context{
		Message: protocol.Message{
			TenantID: "org1", RoomID: "room1", UserID: "u1",
			SenderName: "田中", Text: "タスクを見せて", ReceivedAt: time.Now(),
		},
	}
}

func TestExecuteDispatchesToHandler(t *testing.T) {
	var gotRoom, gotUser, gotSender string
	catalog := buildCatalog(t, map[string]protocol.Handler{
		"task_list": func(ctx context.Context, params map[string]any, roomID, accountID, senderName string, tc *protocol.Context) (protocol.HandlerResult, error) {
			gotRoom, gotUser, gotSender = roomID, accountID, senderName
			return protocol.HandlerResult{Success: true, Message: "3件のタスクがあります"}, nil
		},
	})

	exec := NewExecutor(catalog, NewLocalDeduper(5*time.Second), nil)
	result := exec.Execute(t.Context(), &protocol.DecisionResult{ID: "d1", Action: "task_list"}, turnContext())

	assert.True(t, result.Success)
	assert.Equal(t, "3件のタスクがあります", result.Message)
	assert.Equal(t, "room1", gotRoom)
	assert.Equal(t, "u1", gotUser)
	assert.Equal(t, "田中", gotSender)
}

func TestExecuteHandlerErrorBecomesStructuredFailure(t *testing.T) {
	catalog := buildCatalog(t, map[string]protocol.Handler{
		"task_list": func(ctx context.Context, params map[string]any, roomID, accountID, senderName string, tc *protocol.Context) (protocol.HandlerResult, error) {
			return protocol.HandlerResult{}, errors.New("backend exploded")
		},
	})

	exec := NewExecutor(catalog, NewLocalDeduper(5*time.Second), nil)
	result := exec.Execute(t.Context(), &protocol.DecisionResult{ID: "d1", Action: "task_list"}, turnContext())

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Message)
	// The backend error text never reaches the user.
	assert.NotContains(t, result.Message, "exploded")
}

func TestExecuteTimeoutNoRetry(t *testing.T) {
	calls := 0
	catalog := buildCatalog(t, map[string]protocol.Handler{
		"slow": func(ctx context.Context, params map[string]any, roomID, accountID, senderName string, tc *protocol.Context) (protocol.HandlerResult, error) {
			calls++
			select {
			case <-ctx.Done():
				return protocol.HandlerResult{}, ctx.Err()
			case <-time.After(time.Second):
				return protocol.HandlerResult{Success: true, Message: "late"}, nil
			}
		},
	})

	exec := NewExecutor(catalog, NewLocalDeduper(5*time.Second), nil, WithTimeout(30*time.Millisecond))
	result := exec.Execute(t.Context(), &protocol.DecisionResult{ID: "d1", Action: "slow"}, turnContext())

	assert.False(t, result.Success)
	assert.Equal(t, 1, calls)
}

func TestExecutePanicRecovered(t *testing.T) {
	catalog := buildCatalog(t, map[string]protocol.Handler{
		"boom": func(ctx context.Context, params map[string]any, roomID, accountID, senderName string, tc *protocol.Context) (protocol.HandlerResult, error) {
			panic("nil map write")
		},
	})

	exec := NewExecutor(catalog, NewLocalDeduper(5*time.Second), nil)
	result := exec.Execute(t.Context(), &protocol.DecisionResult{ID: "d1", Action: "boom"}, turnContext())

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Message)
}

func TestExecuteDuplicateSuppressed(t *testing.T) {
	calls := 0
	catalog := buildCatalog(t, map[string]protocol.Handler{
		"task_create": func(ctx context.Context, params map[string]any, roomID, accountID, senderName string, tc *protocol.Context) (protocol.HandlerResult, error) {
			calls++
			return protocol.HandlerResult{Success: true, Message: "作成しました"}, nil
		},
	})

	exec := NewExecutor(catalog, NewLocalDeduper(5*time.Second), nil)
	decision := &protocol.DecisionResult{ID: "d1", Action: "task_create", Params: map[string]any{"body": "週報"}}

	first := exec.Execute(t.Context(), decision, turnContext())
	second := exec.Execute(t.Context(), decision, turnContext())

	assert.True(t, first.Success)
	assert.True(t, second.Success)
	assert.Equal(t, 1, calls)
	assert.NotEqual(t, first.Message, second.Message)
}

func TestLocalDeduperWindowExpires(t *testing.T) {
	d := NewLocalDeduper(5 * time.Second)
	now := time.Now()
	d.now = func() time.Time { return now }

	seen, err := d.Seen(t.Context(), "k")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, _ = d.Seen(t.Context(), "k")
	assert.True(t, seen)

	now = now.Add(6 * time.Second)
	seen, _ = d.Seen(t.Context(), "k")
	assert.False(t, seen)
}

func TestDedupKeyStableAcrossParamOrder(t *testing.T) {
	a := DedupKey("org1", "room1", "u1", "task_create", map[string]any{"x": 1, "y": "two"})
	b := DedupKey("org1", "room1", "u1", "task_create", map[string]any{"y": "two", "x": 1})
	c := DedupKey("org1", "room1", "u2", "task_create", map[string]any{"x": 1, "y": "two"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestRedactParamsStripsPIIKeys(t *testing.T) {
	params := map[string]any{
		"message":  "彼女は退職を考えている",
		"body":     "私信です",
		"content":  "秘密",
		"text":     "raw",
		"task_id":  "t1",
		"deadline": "2026-09-01",
	}

	redacted := RedactParams(params)

	assert.NotContains(t, redacted, "message")
	assert.NotContains(t, redacted, "body")
	assert.NotContains(t, redacted, "content")
	assert.NotContains(t, redacted, "text")
	assert.Equal(t, "t1", redacted["task_id"])
	// The original map is untouched.
	assert.Equal(t, "raw", params["text"])
}

func TestNormalizeFillsEmptyMessage(t *testing.T) {
	ok := normalize(protocol.HandlerResult{Success: true})
	assert.NotEmpty(t, ok.Message)

	bad := normalize(protocol.HandlerResult{Success: false})
	assert.NotEmpty(t, bad.Message)
	assert.NotEqual(t, ok.Message, bad.Message)
}
