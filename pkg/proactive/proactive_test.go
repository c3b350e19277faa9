package proactive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokoro-ai/kokoro/pkg/audit"
	"github.com/kokoro-ai/kokoro/pkg/capability"
	"github.com/kokoro-ai/kokoro/pkg/config"
	"github.com/kokoro-ai/kokoro/pkg/execution"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
)

func newGenerator(t *testing.T, handlerCalls *int) *Generator {
	t.Helper()

	handler := func(ctx context.Context, params map[string]any, roomID, accountID, senderName string, tc *protocol.Context) (protocol.HandlerResult, error) {
		if handlerCalls != nil {
			*handlerCalls++
		}
		return protocol.HandlerResult{Success: true, Message: "リマインドしました"}, nil
	}
	handlers := map[string]protocol.Handler{
		"general_conversation": handler,
		"task_remind":          handler,
		"announcement_create":  handler,
		"broadcast_all":        handler,
	}
	catalog, err := capability.Build(map[string]*config.CapabilityConfig{
		"general_conversation": {RiskLevel: "LOW"},
		"task_remind":          {RiskLevel: "LOW"},
		"announcement_create":  {RiskLevel: "HIGH", RequiresConfirmation: true},
		"broadcast_all":        {RiskLevel: "CRITICAL"},
	}, handlers)
	require.NoError(t, err)

	exec := execution.NewExecutor(catalog, execution.NewLocalDeduper(time.Second), nil)
	return NewGenerator(catalog, exec, audit.NewAuditor(nil, nil), nil, nil)
}

func TestLowRiskTriggerExecutes(t *testing.T) {
	calls := 0
	g := newGenerator(t, &calls)

	resp, err := g.Run(t.Context(), Trigger{
		Tenant: "org1", RoomID: "room1", UserID: "u1",
		Action: "task_remind", Reason: "期限が近いタスク",
	})

	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "task_remind", resp.ActionTaken)
	assert.Equal(t, 1, calls)
}

func TestHighRiskTriggerDropped(t *testing.T) {
	calls := 0
	g := newGenerator(t, &calls)

	resp, err := g.Run(t.Context(), Trigger{
		Tenant: "org1", RoomID: "room1", UserID: "u1",
		Action: "announcement_create", Reason: "定例のお知らせ",
	})

	// Nobody can answer a confirmation prompt the system asks itself, so
	// anything short of an auto-approval is dropped outright.
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, 0, calls)
}

func TestCriticalTriggerDropped(t *testing.T) {
	calls := 0
	g := newGenerator(t, &calls)

	resp, err := g.Run(t.Context(), Trigger{
		Tenant: "org1", RoomID: "room1", UserID: "u1",
		Action: "broadcast_all", Reason: "全社通知",
	})

	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, 0, calls)
}

func TestUnknownActionDropped(t *testing.T) {
	g := newGenerator(t, nil)

	resp, err := g.Run(t.Context(), Trigger{
		Tenant: "org1", Action: "made_up",
	})

	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestMissingTenantRejected(t *testing.T) {
	g := newGenerator(t, nil)

	_, err := g.Run(t.Context(), Trigger{Action: "task_remind"})
	assert.Error(t, err)
}
