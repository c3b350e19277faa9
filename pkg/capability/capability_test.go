package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokoro-ai/kokoro/pkg/config"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
)

func noopHandler(ctx context.Context, params map[string]any, roomID, accountID, senderName string, tc *protocol.Context) (protocol.HandlerResult, error) {
	return protocol.HandlerResult{Success: true, Message: "ok"}, nil
}

func testHandlers() map[string]protocol.Handler {
	return map[string]protocol.Handler{
		"general_conversation": noopHandler,
		"task_list":            noopHandler,
	}
}

func TestBuildResolvesHandlers(t *testing.T) {
	catalog, err := Build(map[string]*config.CapabilityConfig{
		"general_conversation": {RiskLevel: "LOW"},
		"task_list": {
			PrimaryKeywords: []string{"タスク", "TODO"},
			RiskLevel:       "LOW",
		},
	}, testHandlers())
	require.NoError(t, err)

	assert.Equal(t, 2, catalog.Count())

	cap, ok := catalog.Get("task_list")
	require.True(t, ok)
	assert.Equal(t, protocol.RiskLow, cap.RiskLevel)
	// Keywords are normalized to lowercase at registration.
	assert.Contains(t, cap.PrimaryKeywords, "todo")
	assert.NotNil(t, cap.Handler)
}

func TestBuildRejectsUnboundHandler(t *testing.T) {
	_, err := Build(map[string]*config.CapabilityConfig{
		"general_conversation": {RiskLevel: "LOW"},
		"orphan":               {RiskLevel: "LOW", Handler: "nope"},
	}, testHandlers())
	require.Error(t, err)

	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "orphan", ce.Capability)
}

func TestBuildRequiresFallback(t *testing.T) {
	_, err := Build(map[string]*config.CapabilityConfig{
		"task_list": {RiskLevel: "LOW"},
	}, testHandlers())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fallback capability")
}

func TestBuildSkipsDisabledRows(t *testing.T) {
	off := false
	catalog, err := Build(map[string]*config.CapabilityConfig{
		"general_conversation": {RiskLevel: "LOW"},
		"task_list":            {RiskLevel: "LOW", Enabled: &off},
	}, testHandlers())
	require.NoError(t, err)

	_, ok := catalog.Get("task_list")
	assert.False(t, ok)
}

func TestSwapReplacesCatalog(t *testing.T) {
	old, err := Build(map[string]*config.CapabilityConfig{
		"general_conversation": {RiskLevel: "LOW"},
		"task_list":            {RiskLevel: "LOW"},
	}, testHandlers())
	require.NoError(t, err)

	next, err := Build(map[string]*config.CapabilityConfig{
		"general_conversation": {RiskLevel: "LOW", PrimaryKeywords: []string{"話す"}},
	}, testHandlers())
	require.NoError(t, err)

	old.Swap(next)

	_, ok := old.Get("task_list")
	assert.False(t, ok)
	gc, ok := old.Get("general_conversation")
	require.True(t, ok)
	assert.Contains(t, gc.PrimaryKeywords, "話す")
}
