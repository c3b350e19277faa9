package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokoro-ai/kokoro/pkg/capability"
	"github.com/kokoro-ai/kokoro/pkg/config"
	"github.com/kokoro-ai/kokoro/pkg/execution"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
	"github.com/kokoro-ai/kokoro/pkg/state"
	"github.com/kokoro-ai/kokoro/pkg/understanding"
)

type fixture struct {
	orch       *Orchestrator
	states     *state.MemoryStore
	calls      map[string]int
	lastParams map[string]any
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		states: state.NewMemoryStore(),
		calls:  map[string]int{},
	}

	record := func(name string, result protocol.HandlerResult) protocol.Handler {
		return func(ctx context.Context, params map[string]any, roomID, accountID, senderName string, tc *protocol.Context) (protocol.HandlerResult, error) {
			f.calls[name]++
			f.lastParams = params
			return result, nil
		}
	}
	handlers := map[string]protocol.Handler{
		"general_conversation": record("general_conversation", protocol.HandlerResult{Success: true, Message: "どうしました？"}),
		"task_list":            record("task_list", protocol.HandlerResult{Success: true, Message: "タスクは1件です"}),
		"task_create":          record("task_create", protocol.HandlerResult{Success: true, Message: "タスクを作成しました"}),
		"announcement_create":  record("announcement_create", protocol.HandlerResult{Success: true, Message: "お知らせを送信しました"}),
		"goal_register": record("goal_register", protocol.HandlerResult{
			Success: true, Message: "目標を登録しました",
		}),
	}
	catalog, err := capability.Build(map[string]*config.CapabilityConfig{
		"general_conversation": {RiskLevel: "LOW"},
		"task_list": {
			RiskLevel:         "LOW",
			PrimaryKeywords:   []string{"タスク"},
			SecondaryKeywords: []string{"見せて", "一覧"},
		},
		"task_create":         {RiskLevel: "MEDIUM"},
		"announcement_create": {RiskLevel: "HIGH", RequiresConfirmation: true},
		"goal_register":       {RiskLevel: "MEDIUM"},
	}, handlers)
	require.NoError(t, err)

	exec := execution.NewExecutor(catalog, execution.NewLocalDeduper(time.Millisecond), nil)
	f.orch = New(f.states, exec, nil,
		WithUnderstander(understanding.NewEngine(catalog, nil)),
	)
	return f
}

func turn(text string) *protocol.Context {
	return &protocol.Context{
		Message: protocol.Message{
			TenantID: "org1", RoomID: "room1", UserID: "u1",
			SenderName: "田中", Text: text, ReceivedAt: time.Now(),
		},
	}
}

func (f *fixture) seedState(t *testing.T, typ state.Type, data map[string]any) {
	t.Helper()
	require.NoError(t, f.states.Save(t.Context(), &state.ConversationState{
		OrganizationID: "org1", RoomID: "room1", UserID: "u1",
		Type: typ, Data: data,
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}))
}

func (f *fixture) activeState(t *testing.T) *state.ConversationState {
	t.Helper()
	st, err := f.states.Get(t.Context(), "org1", "room1", "u1")
	require.NoError(t, err)
	return st
}

func TestRouteNoStatePassesThrough(t *testing.T) {
	f := newFixture(t)
	result := f.orch.Route(t.Context(), turn("タスクを見せて"))
	assert.False(t, result.Handled)
	assert.Nil(t, result.Response)
}

func TestStopWordClearsAnyFlow(t *testing.T) {
	for _, typ := range []state.Type{
		state.TypeGoalSetting, state.TypeConfirmation, state.TypeTaskPending,
	} {
		t.Run(string(typ), func(t *testing.T) {
			f := newFixture(t)
			f.seedState(t, typ, map[string]any{"pending_action": "task_create"})

			result := f.orch.Route(t.Context(), turn("やめる"))

			require.True(t, result.Handled)
			assert.Contains(t, result.Response.Message, "中断")
			assert.Nil(t, f.activeState(t))
			// Nothing was executed on the way out.
			assert.Empty(t, f.calls)
		})
	}
}

func TestConfirmationYesExecutesPending(t *testing.T) {
	f := newFixture(t)
	f.seedState(t, state.TypeConfirmation, map[string]any{
		"pending_action": "announcement_create",
		"pending_params": map[string]any{"body": "明日は休業です"},
		"retries":        0,
	})

	result := f.orch.Route(t.Context(), turn("はい"))

	require.True(t, result.Handled)
	assert.True(t, result.Response.Success)
	assert.Equal(t, 1, f.calls["announcement_create"])
	assert.Equal(t, "明日は休業です", f.lastParams["body"])
	assert.Nil(t, f.activeState(t))
}

func TestConfirmationNumericAnswer(t *testing.T) {
	f := newFixture(t)
	f.seedState(t, state.TypeConfirmation, map[string]any{
		"pending_action": "announcement_create",
		"options":        []any{"1. 送信する", "2. やめる"},
		"retries":        0,
	})

	result := f.orch.Route(t.Context(), turn("2"))

	require.True(t, result.Handled)
	assert.Contains(t, result.Response.Message, "中止")
	assert.Equal(t, 0, f.calls["announcement_create"])
	assert.Nil(t, f.activeState(t))
}

func TestConfirmationTwoRetriesThenGiveUp(t *testing.T) {
	f := newFixture(t)
	f.seedState(t, state.TypeConfirmation, map[string]any{
		"pending_action": "announcement_create",
		"retries":        0,
	})

	// The first unparseable answer re-prompts.
	result := f.orch.Route(t.Context(), turn("うーんどうしようかな"))
	require.True(t, result.Handled)
	assert.True(t, result.Response.AwaitingInput)
	require.NotNil(t, f.activeState(t))

	// The second gives up without executing.
	result = f.orch.Route(t.Context(), turn("えーっと"))
	require.True(t, result.Handled)
	assert.Contains(t, result.Response.Message, "もう一度")
	assert.Nil(t, f.activeState(t))
	assert.Equal(t, 0, f.calls["announcement_create"])
}

func TestGoalSettingShortReplyContinues(t *testing.T) {
	f := newFixture(t)
	f.seedState(t, state.TypeGoalSetting, map[string]any{"step": 1})

	result := f.orch.Route(t.Context(), turn("英語学習"))

	require.True(t, result.Handled)
	assert.Equal(t, 1, f.calls["goal_register"])
	assert.Equal(t, "英語学習", f.lastParams["reply"])
	// The handler returned no awaiting metadata, so the flow completed.
	assert.Nil(t, f.activeState(t))
}

func TestGoalSettingInterruptionParksFlow(t *testing.T) {
	f := newFixture(t)
	f.seedState(t, state.TypeGoalSetting, map[string]any{"step": 1})

	long := "ところで明日の会議の資料を先に準備しないといけなくなりました"
	result := f.orch.Route(t.Context(), turn(long))

	assert.False(t, result.Handled)
	assert.Contains(t, result.ResumeSuffix, "目標")
	assert.Empty(t, f.calls)

	// The flow is parked, not lost: partial answers stay addressable.
	st := f.activeState(t)
	require.NotNil(t, st)
	assert.Equal(t, state.TypeGoalSetting, st.Type)
	assert.Equal(t, true, st.Data["interrupted"])
	assert.NotEmpty(t, st.Data["reference_id"])
}

func TestGoalSettingStrongIntentInterruptsShortMessage(t *testing.T) {
	f := newFixture(t)
	f.seedState(t, state.TypeGoalSetting, map[string]any{
		"step": 2, "title": "英語学習",
	})

	// Short enough to pass the length heuristic, but re-understanding
	// recognizes a clear request for another capability.
	result := f.orch.Route(t.Context(), turn("タスクを見せて"))

	assert.False(t, result.Handled)
	assert.Contains(t, result.ResumeSuffix, "目標")
	assert.Equal(t, 0, f.calls["goal_register"])

	st := f.activeState(t)
	require.NotNil(t, st)
	assert.Equal(t, true, st.Data["interrupted"])
	assert.Equal(t, "英語学習", st.Data["title"])
}

func TestParkedDialogueResumesWithSavedAnswers(t *testing.T) {
	f := newFixture(t)
	f.seedState(t, state.TypeGoalSetting, map[string]any{
		"step":         2,
		"title":        "英語学習",
		"interrupted":  true,
		"reference_id": "ref-1",
	})

	result := f.orch.Route(t.Context(), turn("目標の続き"))

	require.True(t, result.Handled)
	assert.Equal(t, 1, f.calls["goal_register"])
	assert.Equal(t, "英語学習", f.lastParams["title"])
	// Bookkeeping keys never reach the handler.
	assert.NotContains(t, f.lastParams, "interrupted")
	assert.NotContains(t, f.lastParams, "reference_id")
	assert.Nil(t, f.activeState(t))
}

func TestParkedDialogueUnrelatedMessageFallsThrough(t *testing.T) {
	f := newFixture(t)
	f.seedState(t, state.TypeGoalSetting, map[string]any{
		"step": 1, "interrupted": true, "reference_id": "ref-1",
	})

	result := f.orch.Route(t.Context(), turn("今日の天気はどうかな"))

	assert.False(t, result.Handled)
	assert.Empty(t, result.ResumeSuffix)
	assert.Empty(t, f.calls)
	// The parked flow stays addressable until its TTL.
	assert.NotNil(t, f.activeState(t))
}

func TestTaskPendingCollectsFields(t *testing.T) {
	f := newFixture(t)
	f.seedState(t, state.TypeTaskPending, map[string]any{
		"collected":      map[string]any{"body": "週報を書く"},
		"missing_fields": []any{"limit_date", "assigned_to"},
	})

	// First reply fills limit_date; assigned_to is still missing.
	result := f.orch.Route(t.Context(), turn("金曜まで"))
	require.True(t, result.Handled)
	assert.True(t, result.Response.AwaitingInput)
	assert.Equal(t, 0, f.calls["task_create"])

	// Second reply completes the set and the task is created.
	result = f.orch.Route(t.Context(), turn("佐藤さん"))
	require.True(t, result.Handled)
	assert.Equal(t, 1, f.calls["task_create"])
	assert.Equal(t, "週報を書く", f.lastParams["body"])
	assert.Equal(t, "金曜まで", f.lastParams["limit_date"])
	assert.Equal(t, "佐藤さん", f.lastParams["assigned_to"])
	assert.Nil(t, f.activeState(t))
}

func TestListContextResolvesOrdinals(t *testing.T) {
	items := map[string]any{
		"kind": "tasks",
		"items": []any{
			map[string]any{"id": "t1", "label": "資料レビュー"},
			map[string]any{"id": "t2", "label": "週報提出"},
			map[string]any{"id": "t3", "label": "面談準備"},
		},
	}

	tests := []struct {
		text string
		want string
	}{
		{"1", "t1"},
		{"最初のやつ", "t1"},
		{"2番目", "t2"},
		{"最後の", "t3"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			f := newFixture(t)
			f.seedState(t, state.TypeListContext, items)

			result := f.orch.Route(t.Context(), turn(tt.text))

			require.NotNil(t, result.ResolvedItem)
			assert.Equal(t, tt.want, result.ResolvedItem.ID)
			assert.False(t, result.Handled)
			assert.Nil(t, f.activeState(t))
		})
	}
}

func TestListContextUnrelatedMessageFallsThrough(t *testing.T) {
	f := newFixture(t)
	f.seedState(t, state.TypeListContext, map[string]any{
		"kind":  "tasks",
		"items": []any{map[string]any{"id": "t1", "label": "資料レビュー"}},
	})

	result := f.orch.Route(t.Context(), turn("全然別の話だけど天気どう？"))

	assert.False(t, result.Handled)
	assert.Nil(t, result.ResolvedItem)
	// The list stays addressable until its TTL.
	assert.NotNil(t, f.activeState(t))
}

func TestMultiActionAdvancesQueue(t *testing.T) {
	f := newFixture(t)
	f.seedState(t, state.TypeMultiAction, map[string]any{
		"remaining": []any{
			map[string]any{"action": "task_create", "params": map[string]any{"body": "A"}},
			map[string]any{"action": "announcement_create", "params": map[string]any{"body": "B"}},
		},
	})

	result := f.orch.Route(t.Context(), turn("次お願い"))
	require.True(t, result.Handled)
	assert.Equal(t, 1, f.calls["task_create"])
	require.NotNil(t, f.activeState(t))

	result = f.orch.Route(t.Context(), turn("続けて"))
	require.True(t, result.Handled)
	assert.Equal(t, 1, f.calls["announcement_create"])
	assert.Nil(t, f.activeState(t))
}

func TestApplyMetadataCreatesConfirmationState(t *testing.T) {
	f := newFixture(t)
	tc := turn("お知らせを送って")

	f.orch.ApplyMetadata(t.Context(), tc, protocol.HandlerResult{
		Success: true,
		Message: "送信しますか？",
		Metadata: protocol.HandlerMetadata{
			AwaitingConfirmation: true,
			PendingAction:        "announcement_create",
			PendingParams:        map[string]any{"body": "明日は休業です"},
			PendingRisk:          "HIGH",
		},
	})

	st := f.activeState(t)
	require.NotNil(t, st)
	assert.Equal(t, state.TypeConfirmation, st.Type)
	// The risk rides along so a later "yes" replays it on the decision.
	assert.Equal(t, "HIGH", st.Data["risk_level"])
}

func TestApplyMetadataCreatesListContext(t *testing.T) {
	f := newFixture(t)
	tc := turn("タスクを見せて")

	f.orch.ApplyMetadata(t.Context(), tc, protocol.HandlerResult{
		Success: true,
		Message: "2件あります",
		Metadata: protocol.HandlerMetadata{
			ListItems: []protocol.ListItem{
				{ID: "t1", Label: "資料レビュー", Kind: "tasks"},
				{ID: "t2", Label: "週報提出", Kind: "tasks"},
			},
		},
	})

	st := f.activeState(t)
	require.NotNil(t, st)
	assert.Equal(t, state.TypeListContext, st.Type)
}
