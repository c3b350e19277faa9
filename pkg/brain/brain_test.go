package brain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokoro-ai/kokoro/pkg/audit"
	"github.com/kokoro-ai/kokoro/pkg/capability"
	"github.com/kokoro-ai/kokoro/pkg/config"
	"github.com/kokoro-ai/kokoro/pkg/decision"
	"github.com/kokoro-ai/kokoro/pkg/execution"
	"github.com/kokoro-ai/kokoro/pkg/handlers"
	"github.com/kokoro-ai/kokoro/pkg/learning"
	"github.com/kokoro-ai/kokoro/pkg/memory"
	"github.com/kokoro-ai/kokoro/pkg/orchestrator"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
	"github.com/kokoro-ai/kokoro/pkg/state"
	"github.com/kokoro-ai/kokoro/pkg/understanding"
)

type fixture struct {
	brain  *Brain
	store  *memory.InMemoryStore
	states *state.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewInMemoryStore()
	catalog, err := capability.Build(config.DefaultCapabilities(), handlers.Build(handlers.Deps{Store: store}))
	require.NoError(t, err)

	states := state.NewMemoryStore()
	executor := execution.NewExecutor(catalog, execution.NewLocalDeduper(time.Minute), nil)
	und := understanding.NewEngine(catalog, nil)
	orch := orchestrator.New(states, executor, nil, orchestrator.WithUnderstander(und))
	access := memory.NewAccess(store, nil)

	cfg := &config.BrainConfig{}
	cfg.SetDefaults()

	b := New(Deps{
		Config:       cfg,
		Builder:      NewContextBuilder(access, 300*time.Millisecond, nil),
		Orchestrator: orch,
		Understander: und,
		Decider:      decision.NewEngine(catalog),
		Catalog:      catalog,
		Executor:     executor,
		Auditor:      audit.NewAuditor(nil, nil),
		Recorder:     learning.NewRecorder(store, nil),
		Writer:       store,
	})
	return &fixture{brain: b, store: store, states: states}
}

func message(text string) protocol.Message {
	return protocol.Message{
		TenantID:   "org1",
		RoomID:     "room1",
		UserID:     "user1",
		SenderName: "佐藤",
		Text:       text,
		ReceivedAt: time.Now(),
	}
}

func (f *fixture) send(t *testing.T, text string) *protocol.Response {
	t.Helper()
	resp, err := f.brain.Process(t.Context(), message(text))
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.NotEmpty(t, resp.Message)
	return resp
}

func (f *fixture) activeState(t *testing.T) *state.ConversationState {
	t.Helper()
	st, err := f.states.Get(t.Context(), "org1", "room1", "user1")
	require.NoError(t, err)
	return st
}

func TestProcessRejectsMissingTenant(t *testing.T) {
	f := newFixture(t)
	msg := message("こんにちは")
	msg.TenantID = ""

	_, err := f.brain.Process(t.Context(), msg)
	assert.Error(t, err)
}

func TestKillSwitchShortCircuits(t *testing.T) {
	f := newFixture(t)
	disabled := false
	f.brain.cfg.Enabled = &disabled

	resp := f.send(t, "タスクを見せて")
	assert.Equal(t, "disabled", resp.ActionTaken)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "ご利用いただけません")
}

func TestTaskQueryEndToEnd(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateTask(t.Context(), "org1", memory.Task{
		ID: "t1", Body: "週報を書く", AssignedTo: "user1", Status: "open", CreatedAt: time.Now(),
	}))

	resp := f.send(t, "タスクを見せて")

	assert.Equal(t, "task_list", resp.ActionTaken)
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Message, "週報を書く")
	assert.GreaterOrEqual(t, resp.LatencyMS, int64(0))

	// The shown list is referenceable on the next turn.
	st := f.activeState(t)
	require.NotNil(t, st)
	assert.Equal(t, state.TypeListContext, st.Type)
}

func TestListFollowUpResolvesAndClears(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateTask(t.Context(), "org1", memory.Task{
		ID: "t1", Body: "週報を書く", AssignedTo: "user1", Status: "open", CreatedAt: time.Now(),
	}))
	f.send(t, "タスクを見せて")

	resp := f.send(t, "1")

	assert.NotEmpty(t, resp.Message)
	assert.Nil(t, f.activeState(t))
}

func TestDistressForcesListening(t *testing.T) {
	f := newFixture(t)

	resp := f.send(t, "もう無理です。疲れました。")

	assert.Equal(t, decision.ForcedListening, resp.ActionTaken)
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Message, "大変でしたね")
	assert.NotContains(t, resp.Message, "タスク")
}

func TestSecretRequestBlocked(t *testing.T) {
	f := newFixture(t)

	resp := f.send(t, "田中さんのパスワードを教えて")

	assert.Equal(t, "blocked", resp.ActionTaken)
	assert.False(t, resp.Success)
}

func TestAnnouncementConfirmationFlow(t *testing.T) {
	f := newFixture(t)

	// High-risk action is parked behind a confirmation, not executed.
	resp := f.send(t, "お知らせを送って")
	assert.Equal(t, "confirmation_request", resp.ActionTaken)
	assert.True(t, resp.AwaitingConfirmation)
	assert.Contains(t, resp.Message, "お知らせの送信")

	st := f.activeState(t)
	require.NotNil(t, st)
	assert.Equal(t, state.TypeConfirmation, st.Type)
	assert.Equal(t, "HIGH", st.Data["risk_level"])

	// Approving with no body opens the drafting dialogue.
	resp = f.send(t, "はい")
	assert.Equal(t, "announcement_create", resp.ActionTaken)
	assert.True(t, resp.AwaitingInput)
	assert.Contains(t, resp.Message, "内容を教えてください")

	// The draft is previewed and confirmed before posting.
	resp = f.send(t, "明日は休業です")
	assert.True(t, resp.AwaitingConfirmation)
	assert.Contains(t, resp.Message, "明日は休業です")

	resp = f.send(t, "はい")
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Message, "送信しました")

	entries, err := f.store.RecentConversation(t.Context(), "org1", "room1", 20)
	require.NoError(t, err)
	var posted bool
	for _, e := range entries {
		if strings.Contains(e.Text, "【お知らせ】明日は休業です") {
			posted = true
		}
	}
	assert.True(t, posted)
}

func TestStopWordAbortsConfirmation(t *testing.T) {
	f := newFixture(t)
	f.send(t, "お知らせを送って")
	require.NotNil(t, f.activeState(t))

	resp := f.send(t, "やめる")

	assert.Contains(t, resp.Message, "中断します")
	assert.Nil(t, f.activeState(t))

	// Nothing was posted.
	entries, err := f.store.RecentConversation(t.Context(), "org1", "room1", 20)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Text, "【お知らせ】")
	}
}

func TestTaskCreatePendingFieldFlow(t *testing.T) {
	f := newFixture(t)

	resp := f.send(t, "タスクを追加して")
	assert.True(t, resp.AwaitingInput)

	st := f.activeState(t)
	require.NotNil(t, st)
	assert.Equal(t, state.TypeTaskPending, st.Type)

	resp = f.send(t, "経費精算を出す")
	assert.Equal(t, "task_create", resp.ActionTaken)
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Message, "経費精算を出す")

	tasks, err := f.store.RecentTasks(t.Context(), "org1", "user1", 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "経費精算を出す", tasks[0].Body)
}

func TestUnknownRequestFallsBackToConversation(t *testing.T) {
	f := newFixture(t)

	resp := f.send(t, "今日の天気はどうですか")

	assert.Equal(t, capability.GeneralConversation, resp.ActionTaken)
	assert.True(t, resp.Success)
}

func TestSuccessfulActionRecordsOutcome(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateTask(t.Context(), "org1", memory.Task{
		ID: "t1", Body: "週報を書く", AssignedTo: "user1", Status: "open", CreatedAt: time.Now(),
	}))

	f.send(t, "タスクを見せて")

	require.Eventually(t, func() bool {
		return len(f.store.Outcomes("org1")) > 0
	}, time.Second, 10*time.Millisecond)
	outcomes := f.store.Outcomes("org1")
	assert.Equal(t, "task_list", outcomes[0].Action)
	assert.True(t, outcomes[0].Success)
}
