package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokoro-ai/kokoro/pkg/knowledge"
	"github.com/kokoro-ai/kokoro/pkg/memory"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
	"github.com/kokoro-ai/kokoro/pkg/vector"
)

type hashEmbedder struct{}

func (hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for i, r := range text {
		vec[i%8] += float32(r % 97)
	}
	return vec, nil
}
func (hashEmbedder) Dimension() int    { return 8 }
func (hashEmbedder) ModelName() string { return "hash" }

func turnContext(text string) *protocol.Context {
	return &protocol.Context{
		Message: protocol.Message{
			TenantID:   "org1",
			RoomID:     "room1",
			UserID:     "user1",
			SenderName: "佐藤",
			Text:       text,
			ReceivedAt: time.Now(),
		},
	}
}

func newDeps(t *testing.T) (Deps, *memory.InMemoryStore) {
	t.Helper()
	store := memory.NewInMemoryStore()
	return Deps{Store: store}, store
}

func TestBuildBindsEveryHandler(t *testing.T) {
	deps, _ := newDeps(t)
	table := Build(deps)
	for _, name := range []string{
		"general_conversation", "task_list", "task_create",
		"goal_register", "announcement_create", "knowledge_search",
	} {
		assert.Contains(t, table, name)
	}
}

func TestConversationCannedWithoutLLM(t *testing.T) {
	deps, _ := newDeps(t)
	h := conversationHandler(deps)

	res, err := h(t.Context(), nil, "room1", "user1", "佐藤", turnContext("こんにちは"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "佐藤さん")
}

func TestConversationListeningMode(t *testing.T) {
	deps, _ := newDeps(t)
	h := conversationHandler(deps)

	res, err := h(t.Context(), map[string]any{"mode": "listening"}, "room1", "user1", "佐藤", turnContext("もう無理"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "大変でしたね")
	assert.NotContains(t, res.Message, "タスク")
}

func TestTaskListEmpty(t *testing.T) {
	deps, _ := newDeps(t)
	h := taskListHandler(deps)

	res, err := h(t.Context(), nil, "room1", "user1", "佐藤", turnContext("タスクを見せて"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "未完了のタスクはありません")
	assert.NotEmpty(t, res.Suggestions)
	assert.Empty(t, res.Metadata.ListItems)
}

func TestTaskListBuildsListContext(t *testing.T) {
	deps, store := newDeps(t)
	due := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateTask(t.Context(), "org1", memory.Task{
		ID: "t1", Body: "週報を書く", AssignedTo: "user1", Status: "open", CreatedAt: time.Now(),
	}))
	require.NoError(t, store.CreateTask(t.Context(), "org1", memory.Task{
		ID: "t2", Body: "請求書を送る", AssignedTo: "user1", Status: "open",
		LimitDate: &due, CreatedAt: time.Now().Add(-time.Hour),
	}))
	h := taskListHandler(deps)

	res, err := h(t.Context(), nil, "room1", "user1", "佐藤", turnContext("タスクを見せて"))
	require.NoError(t, err)
	assert.Contains(t, res.Message, "2件")
	assert.Contains(t, res.Message, "週報を書く")
	assert.Contains(t, res.Message, "期限: 9月1日")
	require.Len(t, res.Metadata.ListItems, 2)
	assert.Equal(t, "t1", res.Metadata.ListItems[0].ID)
	assert.Equal(t, "tasks", res.Metadata.ListItems[0].Kind)
}

func TestTaskCreateAsksForMissingBody(t *testing.T) {
	deps, _ := newDeps(t)
	h := taskCreateHandler(deps)

	res, err := h(t.Context(), nil, "room1", "user1", "佐藤", turnContext("タスクを追加して"))
	require.NoError(t, err)
	assert.True(t, res.Metadata.AwaitingInput)
	assert.Equal(t, []string{"body"}, res.Metadata.MissingFields)
}

func TestTaskCreateWithRelativeDue(t *testing.T) {
	deps, store := newDeps(t)
	h := taskCreateHandler(deps)

	res, err := h(t.Context(), map[string]any{
		"body":       "資料を提出する",
		"limit_date": "明日",
	}, "room1", "user1", "佐藤", turnContext("明日までに資料を提出するタスク"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "資料を提出する")

	tasks, err := store.RecentTasks(t.Context(), "org1", "user1", 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.NotNil(t, tasks[0].LimitDate)
	tomorrow := time.Now().AddDate(0, 0, 1)
	assert.Equal(t, tomorrow.Day(), tasks[0].LimitDate.Day())
	assert.Equal(t, 23, tasks[0].LimitDate.Hour())
}

func TestParseDueISO(t *testing.T) {
	due := parseDue("2026-09-15")
	require.NotNil(t, due)
	assert.Equal(t, time.September, due.Month())
	assert.Nil(t, parseDue("そのうち"))
	assert.Nil(t, parseDue(""))
}

func TestGoalDialogueStepByStep(t *testing.T) {
	deps, store := newDeps(t)
	h := goalRegisterHandler(deps)
	tc := turnContext("目標を立てたい")

	// No fields yet: open the dialogue.
	res, err := h(t.Context(), nil, "room1", "user1", "佐藤", tc)
	require.NoError(t, err)
	assert.True(t, res.Metadata.AwaitingInput)
	assert.Equal(t, "GOAL_SETTING", res.Metadata.NewState)

	// First reply becomes the title.
	res, err = h(t.Context(), map[string]any{"reply": "毎朝ランニング"}, "room1", "user1", "佐藤", tc)
	require.NoError(t, err)
	assert.True(t, res.Metadata.AwaitingInput)
	assert.Equal(t, "毎朝ランニング", res.Metadata.PendingParams["title"])

	// Second reply is the axis; the goal is persisted.
	res, err = h(t.Context(), map[string]any{"title": "毎朝ランニング", "reply": "健康"}, "room1", "user1", "佐藤", tc)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "毎朝ランニング")
	assert.False(t, res.Metadata.AwaitingInput)

	goals, err := store.ActiveGoals(t.Context(), "org1", "user1")
	require.NoError(t, err)
	require.Len(t, goals, 1)
	assert.Equal(t, "毎朝ランニング", goals[0].Title)
	assert.Equal(t, "健康", goals[0].Axis)
	assert.Equal(t, "active", goals[0].Status)
}

func TestAnnouncementOpensDialogueWithoutBody(t *testing.T) {
	deps, _ := newDeps(t)
	h := announcementHandler(deps)

	res, err := h(t.Context(), nil, "room1", "user1", "佐藤", turnContext("お知らせを送って"))
	require.NoError(t, err)
	assert.True(t, res.Metadata.AwaitingInput)
	assert.Equal(t, "ANNOUNCEMENT", res.Metadata.NewState)
}

func TestAnnouncementPreviewsBeforeSending(t *testing.T) {
	deps, store := newDeps(t)
	h := announcementHandler(deps)

	res, err := h(t.Context(), map[string]any{"body": "明日は休業です"}, "room1", "user1", "佐藤", turnContext("お知らせ"))
	require.NoError(t, err)
	assert.True(t, res.Metadata.AwaitingConfirmation)
	assert.Equal(t, "announcement_create", res.Metadata.PendingAction)
	assert.Equal(t, true, res.Metadata.PendingParams["confirmed"])
	assert.Contains(t, res.Message, "明日は休業です")

	// Nothing posted until the confirmed replay.
	entries, err := store.RecentConversation(t.Context(), "org1", "room1", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	res, err = h(t.Context(), res.Metadata.PendingParams, "room1", "user1", "佐藤", turnContext("はい"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "送信しました")

	entries, err = store.RecentConversation(t.Context(), "org1", "room1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Text, "【お知らせ】明日は休業です")
}

func TestKnowledgeSearchUnavailableWithoutService(t *testing.T) {
	deps, _ := newDeps(t)
	h := knowledgeSearchHandler(deps)

	res, err := h(t.Context(), nil, "room1", "user1", "佐藤", turnContext("経費の締め日は？"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "利用できません")
}

func TestKnowledgeSearchAnswersWithCitations(t *testing.T) {
	deps, store := newDeps(t)
	svc := knowledge.NewService(hashEmbedder{}, vector.NewMemoryProvider(), store, nil)
	deps.Knowledge = svc
	chunk := memory.KnowledgeChunk{
		ID:             knowledge.ChunkID("org1", "expense", 1, 0),
		DocumentID:     "expense",
		Version:        1,
		Content:        "経費精算は月末締め、翌月10日払いです。",
		Classification: memory.ClassificationInternal,
		QualityScore:   0.9,
	}
	store.AddKnowledgeChunk("org1", chunk)
	require.NoError(t, svc.Index(t.Context(), "org1", chunk))
	h := knowledgeSearchHandler(deps)

	res, err := h(t.Context(), nil, "room1", "user1", "佐藤", turnContext("経費精算の締め日は？"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "月末締め")
	assert.NotEmpty(t, res.Data["citations"])
}

func TestKnowledgeSearchRefusesOnNoHits(t *testing.T) {
	deps, store := newDeps(t)
	deps.Knowledge = knowledge.NewService(hashEmbedder{}, vector.NewMemoryProvider(), store, nil)
	h := knowledgeSearchHandler(deps)

	res, err := h(t.Context(), map[string]any{"query": "宇宙開発の予算は？"}, "room1", "user1", "佐藤", turnContext("宇宙開発の予算は？"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "見つかりませんでした")
	assert.Equal(t, "no_results", res.Data["refusal_reason"])
}
