package brain

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kokoro-ai/kokoro/pkg/memory"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
)

// ContextBuilder assembles the per-turn snapshot. It has a hard time
// budget and never fails: a slow or broken memory backend produces a
// thinner snapshot, not an error.
type ContextBuilder struct {
	access *memory.Access
	budget time.Duration
	logger *slog.Logger
}

func NewContextBuilder(access *memory.Access, budget time.Duration, logger *slog.Logger) *ContextBuilder {
	if budget <= 0 {
		budget = 300 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextBuilder{access: access, budget: budget, logger: logger}
}

// Build snapshots memory for one message.
func (b *ContextBuilder) Build(ctx context.Context, msg protocol.Message) *protocol.Context {
	ctx, cancel := context.WithTimeout(ctx, b.budget)
	defer cancel()

	snap := b.access.GetAll(ctx, msg.TenantID, msg.RoomID, msg.UserID, recallKeywords(msg.Text))

	return &protocol.Context{
		Message:            msg,
		RecentConversation: snap.Conversation,
		Summary:            snap.Summary,
		Preferences:        snap.Preferences,
		Persons:            snap.Persons,
		ActiveTasks:        snap.Tasks,
		ActiveGoals:        snap.Goals,
		RecentInsights:     snap.Insights,
		RecalledEpisodes:   snap.Episodes,
		BuiltAt:            time.Now(),
	}
}

// recallKeywords derives episode-recall keys from the message. Crude
// whitespace and particle splitting is enough; recall is best-effort.
func recallKeywords(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case ' ', '　', '、', '。', 'を', 'は', 'が', 'の', 'に', 'で', '？', '?', '!', '！':
			return true
		}
		return false
	})

	var keywords []string
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			keywords = append(keywords, f)
		}
		if len(keywords) == 5 {
			break
		}
	}
	return keywords
}
