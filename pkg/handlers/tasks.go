package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kokoro-ai/kokoro/pkg/memory"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
)

// taskListHandler shows the user's open tasks and registers them as list
// context so "1" or "最初の" resolve on the next turn.
func taskListHandler(deps Deps) protocol.Handler {
	return func(ctx context.Context, params map[string]any, roomID, accountID, senderName string, tc *protocol.Context) (protocol.HandlerResult, error) {
		tasks, err := deps.Store.RecentTasks(ctx, tc.Message.TenantID, accountID, 10)
		if err != nil {
			return protocol.HandlerResult{}, fmt.Errorf("[Handlers:TaskList] load failed: %w", err)
		}

		if len(tasks) == 0 {
			return protocol.HandlerResult{
				Success:     true,
				Message:     "未完了のタスクはありません。",
				Suggestions: []string{"タスクを追加する"},
			}, nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "未完了のタスクが%d件あります:\n", len(tasks))
		items := make([]protocol.ListItem, len(tasks))
		for i, task := range tasks {
			line := fmt.Sprintf("%d. %s", i+1, task.Body)
			if task.LimitDate != nil {
				line += fmt.Sprintf("（期限: %s）", task.LimitDate.Format("1月2日"))
			}
			sb.WriteString(line)
			sb.WriteString("\n")
			items[i] = protocol.ListItem{ID: task.ID, Label: task.Body, Kind: "tasks"}
		}
		sb.WriteString("番号で詳細を確認できます。")

		return protocol.HandlerResult{
			Success:  true,
			Message:  sb.String(),
			Metadata: protocol.HandlerMetadata{ListItems: items},
		}, nil
	}
}

// taskCreateHandler creates a task once the body is known; a missing
// body opens a pending-fields flow instead of guessing.
func taskCreateHandler(deps Deps) protocol.Handler {
	return func(ctx context.Context, params map[string]any, roomID, accountID, senderName string, tc *protocol.Context) (protocol.HandlerResult, error) {
		body := strings.TrimSpace(stringParam(params, "body"))
		if body == "" {
			return protocol.HandlerResult{
				Success: true,
				Message: "タスクの内容を教えてください。",
				Metadata: protocol.HandlerMetadata{
					AwaitingInput: true,
					MissingFields: []string{"body"},
					PendingParams: map[string]any{},
				},
			}, nil
		}

		task := memory.Task{
			ID:         uuid.NewString(),
			Body:       body,
			AssignedTo: accountID,
			Status:     "open",
			CreatedAt:  time.Now(),
		}
		if assignee := stringParam(params, "assigned_to"); assignee != "" {
			task.AssignedTo = assignee
		}
		if due := parseDue(stringParam(params, "limit_date")); due != nil {
			task.LimitDate = due
		}

		if err := deps.Store.CreateTask(ctx, tc.Message.TenantID, task); err != nil {
			return protocol.HandlerResult{}, fmt.Errorf("[Handlers:TaskCreate] create failed: %w", err)
		}

		msg := fmt.Sprintf("タスク「%s」を作成しました。", body)
		if task.LimitDate != nil {
			msg = fmt.Sprintf("タスク「%s」を作成しました（期限: %s）。", body, task.LimitDate.Format("1月2日"))
		}
		return protocol.HandlerResult{Success: true, Message: msg}, nil
	}
}

// parseDue accepts ISO dates and a few relative Japanese forms; an
// unparseable value becomes no deadline rather than a wrong one.
func parseDue(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t
	}

	now := time.Now()
	var t time.Time
	switch {
	case strings.Contains(raw, "今日"):
		t = now
	case strings.Contains(raw, "明日"):
		t = now.AddDate(0, 0, 1)
	case strings.Contains(raw, "明後日"):
		t = now.AddDate(0, 0, 2)
	case strings.Contains(raw, "来週"):
		t = now.AddDate(0, 0, 7)
	default:
		return nil
	}
	t = time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 0, 0, t.Location())
	return &t
}
