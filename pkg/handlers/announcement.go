package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kokoro-ai/kokoro/pkg/memory"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
)

// announcementHandler drafts and sends a room announcement. Sending is
// gated behind an explicit confirmation round: the first call with a
// body returns a preview plus confirmation metadata, and only the
// confirmed replay (params carry confirmed=true) posts it.
func announcementHandler(deps Deps) protocol.Handler {
	return func(ctx context.Context, params map[string]any, roomID, accountID, senderName string, tc *protocol.Context) (protocol.HandlerResult, error) {
		body := strings.TrimSpace(stringParam(params, "body"))
		if body == "" {
			body = strings.TrimSpace(stringParam(params, "reply"))
		}

		if body == "" {
			return protocol.HandlerResult{
				Success: true,
				Message: "お知らせの内容を教えてください。",
				Metadata: protocol.HandlerMetadata{
					AwaitingInput: true,
					NewState:      "ANNOUNCEMENT",
					PendingParams: map[string]any{},
				},
			}, nil
		}

		confirmed, _ := params["confirmed"].(bool)
		if !confirmed {
			return protocol.HandlerResult{
				Success: true,
				Message: fmt.Sprintf("以下の内容で送信してよろしいですか？\n---\n%s\n---", body),
				Metadata: protocol.HandlerMetadata{
					AwaitingConfirmation: true,
					PendingAction:        "announcement_create",
					PendingParams:        map[string]any{"body": body, "confirmed": true},
					PendingRisk:          string(protocol.RiskHigh),
					ConfirmationOptions:  []string{"1. 送信する", "2. やめる"},
				},
			}, nil
		}

		entry := memory.ConversationEntry{
			Role:     "assistant",
			SenderID: accountID,
			Sender:   "kokoro",
			Text:     "【お知らせ】" + body,
			At:       time.Now(),
		}
		if err := deps.Store.AppendConversation(ctx, tc.Message.TenantID, roomID, entry); err != nil {
			return protocol.HandlerResult{}, fmt.Errorf("[Handlers:Announcement] post failed: %w", err)
		}

		return protocol.HandlerResult{
			Success: true,
			Message: "お知らせを送信しました。",
		}, nil
	}
}
