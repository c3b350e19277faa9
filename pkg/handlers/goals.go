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

// goalRegisterHandler runs the two-step goal dialogue: title first, then
// the life axis it belongs to. Each step hands its accumulated fields
// back through metadata so the next reply resumes where it left off.
func goalRegisterHandler(deps Deps) protocol.Handler {
	return func(ctx context.Context, params map[string]any, roomID, accountID, senderName string, tc *protocol.Context) (protocol.HandlerResult, error) {
		title := strings.TrimSpace(stringParam(params, "title"))
		reply := strings.TrimSpace(stringParam(params, "reply"))

		// Step 1: no title yet. A dialogue reply becomes the title;
		// otherwise we ask for it.
		if title == "" {
			if reply == "" {
				return protocol.HandlerResult{
					Success: true,
					Message: "どんな目標を立てますか？",
					Metadata: protocol.HandlerMetadata{
						AwaitingInput: true,
						NewState:      "GOAL_SETTING",
						PendingParams: map[string]any{},
					},
				}, nil
			}
			return protocol.HandlerResult{
				Success: true,
				Message: fmt.Sprintf("「%s」ですね。仕事・健康・学習など、どの分野の目標ですか？", reply),
				Metadata: protocol.HandlerMetadata{
					AwaitingInput: true,
					NewState:      "GOAL_SETTING",
					PendingParams: map[string]any{"title": reply},
				},
			}, nil
		}

		// Step 2: title known, the reply is the axis.
		axis := strings.TrimSpace(stringParam(params, "axis"))
		if axis == "" {
			axis = reply
		}

		goal := memory.Goal{
			ID:        uuid.NewString(),
			Title:     title,
			Axis:      axis,
			Status:    "active",
			CreatedAt: time.Now(),
		}
		if err := deps.Store.CreateGoal(ctx, tc.Message.TenantID, goal); err != nil {
			return protocol.HandlerResult{}, fmt.Errorf("[Handlers:GoalRegister] create failed: %w", err)
		}

		msg := fmt.Sprintf("目標「%s」を登録しました。応援しています！", title)
		if axis != "" {
			msg = fmt.Sprintf("目標「%s」（%s）を登録しました。応援しています！", title, axis)
		}
		return protocol.HandlerResult{Success: true, Message: msg}, nil
	}
}
