package handlers

import (
	"context"
	"strings"

	"github.com/kokoro-ai/kokoro/pkg/protocol"
)

// knowledgeSearchHandler answers questions from the indexed company
// documents. Access is scoped to the sender's departments; a query with
// no grounded answer is refused rather than improvised.
func knowledgeSearchHandler(deps Deps) protocol.Handler {
	return func(ctx context.Context, params map[string]any, roomID, accountID, senderName string, tc *protocol.Context) (protocol.HandlerResult, error) {
		if deps.Knowledge == nil {
			return protocol.HandlerResult{
				Success: false,
				Message: "社内資料の検索は現在利用できません。",
			}, nil
		}

		query := strings.TrimSpace(stringParam(params, "query"))
		if query == "" && tc != nil {
			query = tc.Message.Text
		}
		if query == "" {
			return protocol.HandlerResult{
				Success: true,
				Message: "何について調べますか？",
			}, nil
		}

		ans := deps.Knowledge.Query(ctx, tc.Message.TenantID, query, userDepartments(accountID, tc))
		if !ans.Answered {
			return protocol.HandlerResult{
				Success:     false,
				Message:     ans.Message,
				Data:        map[string]any{"refusal_reason": ans.RefusalReason},
				Suggestions: []string{"別の言い方で質問する"},
			}, nil
		}

		data := map[string]any{}
		if len(ans.Citations) > 0 {
			data["citations"] = ans.Citations
		}
		return protocol.HandlerResult{
			Success: true,
			Message: ans.Message,
			Data:    data,
		}, nil
	}
}
