package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/kokoro-ai/kokoro/pkg/llms"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
)

const personaPrompt = `You are Kokoro, a warm, concise workplace assistant.
Reply in the language of the user's message. Keep replies under four sentences.
Never invent facts about the company; if you do not know, say so.`

const listeningPrompt = `You are Kokoro. The user is distressed. Do not suggest
tasks, features or solutions. Acknowledge their feelings, listen, and gently
ask what happened. Reply in the user's language, two sentences at most.`

// conversationHandler is the fallback for everything that is not a
// concrete capability, and the landing spot for forced-listening turns.
func conversationHandler(deps Deps) protocol.Handler {
	return func(ctx context.Context, params map[string]any, roomID, accountID, senderName string, tc *protocol.Context) (protocol.HandlerResult, error) {
		listening := stringParam(params, "mode") == "listening"

		if deps.LLM == nil {
			return protocol.HandlerResult{Success: true, Message: cannedReply(listening, senderName)}, nil
		}

		system := personaPrompt
		if listening {
			system = listeningPrompt
		}

		messages := []llms.Message{{Role: llms.RoleSystem, Content: system}}
		if tc != nil {
			if tc.Summary != "" {
				messages = append(messages, llms.Message{
					Role:    llms.RoleSystem,
					Content: "Conversation so far: " + tc.Summary,
				})
			}
			history := tc.RecentConversation
			if len(history) > 6 {
				history = history[len(history)-6:]
			}
			for _, entry := range history {
				role := llms.RoleUser
				if entry.Role == "assistant" {
					role = llms.RoleAssistant
				}
				messages = append(messages, llms.Message{Role: role, Content: entry.Text})
			}
		}
		messages = append(messages, llms.Message{Role: llms.RoleUser, Content: tc.Message.Text})

		text, _, err := deps.LLM.Generate(ctx, messages)
		if err != nil || strings.TrimSpace(text) == "" {
			deps.Logger.Warn("conversation generation degraded", "kind", "provider")
			return protocol.HandlerResult{Success: true, Message: cannedReply(listening, senderName)}, nil
		}
		return protocol.HandlerResult{Success: true, Message: strings.TrimSpace(text)}, nil
	}
}

func cannedReply(listening bool, senderName string) string {
	if listening {
		return "大変でしたね。よければ、何があったか聞かせてください。"
	}
	if senderName != "" {
		return fmt.Sprintf("%sさん、すみません、うまく理解できませんでした。言い方を変えて教えていただけますか？", senderName)
	}
	return "すみません、うまく理解できませんでした。言い方を変えて教えていただけますか？"
}
