// Package handlers implements the built-in capability handlers. A
// handler receives validated params plus the turn context and returns a
// normalized result; conversation state changes are signalled through
// result metadata, never written directly.
package handlers

import (
	"log/slog"

	"github.com/kokoro-ai/kokoro/pkg/knowledge"
	"github.com/kokoro-ai/kokoro/pkg/llms"
	"github.com/kokoro-ai/kokoro/pkg/memory"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
)

// Deps is what the built-in handlers share.
type Deps struct {
	Store     memory.Store
	Knowledge *knowledge.Service
	LLM       llms.Provider
	Logger    *slog.Logger
}

// Build returns the handler binding table consumed by the capability
// catalog. Names here are the `handler:` values in configuration.
func Build(deps Deps) map[string]protocol.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return map[string]protocol.Handler{
		"general_conversation": conversationHandler(deps),
		"task_list":            taskListHandler(deps),
		"task_create":          taskCreateHandler(deps),
		"goal_register":        goalRegisterHandler(deps),
		"announcement_create":  announcementHandler(deps),
		"knowledge_search":     knowledgeSearchHandler(deps),
	}
}

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// userDepartments resolves the sender's department memberships from the
// tenant person directory.
func userDepartments(accountID string, tc *protocol.Context) []string {
	if tc == nil {
		return nil
	}
	for _, p := range tc.Persons {
		if p.ID == accountID && p.Department != "" {
			return []string{p.Department}
		}
	}
	return nil
}
