package llms

import "context"

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn sent to a provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Provider is a minimal chat-completion interface. The decision core uses
// two call shapes: free text (synthesis, conversation) and strict JSON
// (understanding refinement).
type Provider interface {
	// Generate performs a chat completion and returns text and the total
	// token count reported by the provider (0 when unknown).
	Generate(ctx context.Context, messages []Message) (string, int, error)

	// GenerateJSON performs a completion constrained to a JSON object.
	GenerateJSON(ctx context.Context, messages []Message) (string, int, error)

	ModelName() string

	Close() error
}
