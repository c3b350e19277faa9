// Package understanding turns a raw message plus the turn context into a
// structured interpretation: intent, entities, resolved references,
// urgency and emotion. Keyword scoring runs on every message; the LLM is
// consulted only when the keyword path is unsure.
package understanding

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kokoro-ai/kokoro/pkg/capability"
	"github.com/kokoro-ai/kokoro/pkg/llms"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
)

// Confidence bands. Below the clarification floor the engine falls back
// to conversation and asks; between the floors the decision stage
// demands confirmation before acting.
const (
	RefineBelow        = 0.7
	ClarificationFloor = 0.5
)

// refinePromptTokenBudget caps the refinement prompt; overflowing
// conversation history is dropped oldest-first.
const refinePromptTokenBudget = 1500

// Engine is the understanding stage.
type Engine struct {
	catalog       *capability.Catalog
	llm           llms.Provider
	refineTimeout time.Duration
	logger        *slog.Logger
}

// Option tunes the engine.
type Option func(*Engine)

// WithLLM attaches a refinement provider. Without one the engine is
// keyword-only, which is a supported degraded mode.
func WithLLM(p llms.Provider) Option {
	return func(e *Engine) {
		e.llm = p
	}
}

// WithRefineTimeout bounds a single refinement call.
func WithRefineTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.refineTimeout = d
	}
}

func NewEngine(catalog *capability.Catalog, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		catalog:       catalog,
		refineTimeout: 10 * time.Second,
		logger:        logger,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Understand interprets one message against the turn context. It never
// returns an error: a failed refinement degrades to the keyword result.
func (e *Engine) Understand(ctx context.Context, tc *protocol.Context) protocol.UnderstandingResult {
	text := tc.Message.Text

	scores := ScoreAll(text, e.catalog)
	intent, confidence := TopScore(scores)

	result := protocol.UnderstandingResult{
		Intent:           intent,
		Confidence:       confidence,
		Urgency:          DetectUrgency(text),
		Emotion:          DetectEmotion(text),
		ResolvedPronouns: ResolvePronouns(text, tc.RecentConversation, tc.Persons),
		RawMessage:       text,
		Scores:           scores,
	}

	if person, ok := MatchPerson(text, tc.Persons); ok {
		result.Entities = map[string]string{"person": person.Name}
	}

	if result.Confidence < RefineBelow && e.llm != nil {
		e.refine(ctx, tc, &result)
	}

	if result.Confidence < ClarificationFloor {
		result.Intent = capability.GeneralConversation
		result.NeedsClarification = true
	}
	return result
}

// refineResponse is the JSON contract with the refinement model.
type refineResponse struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities,omitempty"`
}

func (e *Engine) refine(ctx context.Context, tc *protocol.Context, result *protocol.UnderstandingResult) {
	ctx, cancel := context.WithTimeout(ctx, e.refineTimeout)
	defer cancel()

	messages := e.refinePrompt(tc)
	raw, tokens, err := e.llm.GenerateJSON(ctx, messages)
	if err != nil {
		e.logger.Warn("understanding refinement skipped", "kind", kindOf(err))
		return
	}
	e.logger.Debug("understanding refined", "tokens", tokens)

	var parsed refineResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		e.logger.Warn("understanding refinement unparseable")
		return
	}

	// The model may only pick from the catalog. An invented intent is
	// discarded, keeping the keyword result authoritative.
	if _, ok := e.catalog.Get(parsed.Intent); !ok {
		return
	}
	if parsed.Confidence <= result.Confidence {
		return
	}

	result.Intent = parsed.Intent
	result.Confidence = clamp01(parsed.Confidence)
	for k, v := range parsed.Entities {
		if result.Entities == nil {
			result.Entities = make(map[string]string)
		}
		result.Entities[k] = v
	}
}

func (e *Engine) refinePrompt(tc *protocol.Context) []llms.Message {
	var sb strings.Builder
	sb.WriteString("You classify a workplace chat message into exactly one intent.\n")
	sb.WriteString("Known intents: ")
	sb.WriteString(strings.Join(e.catalog.Names(), ", "))
	sb.WriteString("\nRespond with JSON: {\"intent\": string, \"confidence\": number 0-1, \"entities\": object}.\n")
	sb.WriteString("Never invent an intent outside the list.")
	system := sb.String()

	var user strings.Builder
	if tc.Summary != "" {
		user.WriteString("Conversation summary: ")
		user.WriteString(tc.Summary)
		user.WriteString("\n")
	}
	for _, entry := range trimToBudget(tc, system) {
		fmt.Fprintf(&user, "%s: %s\n", entry.Role, entry.Text)
	}
	user.WriteString("Message: ")
	user.WriteString(tc.Message.Text)

	return []llms.Message{
		{Role: llms.RoleSystem, Content: system},
		{Role: llms.RoleUser, Content: user.String()},
	}
}

// trimToBudget drops history oldest-first until the prompt fits.
func trimToBudget(tc *protocol.Context, system string) []historyEntry {
	entries := make([]historyEntry, 0, len(tc.RecentConversation))
	for _, c := range tc.RecentConversation {
		entries = append(entries, historyEntry{Role: c.Role, Text: c.Text})
	}

	budget := refinePromptTokenBudget - countTokens(system) - countTokens(tc.Message.Text)
	for len(entries) > 0 {
		total := 0
		for _, e := range entries {
			total += countTokens(e.Text)
		}
		if total <= budget {
			break
		}
		entries = entries[1:]
	}
	return entries
}

type historyEntry struct {
	Role string
	Text string
}

// countTokens uses the cl100k encoding; on encoder failure it falls back
// to a bytes/3 estimate, which over-counts Japanese and so stays safe.
func countTokens(text string) int {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return len(text) / 3
	}
	return len(enc.Encode(text, nil, nil))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func kindOf(err error) string {
	switch {
	case err == nil:
		return "none"
	case strings.Contains(err.Error(), "deadline"):
		return "timeout"
	default:
		return "provider"
	}
}
