package llms

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/kokoro-ai/kokoro/pkg/config"
)

// GeminiProvider uses the Gemini API via the official genai SDK.
type GeminiProvider struct {
	client      *genai.Client
	model       string
	maxTokens   int
	temperature float64
}

func NewGeminiProviderFromConfig(ctx context.Context, cfg *config.LLMProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for gemini provider")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiProvider{
		client:      client,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (p *GeminiProvider) Generate(ctx context.Context, messages []Message) (string, int, error) {
	return p.generate(ctx, messages, "")
}

func (p *GeminiProvider) GenerateJSON(ctx context.Context, messages []Message) (string, int, error) {
	return p.generate(ctx, messages, "application/json")
}

func (p *GeminiProvider) generate(ctx context.Context, messages []Message, mimeType string) (string, int, error) {
	var system *genai.Content
	contents := make([]*genai.Content, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = genai.NewContentFromText(m.Content, genai.RoleUser)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	temp := float32(p.temperature)
	genCfg := &genai.GenerateContentConfig{
		Temperature:       &temp,
		MaxOutputTokens:   int32(p.maxTokens),
		SystemInstruction: system,
	}
	if mimeType != "" {
		genCfg.ResponseMIMEType = mimeType
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, genCfg)
	if err != nil {
		return "", 0, fmt.Errorf("gemini generation failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", 0, fmt.Errorf("empty response from gemini")
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return text, tokens, nil
}

func (p *GeminiProvider) ModelName() string {
	return p.model
}

func (p *GeminiProvider) Close() error {
	return nil
}
