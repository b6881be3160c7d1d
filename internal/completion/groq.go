package completion

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"tangent/internal/domain/models"
)

// DefaultGroqBaseURL is Groq's OpenAI-compatible endpoint.
const DefaultGroqBaseURL = "https://api.groq.com/openai/v1"

// GroqProvider generates answers through Groq's chat-completions API, which
// speaks the OpenAI wire protocol.
type GroqProvider struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewGroqProvider creates a Groq-backed provider. baseURL falls back to the
// public Groq endpoint when empty.
func NewGroqProvider(apiKey, baseURL, model string, logger *slog.Logger) *GroqProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL == "" {
		baseURL = DefaultGroqBaseURL
	}
	cfg.BaseURL = baseURL

	return &GroqProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}
}

var _ Provider = (*GroqProvider)(nil)

// Generate sends the conversation so far plus the new question and returns
// the model's reply.
func (p *GroqProvider) Generate(ctx context.Context, question string, history []models.Turn) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)*2+1)
	for _, turn := range history {
		if turn.Pending() {
			// A turn still awaiting its answer contributes nothing the
			// model can ground on.
			continue
		}
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: turn.Question},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: turn.Answer},
		)
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: question,
	})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("groq chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("groq chat completion: empty response")
	}

	return resp.Choices[0].Message.Content, nil
}
