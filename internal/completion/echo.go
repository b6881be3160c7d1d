package completion

import (
	"context"
	"fmt"

	"tangent/internal/domain/models"
)

// EchoProvider is a fake provider for development and tests: no API keys, no
// network, deterministic output.
type EchoProvider struct{}

// NewEchoProvider creates the fake provider.
func NewEchoProvider() *EchoProvider {
	return &EchoProvider{}
}

var _ Provider = (*EchoProvider)(nil)

// Generate answers with a deterministic restatement of the question.
func (p *EchoProvider) Generate(ctx context.Context, question string, history []models.Turn) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("You asked: %s (turn %d of this chat)", question, len(history)+1), nil
}
