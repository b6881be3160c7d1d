package completion

import (
	"context"

	"tangent/internal/domain/models"
)

// Provider turns a question plus prior history into an answer. A failure or
// timeout means "answer not available now": the caller leaves the turn
// pending and surfaces the failure, it never fabricates an answer.
type Provider interface {
	// Generate produces an answer for question given the prior turns of the
	// chat, in sequence order. Pending turns in the history are skipped.
	Generate(ctx context.Context, question string, history []models.Turn) (string, error)
}
