package repositories

import (
	"context"

	"tangent/internal/domain/models"
)

// ConversationStore is the content store: the ordered turn sequence per chat.
//
// Within one chat, sequence positions are strictly increasing and gapless from
// zero. Implementations must serialize position assignment per chat so two
// concurrent AppendQuestion calls never share a position, without taking any
// cross-chat lock.
type ConversationStore interface {
	// InitChat creates the empty turn sequence for a newly created chat.
	// Returns domain.ErrConflict if the sequence already exists.
	InitChat(ctx context.Context, chatID string) error

	// AppendQuestion creates a turn with an empty answer at the next
	// sequence position. Returns domain.ErrNotFound if the chat's sequence
	// does not exist.
	AppendQuestion(ctx context.Context, chatID, question string) (*models.Turn, error)

	// SetAnswer fills the answer of a pending turn. Answers are set exactly
	// once: domain.ErrConflict if already non-empty, domain.ErrNotFound if
	// the turn does not exist.
	SetAnswer(ctx context.Context, chatID, turnID, answer string) (*models.Turn, error)

	// GetTurn is a point lookup. Returns domain.ErrNotFound when absent.
	GetTurn(ctx context.Context, chatID, turnID string) (*models.Turn, error)

	// ListTurns returns the full history in sequence order. A chat with no
	// turns yields an empty slice, not an error.
	ListTurns(ctx context.Context, chatID string) ([]models.Turn, error)

	// LinkBranch appends branchChatID to the turn's branches set.
	// Idempotent: linking the same id twice is a no-op, which is what makes
	// the branch engine's crash-recovery retry path safe.
	LinkBranch(ctx context.Context, chatID, turnID, branchChatID string) error

	// Search returns turns whose question or answer contains query,
	// case-insensitively, in sequence order.
	Search(ctx context.Context, chatID, query string) ([]models.Turn, error)

	// CopyPrefix copies turns 0 through the position of throughTurnID
	// inclusive into destChatID with fresh turn ids, positions renumbered
	// from zero, and empty branches sets. The copy is atomic over a
	// snapshot of the source taken at the start: either the full prefix
	// lands in the destination or none of it does. Returns the number of
	// turns copied, or domain.ErrNotFound if throughTurnID is absent from
	// the source.
	CopyPrefix(ctx context.Context, sourceChatID, throughTurnID, destChatID string) (int, error)
}
