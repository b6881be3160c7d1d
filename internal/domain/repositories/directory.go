package repositories

import (
	"context"

	"tangent/internal/domain/models"
)

// ChatDirectory is the metadata store: one row per chat, authoritative for
// ownership, kind, the active flag, and branch parent references.
//
// Parent references are written by Create and never updated afterwards.
type ChatDirectory interface {
	// Create inserts a new chat and fills in ID, CreatedAt, UpdatedAt.
	Create(ctx context.Context, chat *models.Chat) error

	// Get retrieves a chat by ID regardless of its active flag.
	// Returns domain.ErrNotFound if no such chat exists.
	Get(ctx context.Context, chatID string) (*models.Chat, error)

	// ListByOwner retrieves the owner's active chats, most recently
	// updated first. Returns an empty slice when there are none.
	ListByOwner(ctx context.Context, ownerID string) ([]models.Chat, error)

	// Rename updates the display name.
	// Returns domain.ErrNotFound if the chat does not exist or is inactive.
	Rename(ctx context.Context, chatID, name string) (*models.Chat, error)

	// Deactivate soft-deletes a chat. Idempotent: deactivating an already
	// inactive chat is a no-op, not an error.
	Deactivate(ctx context.Context, chatID string) error

	// Children retrieves the active chats whose ParentChatID equals chatID,
	// in creation order. Returns an empty slice when there are none.
	Children(ctx context.Context, chatID string) ([]models.Chat, error)
}
