package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tangent/internal/domain"
	"tangent/internal/domain/models"
	"tangent/internal/domain/repositories"
)

// ChatDirectory is an in-memory ChatDirectory. Insertion order is retained so
// Children returns siblings deterministically in creation order.
type ChatDirectory struct {
	mu    sync.RWMutex
	chats map[string]*models.Chat
	order []string
}

// NewChatDirectory creates an empty in-memory chat directory.
func NewChatDirectory() *ChatDirectory {
	return &ChatDirectory{chats: make(map[string]*models.Chat)}
}

var _ repositories.ChatDirectory = (*ChatDirectory)(nil)

// Create inserts a new chat record.
func (d *ChatDirectory) Create(ctx context.Context, chat *models.Chat) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	if _, ok := d.chats[chat.ID]; ok {
		return fmt.Errorf("chat %s: %w", chat.ID, domain.ErrConflict)
	}
	now := time.Now().UTC()
	chat.Active = true
	chat.CreatedAt = now
	chat.UpdatedAt = now

	stored := *chat
	d.chats[chat.ID] = &stored
	d.order = append(d.order, chat.ID)
	return nil
}

// Get retrieves a chat by id, active or not.
func (d *ChatDirectory) Get(ctx context.Context, chatID string) (*models.Chat, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.chats[chatID]
	if !ok {
		return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
	}
	out := *c
	return &out, nil
}

// ListByOwner returns the owner's active chats, most recently updated first.
func (d *ChatDirectory) ListByOwner(ctx context.Context, ownerID string) ([]models.Chat, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := []models.Chat{}
	for _, id := range d.order {
		c := d.chats[id]
		if c.OwnerID == ownerID && c.Active {
			out = append(out, *c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Rename updates the display name of an active chat.
func (d *ChatDirectory) Rename(ctx context.Context, chatID, name string) (*models.Chat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.chats[chatID]
	if !ok || !c.Active {
		return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
	}
	c.Name = name
	c.UpdatedAt = time.Now().UTC()
	out := *c
	return &out, nil
}

// Deactivate soft-deletes a chat. Already-inactive chats are left alone.
func (d *ChatDirectory) Deactivate(ctx context.Context, chatID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.chats[chatID]
	if !ok {
		return fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
	}
	if c.Active {
		c.Active = false
		c.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// Children returns the active branches forked from chatID, in creation order.
func (d *ChatDirectory) Children(ctx context.Context, chatID string) ([]models.Chat, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := []models.Chat{}
	for _, id := range d.order {
		c := d.chats[id]
		if c.Active && c.ParentChatID != nil && *c.ParentChatID == chatID {
			out = append(out, *c)
		}
	}
	return out, nil
}
