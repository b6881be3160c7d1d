package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tangent/internal/domain"
	"tangent/internal/domain/models"
	"tangent/internal/domain/repositories"
)

// PostgresChatDirectory implements the ChatDirectory interface on PostgreSQL.
// It owns only chat metadata; turn content lives in the conversation store.
type PostgresChatDirectory struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewChatDirectory creates a new PostgresChatDirectory.
func NewChatDirectory(config *RepositoryConfig) repositories.ChatDirectory {
	return &PostgresChatDirectory{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const chatColumns = "chat_id, owner_id, kind, name, active, parent_chat_id, parent_turn_id, created_at, updated_at"

func (d *PostgresChatDirectory) scanChat(row pgx.Row) (*models.Chat, error) {
	var chat models.Chat
	err := row.Scan(
		&chat.ID,
		&chat.OwnerID,
		&chat.Kind,
		&chat.Name,
		&chat.Active,
		&chat.ParentChatID,
		&chat.ParentTurnID,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// Create inserts a new chat row. Parent references are written here once and
// never touched by any other statement in this repository.
func (d *PostgresChatDirectory) Create(ctx context.Context, chat *models.Chat) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (owner_id, kind, name, active, parent_chat_id, parent_turn_id, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $5, $6, $7)
		RETURNING chat_id, active, created_at, updated_at
	`, d.tables.Chats)

	now := time.Now().UTC()
	err := d.pool.QueryRow(ctx, query,
		chat.OwnerID,
		chat.Kind,
		chat.Name,
		chat.ParentChatID,
		chat.ParentTurnID,
		now,
		now,
	).Scan(&chat.ID, &chat.Active, &chat.CreatedAt, &chat.UpdatedAt)

	if err != nil {
		if IsPgDuplicateError(err) {
			return fmt.Errorf("chat %s: %w", chat.ID, domain.ErrConflict)
		}
		return fmt.Errorf("create chat: %w", err)
	}

	return nil
}

// Get retrieves a chat by ID, active or not.
func (d *PostgresChatDirectory) Get(ctx context.Context, chatID string) (*models.Chat, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE chat_id = $1
	`, chatColumns, d.tables.Chats)

	chat, err := d.scanChat(d.pool.QueryRow(ctx, query, chatID))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}

	return chat, nil
}

// ListByOwner retrieves the owner's active chats, most recently updated first.
func (d *PostgresChatDirectory) ListByOwner(ctx context.Context, ownerID string) ([]models.Chat, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE owner_id = $1 AND active
		ORDER BY updated_at DESC
	`, chatColumns, d.tables.Chats)

	rows, err := d.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	return d.collectChats(rows)
}

// Rename updates the display name of an active chat.
func (d *PostgresChatDirectory) Rename(ctx context.Context, chatID, name string) (*models.Chat, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET name = $1, updated_at = $2
		WHERE chat_id = $3 AND active
		RETURNING %s
	`, d.tables.Chats, chatColumns)

	chat, err := d.scanChat(d.pool.QueryRow(ctx, query, name, time.Now().UTC(), chatID))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("rename chat: %w", err)
	}

	return chat, nil
}

// Deactivate soft-deletes a chat. Idempotent for already-inactive chats.
func (d *PostgresChatDirectory) Deactivate(ctx context.Context, chatID string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET active = FALSE, updated_at = $1
		WHERE chat_id = $2
	`, d.tables.Chats)

	result, err := d.pool.Exec(ctx, query, time.Now().UTC(), chatID)
	if err != nil {
		return fmt.Errorf("deactivate chat: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
	}

	return nil
}

// Children retrieves the active branches forked from chatID in creation order.
func (d *PostgresChatDirectory) Children(ctx context.Context, chatID string) ([]models.Chat, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE parent_chat_id = $1 AND active
		ORDER BY created_at, chat_id
	`, chatColumns, d.tables.Chats)

	rows, err := d.pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	return d.collectChats(rows)
}

func (d *PostgresChatDirectory) collectChats(rows pgx.Rows) ([]models.Chat, error) {
	var chats []models.Chat
	for rows.Next() {
		chat, err := d.scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, *chat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}

	if chats == nil {
		chats = []models.Chat{}
	}

	return chats, nil
}
