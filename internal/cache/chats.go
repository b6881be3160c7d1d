package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"tangent/internal/domain/models"
)

// ChatCache is a read-through cache for chat metadata lookups. Cache problems
// are logged and treated as misses; Redis being down must never fail a read.
type ChatCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewChatCache creates a cache over the given Redis client.
func NewChatCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *ChatCache {
	return &ChatCache{rdb: rdb, ttl: ttl, logger: logger}
}

func chatKey(chatID string) string {
	return fmt.Sprintf("chat:%s", chatID)
}

// Get returns the cached chat, or nil on a miss.
func (c *ChatCache) Get(ctx context.Context, chatID string) *models.Chat {
	if c == nil || c.rdb == nil {
		return nil
	}
	payload, err := c.rdb.Get(ctx, chatKey(chatID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("chat cache read failed", "chat_id", chatID, "error", err)
		}
		return nil
	}

	var chat models.Chat
	if err := json.Unmarshal(payload, &chat); err != nil {
		c.logger.Warn("chat cache entry corrupt", "chat_id", chatID, "error", err)
		c.Invalidate(ctx, chatID)
		return nil
	}
	return &chat
}

// Set stores a chat with the cache's TTL.
func (c *ChatCache) Set(ctx context.Context, chat *models.Chat) {
	if c == nil || c.rdb == nil || chat == nil {
		return
	}
	payload, err := json.Marshal(chat)
	if err != nil {
		c.logger.Warn("chat cache encode failed", "chat_id", chat.ID, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, chatKey(chat.ID), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("chat cache write failed", "chat_id", chat.ID, "error", err)
	}
}

// Invalidate drops a chat from the cache, e.g. after rename or deactivation.
func (c *ChatCache) Invalidate(ctx context.Context, chatID string) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, chatKey(chatID)).Err(); err != nil {
		c.logger.Warn("chat cache invalidate failed", "chat_id", chatID, "error", err)
	}
}
