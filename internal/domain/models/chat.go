package models

import "time"

// ChatKind classifies how a chat came to exist.
type ChatKind string

const (
	ChatKindDirect ChatKind = "direct"
	ChatKindGroup  ChatKind = "group"
	ChatKindBranch ChatKind = "branch"
)

// Valid reports whether k is one of the known chat kinds.
func (k ChatKind) Valid() bool {
	switch k {
	case ChatKindDirect, ChatKindGroup, ChatKindBranch:
		return true
	}
	return false
}

// Chat is the metadata record for one conversation. Chats are soft-deactivated,
// never physically removed, so turn history stays reachable for branches.
//
// For a branch chat, ParentChatID and ParentTurnID point at the origin turn the
// branch was forked from. They are set once at creation and no API mutates them;
// the branch tree walk relies on that immutability for termination.
type Chat struct {
	ID           string    `json:"chat_id" db:"chat_id"`
	OwnerID      string    `json:"account_id" db:"owner_id"`
	Kind         ChatKind  `json:"chat_type" db:"kind"`
	Name         string    `json:"name" db:"name"`
	Active       bool      `json:"active" db:"active"`
	ParentChatID *string   `json:"parent_chat_id,omitempty" db:"parent_chat_id"`
	ParentTurnID *string   `json:"parent_turn_id,omitempty" db:"parent_turn_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// IsBranch reports whether the chat carries a parent reference.
func (c *Chat) IsBranch() bool {
	return c.Kind == ChatKindBranch && c.ParentChatID != nil && c.ParentTurnID != nil
}
