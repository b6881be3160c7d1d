package models

// BranchNode is one chat in a branch tree. Branches holds the direct children
// in creation order; the zero-length slice (not nil) marks a leaf so the JSON
// shape stays stable.
type BranchNode struct {
	ChatID       string       `json:"chat_id"`
	Name         string       `json:"name"`
	ParentTurnID *string      `json:"parent_turn_id,omitempty"`
	Branches     []BranchNode `json:"branches"`
}
