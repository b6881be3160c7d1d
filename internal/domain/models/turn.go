package models

import "time"

// Turn is one question/answer exchange, the atomic unit of conversation
// history. Answer is empty while the completion is pending; it is set exactly
// once and never mutated again.
//
// Seq is the append-order position within the owning chat and is the
// authoritative ordering key. Timestamp is advisory only: branch copies keep
// the source timestamps, so wall-clock order must never be relied on for
// ordering copied turns.
//
// ID is unique within its chat, not globally. Every copy created by branching
// is issued a fresh ID to avoid cross-chat collisions.
type Turn struct {
	ID        string    `json:"turn_id" bson:"turn_id"`
	Seq       int       `json:"-" bson:"seq"`
	Question  string    `json:"question" bson:"question"`
	Answer    string    `json:"answer" bson:"answer"`
	Timestamp time.Time `json:"sequence_timestamp" bson:"sequence_timestamp"`
	Branches  []string  `json:"branches" bson:"branches"`
}

// Pending reports whether the turn is still awaiting its answer.
func (t *Turn) Pending() bool {
	return t.Answer == ""
}

// HasBranch reports whether branchChatID is already linked on this turn.
func (t *Turn) HasBranch(branchChatID string) bool {
	for _, id := range t.Branches {
		if id == branchChatID {
			return true
		}
	}
	return false
}
