package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tangent/internal/domain"
	"tangent/internal/domain/models"
	"tangent/internal/domain/repositories"
)

// chatLog holds one chat's turn sequence. Its mutex serializes position
// assignment and answer writes for that chat only; unrelated chats never
// contend.
type chatLog struct {
	mu    sync.Mutex
	turns []models.Turn
}

// snapshot returns a deep copy of the turns under the log's lock.
func (l *chatLog) snapshot() []models.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Turn, len(l.turns))
	for i, t := range l.turns {
		out[i] = t
		out[i].Branches = append([]string(nil), t.Branches...)
	}
	return out
}

// ConversationStore is an in-memory ConversationStore. It backs tests and
// local development; the mongo implementation is the production content store.
type ConversationStore struct {
	mu    sync.RWMutex
	chats map[string]*chatLog
}

// NewConversationStore creates an empty in-memory conversation store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{chats: make(map[string]*chatLog)}
}

var _ repositories.ConversationStore = (*ConversationStore)(nil)

func (s *ConversationStore) log(chatID string) (*chatLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.chats[chatID]
	if !ok {
		return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
	}
	return l, nil
}

// InitChat creates the empty turn sequence for a chat.
func (s *ConversationStore) InitChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; ok {
		return fmt.Errorf("chat %s: %w", chatID, domain.ErrConflict)
	}
	s.chats[chatID] = &chatLog{}
	return nil
}

// AppendQuestion appends a pending turn at the next sequence position.
func (s *ConversationStore) AppendQuestion(ctx context.Context, chatID, question string) (*models.Turn, error) {
	l, err := s.log(chatID)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	turn := models.Turn{
		ID:        uuid.NewString(),
		Seq:       len(l.turns),
		Question:  question,
		Timestamp: time.Now().UTC(),
		Branches:  []string{},
	}
	l.turns = append(l.turns, turn)
	return &turn, nil
}

// SetAnswer fills a pending turn's answer exactly once.
func (s *ConversationStore) SetAnswer(ctx context.Context, chatID, turnID, answer string) (*models.Turn, error) {
	l, err := s.log(chatID)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.turns {
		if l.turns[i].ID != turnID {
			continue
		}
		if l.turns[i].Answer != "" {
			return nil, fmt.Errorf("turn %s already answered: %w", turnID, domain.ErrConflict)
		}
		l.turns[i].Answer = answer
		out := l.turns[i]
		out.Branches = append([]string(nil), out.Branches...)
		return &out, nil
	}
	return nil, fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
}

// GetTurn retrieves a single turn by id.
func (s *ConversationStore) GetTurn(ctx context.Context, chatID, turnID string) (*models.Turn, error) {
	l, err := s.log(chatID)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.turns {
		if t.ID == turnID {
			t.Branches = append([]string(nil), t.Branches...)
			return &t, nil
		}
	}
	return nil, fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
}

// ListTurns returns the full history in sequence order.
func (s *ConversationStore) ListTurns(ctx context.Context, chatID string) ([]models.Turn, error) {
	l, err := s.log(chatID)
	if err != nil {
		return nil, err
	}
	return l.snapshot(), nil
}

// LinkBranch appends branchChatID to the turn's branches set, idempotently.
func (s *ConversationStore) LinkBranch(ctx context.Context, chatID, turnID, branchChatID string) error {
	l, err := s.log(chatID)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.turns {
		if l.turns[i].ID != turnID {
			continue
		}
		if l.turns[i].HasBranch(branchChatID) {
			return nil
		}
		l.turns[i].Branches = append(l.turns[i].Branches, branchChatID)
		return nil
	}
	return fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
}

// Search returns turns containing query in question or answer, case-insensitively.
func (s *ConversationStore) Search(ctx context.Context, chatID, query string) ([]models.Turn, error) {
	l, err := s.log(chatID)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	out := []models.Turn{}
	for _, t := range l.snapshot() {
		if strings.Contains(strings.ToLower(t.Question), needle) ||
			strings.Contains(strings.ToLower(t.Answer), needle) {
			out = append(out, t)
		}
	}
	return out, nil
}

// CopyPrefix copies the source prefix through throughTurnID into destChatID.
// The source is snapshotted under its own lock, so an append racing the copy
// is either fully included or fully excluded, never half-copied. The write to
// the destination replaces its sequence in one step.
func (s *ConversationStore) CopyPrefix(ctx context.Context, sourceChatID, throughTurnID, destChatID string) (int, error) {
	src, err := s.log(sourceChatID)
	if err != nil {
		return 0, err
	}
	dst, err := s.log(destChatID)
	if err != nil {
		return 0, err
	}

	turns := src.snapshot()
	through := -1
	for i, t := range turns {
		if t.ID == throughTurnID {
			through = i
			break
		}
	}
	if through < 0 {
		return 0, fmt.Errorf("turn %s: %w", throughTurnID, domain.ErrNotFound)
	}

	// Fresh ids and positions from zero; timestamps are kept (they are
	// advisory), branch links are not copied because nothing has forked
	// from the copies yet.
	prefix := make([]models.Turn, through+1)
	for i, t := range turns[:through+1] {
		prefix[i] = models.Turn{
			ID:        uuid.NewString(),
			Seq:       i,
			Question:  t.Question,
			Answer:    t.Answer,
			Timestamp: t.Timestamp,
			Branches:  []string{},
		}
	}

	dst.mu.Lock()
	dst.turns = prefix
	dst.mu.Unlock()
	return len(prefix), nil
}
