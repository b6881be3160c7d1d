package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"tangent/internal/cache"
	"tangent/internal/completion"
	"tangent/internal/config"
	"tangent/internal/domain"
	"tangent/internal/domain/models"
	"tangent/internal/domain/repositories"
	"tangent/internal/realtime"
)

// Broadcaster is the slice of the realtime hub the service needs: fan a
// completed turn out to the chat's live viewers.
type Broadcaster interface {
	Broadcast(chatID string, event realtime.Event)
}

// CreateChatRequest carries the inputs for creating a direct or group chat.
// Branch chats are created by the branch engine only.
type CreateChatRequest struct {
	OwnerID string          `json:"-"`
	Name    string          `json:"name"`
	Kind    models.ChatKind `json:"chat_type"`
}

// Service owns chat metadata CRUD and the question/answer flow over one
// chat's turn sequence.
type Service struct {
	directory repositories.ChatDirectory
	store     repositories.ConversationStore
	provider  completion.Provider
	hub       Broadcaster
	chats     *cache.ChatCache
	logger    *slog.Logger
}

// NewService creates a chat service. chats may be nil to run without a cache.
func NewService(
	directory repositories.ChatDirectory,
	store repositories.ConversationStore,
	provider completion.Provider,
	hub Broadcaster,
	chats *cache.ChatCache,
	logger *slog.Logger,
) *Service {
	return &Service{
		directory: directory,
		store:     store,
		provider:  provider,
		hub:       hub,
		chats:     chats,
		logger:    logger,
	}
}

func (s *Service) validateCreateChatRequest(req *CreateChatRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.OwnerID, validation.Required),
		validation.Field(&req.Name,
			validation.Required,
			validation.Length(1, config.MaxChatNameLength),
		),
		validation.Field(&req.Kind,
			validation.Required,
			validation.In(models.ChatKindDirect, models.ChatKindGroup),
		),
	)
}

// CreateChat creates the metadata record and the empty turn sequence. If the
// sequence cannot be initialized the new chat is deactivated again so the two
// stores never disagree for long.
func (s *Service) CreateChat(ctx context.Context, req *CreateChatRequest) (*models.Chat, error) {
	if err := s.validateCreateChatRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	chat := &models.Chat{
		OwnerID: req.OwnerID,
		Kind:    req.Kind,
		Name:    strings.TrimSpace(req.Name),
	}
	if err := s.directory.Create(ctx, chat); err != nil {
		return nil, err
	}

	if err := s.store.InitChat(ctx, chat.ID); err != nil {
		s.logger.Error("init chat content failed, deactivating chat",
			"chat_id", chat.ID,
			"error", err,
		)
		if dErr := s.directory.Deactivate(ctx, chat.ID); dErr != nil {
			return nil, fmt.Errorf("init content failed (%v) and compensation failed (%v): %w",
				err, dErr, domain.ErrInternal)
		}
		return nil, err
	}

	s.logger.Info("chat created",
		"chat_id", chat.ID,
		"kind", chat.Kind,
		"owner_id", chat.OwnerID,
	)
	return chat, nil
}

// GetChat retrieves a chat the requester owns, through the metadata cache.
func (s *Service) GetChat(ctx context.Context, chatID, accountID string) (*models.Chat, error) {
	return s.authorize(ctx, chatID, accountID)
}

// ListChats retrieves the requester's active chats.
func (s *Service) ListChats(ctx context.Context, accountID string) ([]models.Chat, error) {
	return s.directory.ListByOwner(ctx, accountID)
}

// RenameChat updates the display name.
func (s *Service) RenameChat(ctx context.Context, chatID, accountID, name string) (*models.Chat, error) {
	name = strings.TrimSpace(name)
	if err := validation.Validate(name,
		validation.Required,
		validation.Length(1, config.MaxChatNameLength),
	); err != nil {
		return nil, fmt.Errorf("%w: name: %v", domain.ErrValidation, err)
	}

	if _, err := s.authorize(ctx, chatID, accountID); err != nil {
		return nil, err
	}

	chat, err := s.directory.Rename(ctx, chatID, name)
	if err != nil {
		return nil, err
	}
	s.chats.Invalidate(ctx, chatID)
	return chat, nil
}

// DeleteChat soft-deactivates a chat. Turn content is retained so existing
// branches keep their history.
func (s *Service) DeleteChat(ctx context.Context, chatID, accountID string) error {
	if _, err := s.authorize(ctx, chatID, accountID); err != nil {
		return err
	}
	if err := s.directory.Deactivate(ctx, chatID); err != nil {
		return err
	}
	s.chats.Invalidate(ctx, chatID)
	s.logger.Info("chat deactivated", "chat_id", chatID, "account_id", accountID)
	return nil
}

// ListTurns returns the chat's full history in sequence order.
func (s *Service) ListTurns(ctx context.Context, chatID, accountID string) ([]models.Turn, error) {
	if _, err := s.authorize(ctx, chatID, accountID); err != nil {
		return nil, err
	}
	return s.store.ListTurns(ctx, chatID)
}

// Search returns the chat's turns matching query, case-insensitively.
func (s *Service) Search(ctx context.Context, chatID, accountID, query string) ([]models.Turn, error) {
	if err := validation.Validate(query,
		validation.Required,
		validation.Length(1, config.MaxSearchQueryLength),
	); err != nil {
		return nil, fmt.Errorf("%w: query: %v", domain.ErrValidation, err)
	}
	if _, err := s.authorize(ctx, chatID, accountID); err != nil {
		return nil, err
	}
	return s.store.Search(ctx, chatID, query)
}

// Ask appends the question, generates the answer, completes the turn, and
// broadcasts the completed turn to the chat's live viewers.
//
// The append reserves the sequence position before the slow provider round
// trip, and no chat lock is held while the provider runs, so other chats and
// other operations on this chat proceed. If the provider fails, the pending
// turn stays persisted with an empty answer and the caller gets
// domain.ErrUnavailable alongside the pending turn for a later retry.
func (s *Service) Ask(ctx context.Context, chatID, accountID, question string) (*models.Turn, error) {
	if err := validation.Validate(question,
		validation.Required,
		validation.Length(1, config.MaxQuestionLength),
	); err != nil {
		return nil, fmt.Errorf("%w: question: %v", domain.ErrValidation, err)
	}
	if _, err := s.authorize(ctx, chatID, accountID); err != nil {
		return nil, err
	}

	history, err := s.store.ListTurns(ctx, chatID)
	if err != nil {
		return nil, err
	}

	turn, err := s.store.AppendQuestion(ctx, chatID, question)
	if err != nil {
		return nil, err
	}

	answer, err := s.provider.Generate(ctx, question, history)
	if err == nil && answer == "" {
		// An empty answer is indistinguishable from a pending turn, so it
		// counts as a provider failure and never reaches the store.
		err = errors.New("provider returned an empty answer")
	}
	if err != nil {
		s.logger.Warn("completion provider failed, turn left pending",
			"chat_id", chatID,
			"turn_id", turn.ID,
			"error", err,
		)
		return turn, fmt.Errorf("completion provider: %w", domain.ErrUnavailable)
	}

	completed, err := s.store.SetAnswer(ctx, chatID, turn.ID, answer)
	if err != nil {
		return turn, err
	}

	s.hub.Broadcast(chatID, realtime.Event{Type: realtime.EventTurn, Data: completed})
	return completed, nil
}

// CompleteTurn retries answer generation for a turn left pending by an
// earlier provider failure.
func (s *Service) CompleteTurn(ctx context.Context, chatID, accountID, turnID string) (*models.Turn, error) {
	if _, err := s.authorize(ctx, chatID, accountID); err != nil {
		return nil, err
	}

	turn, err := s.store.GetTurn(ctx, chatID, turnID)
	if err != nil {
		return nil, err
	}
	if !turn.Pending() {
		return nil, fmt.Errorf("turn %s already answered: %w", turnID, domain.ErrConflict)
	}

	history, err := s.store.ListTurns(ctx, chatID)
	if err != nil {
		return nil, err
	}
	// History up to, not including, the pending turn.
	prior := history[:turn.Seq]

	answer, err := s.provider.Generate(ctx, turn.Question, prior)
	if err == nil && answer == "" {
		err = errors.New("provider returned an empty answer")
	}
	if err != nil {
		s.logger.Warn("completion retry failed",
			"chat_id", chatID,
			"turn_id", turnID,
			"error", err,
		)
		return turn, fmt.Errorf("completion provider: %w", domain.ErrUnavailable)
	}

	completed, err := s.store.SetAnswer(ctx, chatID, turnID, answer)
	if err != nil {
		return turn, err
	}

	s.hub.Broadcast(chatID, realtime.Event{Type: realtime.EventTurn, Data: completed})
	return completed, nil
}

// authorize resolves a chat and checks the requester owns it and it is
// active. Inactive chats are reported as absent, matching their soft-deleted
// lifecycle.
func (s *Service) authorize(ctx context.Context, chatID, accountID string) (*models.Chat, error) {
	chat := s.chats.Get(ctx, chatID)
	if chat == nil {
		var err error
		chat, err = s.directory.Get(ctx, chatID)
		if err != nil {
			return nil, err
		}
		if chat.Active {
			s.chats.Set(ctx, chat)
		}
	}

	if !chat.Active {
		return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
	}
	if chat.OwnerID != accountID {
		return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrForbidden)
	}
	return chat, nil
}
