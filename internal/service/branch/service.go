package branch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"tangent/internal/config"
	"tangent/internal/domain"
	"tangent/internal/domain/models"
	"tangent/internal/domain/repositories"
)

// CreateBranchRequest carries the inputs for forking a chat at a turn.
type CreateBranchRequest struct {
	SourceChatID string `json:"-"`
	OriginTurnID string `json:"origin_turn_id"`
	Name         string `json:"name"`
	Requester    string `json:"-"`
}

// Service is the branch engine. It orchestrates branch creation across the
// chat directory (metadata) and the conversation store (content) as one
// logical transaction: neither store can span both, so partial failure after
// the chat row exists is compensated by deactivating it.
type Service struct {
	directory repositories.ChatDirectory
	store     repositories.ConversationStore
	logger    *slog.Logger
}

// NewService creates a branch engine.
func NewService(
	directory repositories.ChatDirectory,
	store repositories.ConversationStore,
	logger *slog.Logger,
) *Service {
	return &Service{
		directory: directory,
		store:     store,
		logger:    logger,
	}
}

func (s *Service) validateCreateBranchRequest(req *CreateBranchRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.SourceChatID, validation.Required),
		validation.Field(&req.OriginTurnID, validation.Required),
		validation.Field(&req.Requester, validation.Required),
		validation.Field(&req.Name,
			validation.Required,
			validation.Length(1, config.MaxChatNameLength),
		),
	)
}

// CreateBranch forks a new chat from the source chat at the origin turn. The
// new chat inherits the source's history through the origin turn (fresh turn
// ids, positions from zero) and the origin turn is linked back to it.
//
// Retrying after a crash is safe: an existing branch with the same parent
// reference and owner is returned instead of creating a second one, and
// LinkBranch is idempotent.
func (s *Service) CreateBranch(ctx context.Context, req *CreateBranchRequest) (*models.Chat, error) {
	if err := s.validateCreateBranchRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	source, err := s.directory.Get(ctx, req.SourceChatID)
	if err != nil {
		return nil, err
	}
	if !source.Active {
		return nil, fmt.Errorf("chat %s: %w", req.SourceChatID, domain.ErrNotFound)
	}
	if source.OwnerID != req.Requester {
		return nil, fmt.Errorf("chat %s: %w", req.SourceChatID, domain.ErrForbidden)
	}

	origin, err := s.store.GetTurn(ctx, req.SourceChatID, req.OriginTurnID)
	if err != nil {
		return nil, err
	}

	// Retry guard: a previous run may have created the chat already.
	if existing, err := s.findExistingBranch(ctx, req); err != nil {
		return nil, err
	} else if existing != nil {
		// Re-run the linking step in case the crash hit between copy and
		// link; LinkBranch is a no-op when the link is already there.
		if err := s.store.LinkBranch(ctx, req.SourceChatID, req.OriginTurnID, existing.ID); err != nil {
			return nil, err
		}
		s.logger.Info("branch create retried, returning existing branch",
			"chat_id", existing.ID,
			"parent_chat_id", req.SourceChatID,
		)
		return existing, nil
	}

	parentChatID := req.SourceChatID
	parentTurnID := origin.ID
	chat := &models.Chat{
		OwnerID:      req.Requester,
		Kind:         models.ChatKindBranch,
		Name:         strings.TrimSpace(req.Name),
		ParentChatID: &parentChatID,
		ParentTurnID: &parentTurnID,
	}
	if err := s.directory.Create(ctx, chat); err != nil {
		return nil, err
	}

	if err := s.fillBranch(ctx, req, chat.ID); err != nil {
		// The chat row exists but its content or back-link does not: roll
		// the visible world back by deactivating the chat. If even that
		// fails we have an orphaned branch and escalate.
		if dErr := s.directory.Deactivate(ctx, chat.ID); dErr != nil {
			s.logger.Error("branch compensation failed, orphaned branch chat",
				"chat_id", chat.ID,
				"fill_error", err,
				"deactivate_error", dErr,
			)
			return nil, fmt.Errorf("branch fill failed (%v) and compensation failed (%v): %w",
				err, dErr, domain.ErrInternal)
		}
		s.logger.Warn("branch creation rolled back",
			"chat_id", chat.ID,
			"error", err,
		)
		return nil, err
	}

	s.logger.Info("branch created",
		"chat_id", chat.ID,
		"parent_chat_id", req.SourceChatID,
		"parent_turn_id", origin.ID,
	)
	return chat, nil
}

// fillBranch runs the content half of branch creation: sequence init, prefix
// copy, back-link. Any error here triggers compensation in CreateBranch.
func (s *Service) fillBranch(ctx context.Context, req *CreateBranchRequest, branchChatID string) error {
	if err := s.store.InitChat(ctx, branchChatID); err != nil {
		return err
	}
	if _, err := s.store.CopyPrefix(ctx, req.SourceChatID, req.OriginTurnID, branchChatID); err != nil {
		return err
	}
	return s.store.LinkBranch(ctx, req.SourceChatID, req.OriginTurnID, branchChatID)
}

// findExistingBranch looks for an active branch of the requester with the
// same parent reference, which marks this call as a retry.
func (s *Service) findExistingBranch(ctx context.Context, req *CreateBranchRequest) (*models.Chat, error) {
	children, err := s.directory.Children(ctx, req.SourceChatID)
	if err != nil {
		return nil, err
	}
	for i := range children {
		c := &children[i]
		if c.OwnerID == req.Requester &&
			c.ParentTurnID != nil && *c.ParentTurnID == req.OriginTurnID &&
			c.Name == strings.TrimSpace(req.Name) {
			return c, nil
		}
	}
	return nil, nil
}

// GetBranches returns the direct, active branches of a chat in creation order.
func (s *Service) GetBranches(ctx context.Context, chatID, requester string) ([]models.Chat, error) {
	if err := s.authorize(ctx, chatID, requester); err != nil {
		return nil, err
	}
	return s.directory.Children(ctx, chatID)
}

// GetBranchTree expands every descendant branch of a chat into a rooted tree.
//
// The walk is an explicit work list rather than recursion, so arbitrarily
// deep branch chains cannot grow the call stack. Termination relies on parent
// references being write-once: no API mutates them after creation, so the
// parent graph is acyclic by construction.
func (s *Service) GetBranchTree(ctx context.Context, chatID, requester string) (*models.BranchNode, error) {
	if err := s.authorize(ctx, chatID, requester); err != nil {
		return nil, err
	}

	root, err := s.directory.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}

	tree := &models.BranchNode{
		ChatID:       root.ID,
		Name:         root.Name,
		ParentTurnID: root.ParentTurnID,
		Branches:     []models.BranchNode{},
	}

	// Work list of nodes whose children still need expanding. Nodes are
	// pointers into the tree being built, so appending children in
	// directory order keeps sibling order deterministic.
	work := []*models.BranchNode{tree}
	for len(work) > 0 {
		node := work[len(work)-1]
		work = work[:len(work)-1]

		children, err := s.directory.Children(ctx, node.ChatID)
		if err != nil {
			return nil, err
		}
		node.Branches = make([]models.BranchNode, len(children))
		for i, child := range children {
			node.Branches[i] = models.BranchNode{
				ChatID:       child.ID,
				Name:         child.Name,
				ParentTurnID: child.ParentTurnID,
				Branches:     []models.BranchNode{},
			}
		}
		for i := range node.Branches {
			work = append(work, &node.Branches[i])
		}
	}

	return tree, nil
}

func (s *Service) authorize(ctx context.Context, chatID, requester string) error {
	chat, err := s.directory.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.Active {
		return fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
	}
	if chat.OwnerID != requester {
		return fmt.Errorf("chat %s: %w", chatID, domain.ErrForbidden)
	}
	return nil
}
