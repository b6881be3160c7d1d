package branch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"tangent/internal/domain"
	"tangent/internal/domain/models"
	"tangent/internal/domain/repositories"
	"tangent/internal/repository/memory"
)

// faultyStore wraps a real store and fails selected operations, standing in
// for a content store outage mid branch creation.
type faultyStore struct {
	repositories.ConversationStore
	failCopyPrefix bool
	failLinkBranch bool
}

func (s *faultyStore) CopyPrefix(ctx context.Context, sourceChatID, throughTurnID, destChatID string) (int, error) {
	if s.failCopyPrefix {
		return 0, errors.New("content store down")
	}
	return s.ConversationStore.CopyPrefix(ctx, sourceChatID, throughTurnID, destChatID)
}

func (s *faultyStore) LinkBranch(ctx context.Context, chatID, turnID, branchChatID string) error {
	if s.failLinkBranch {
		return errors.New("content store down")
	}
	return s.ConversationStore.LinkBranch(ctx, chatID, turnID, branchChatID)
}

// faultyDirectory fails Deactivate, standing in for a metadata store outage
// during compensation.
type faultyDirectory struct {
	repositories.ChatDirectory
}

func (d *faultyDirectory) Deactivate(ctx context.Context, chatID string) error {
	return errors.New("metadata store down")
}

type fixture struct {
	directory repositories.ChatDirectory
	store     repositories.ConversationStore
	svc       *Service
	chatID    string
	turnIDs   []string
}

// newFixture builds a chat owned by alice with answered turns q0..q{n-1}.
func newFixture(t *testing.T, turns int) *fixture {
	t.Helper()
	ctx := context.Background()
	directory := memory.NewChatDirectory()
	store := memory.NewConversationStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	chat := &models.Chat{OwnerID: "alice", Kind: models.ChatKindDirect, Name: "root"}
	if err := directory.Create(ctx, chat); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.InitChat(ctx, chat.ID); err != nil {
		t.Fatalf("InitChat failed: %v", err)
	}

	ids := make([]string, turns)
	for i := 0; i < turns; i++ {
		turn, err := store.AppendQuestion(ctx, chat.ID, fmt.Sprintf("q%d", i))
		if err != nil {
			t.Fatalf("AppendQuestion failed: %v", err)
		}
		if _, err := store.SetAnswer(ctx, chat.ID, turn.ID, fmt.Sprintf("a%d", i)); err != nil {
			t.Fatalf("SetAnswer failed: %v", err)
		}
		ids[i] = turn.ID
	}

	return &fixture{
		directory: directory,
		store:     store,
		svc:       NewService(directory, store, logger),
		chatID:    chat.ID,
		turnIDs:   ids,
	}
}

// TestCreateBranch_CopiesPrefixAndLinksBack tests the full branch flow: the
// new chat holds the prefix through the origin turn and the origin turn
// records the branch
func TestCreateBranch_CopiesPrefixAndLinksBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 4)

	branch, err := f.svc.CreateBranch(ctx, &CreateBranchRequest{
		SourceChatID: f.chatID,
		OriginTurnID: f.turnIDs[1],
		Name:         "what if",
		Requester:    "alice",
	})
	if err != nil {
		t.Fatalf("CreateBranch failed: %v", err)
	}
	if branch.Kind != models.ChatKindBranch {
		t.Errorf("expected a branch chat, got %q", branch.Kind)
	}
	if branch.ParentChatID == nil || *branch.ParentChatID != f.chatID {
		t.Errorf("expected parent chat reference to the source")
	}
	if branch.ParentTurnID == nil || *branch.ParentTurnID != f.turnIDs[1] {
		t.Errorf("expected parent turn reference to the origin turn")
	}

	turns, err := f.store.ListTurns(ctx, branch.ID)
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 copied turns, got %d", len(turns))
	}
	for i, turn := range turns {
		if turn.Question != fmt.Sprintf("q%d", i) || turn.Answer != fmt.Sprintf("a%d", i) {
			t.Errorf("copied turn %d content differs from source", i)
		}
		if turn.ID == f.turnIDs[i] {
			t.Errorf("copied turn %d kept the source turn id", i)
		}
	}

	origin, err := f.store.GetTurn(ctx, f.chatID, f.turnIDs[1])
	if err != nil {
		t.Fatalf("GetTurn failed: %v", err)
	}
	if !origin.HasBranch(branch.ID) {
		t.Errorf("expected the origin turn to link the branch")
	}

	// Later turns of the source must not leak into the branch, and the
	// source must be untouched.
	source, err := f.store.ListTurns(ctx, f.chatID)
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}
	if len(source) != 4 {
		t.Errorf("expected source to keep 4 turns, got %d", len(source))
	}
}

// TestCreateBranch_AtPendingTurn tests branching at a turn whose answer never
// arrived: the copy carries the question with an empty answer, and answering
// the source turn later does not retrofit the branch
func TestCreateBranch_AtPendingTurn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	pending, err := f.store.AppendQuestion(ctx, f.chatID, "unanswered")
	if err != nil {
		t.Fatalf("AppendQuestion failed: %v", err)
	}

	branch, err := f.svc.CreateBranch(ctx, &CreateBranchRequest{
		SourceChatID: f.chatID,
		OriginTurnID: pending.ID,
		Name:         "from pending",
		Requester:    "alice",
	})
	if err != nil {
		t.Fatalf("CreateBranch failed: %v", err)
	}

	turns, err := f.store.ListTurns(ctx, branch.ID)
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 copied turns, got %d", len(turns))
	}
	copied := turns[1]
	if copied.Question != "unanswered" || !copied.Pending() {
		t.Errorf("expected the copy to stay pending, got answer %q", copied.Answer)
	}
	if copied.ID == pending.ID {
		t.Errorf("expected the copied turn to get a fresh id")
	}

	// Answering the source afterwards must not change the branch's copy.
	if _, err := f.store.SetAnswer(ctx, f.chatID, pending.ID, "late answer"); err != nil {
		t.Fatalf("SetAnswer failed: %v", err)
	}
	copiedAfter, err := f.store.GetTurn(ctx, branch.ID, copied.ID)
	if err != nil {
		t.Fatalf("GetTurn failed: %v", err)
	}
	copied = *copiedAfter
	if !copied.Pending() {
		t.Errorf("expected the branch copy to keep its empty answer, got %q", copied.Answer)
	}
}

// TestCreateBranch_OfBranch tests forking a branch again, A -> B -> C
func TestCreateBranch_OfBranch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)

	b, err := f.svc.CreateBranch(ctx, &CreateBranchRequest{
		SourceChatID: f.chatID,
		OriginTurnID: f.turnIDs[2],
		Name:         "b",
		Requester:    "alice",
	})
	if err != nil {
		t.Fatalf("CreateBranch failed: %v", err)
	}

	bTurns, err := f.store.ListTurns(ctx, b.ID)
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}

	c, err := f.svc.CreateBranch(ctx, &CreateBranchRequest{
		SourceChatID: b.ID,
		OriginTurnID: bTurns[0].ID,
		Name:         "c",
		Requester:    "alice",
	})
	if err != nil {
		t.Fatalf("CreateBranch failed: %v", err)
	}

	cTurns, err := f.store.ListTurns(ctx, c.ID)
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}
	if len(cTurns) != 1 {
		t.Fatalf("expected 1 turn in the second-level branch, got %d", len(cTurns))
	}
	if cTurns[0].Question != "q0" {
		t.Errorf("expected the second-level branch to hold q0, got %q", cTurns[0].Question)
	}

	tree, err := f.svc.GetBranchTree(ctx, f.chatID, "alice")
	if err != nil {
		t.Fatalf("GetBranchTree failed: %v", err)
	}
	if len(tree.Branches) != 1 || tree.Branches[0].ChatID != b.ID {
		t.Fatalf("expected the root to have one branch")
	}
	if len(tree.Branches[0].Branches) != 1 || tree.Branches[0].Branches[0].ChatID != c.ID {
		t.Errorf("expected the branch to have one branch of its own")
	}
}

// TestCreateBranch_RetryReturnsExistingBranch tests that repeating the same
// request yields the branch already created instead of a duplicate
func TestCreateBranch_RetryReturnsExistingBranch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)

	req := &CreateBranchRequest{
		SourceChatID: f.chatID,
		OriginTurnID: f.turnIDs[0],
		Name:         "retry me",
		Requester:    "alice",
	}
	first, err := f.svc.CreateBranch(ctx, req)
	if err != nil {
		t.Fatalf("CreateBranch failed: %v", err)
	}
	second, err := f.svc.CreateBranch(ctx, req)
	if err != nil {
		t.Fatalf("retried CreateBranch failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected the retry to return the existing branch")
	}

	children, err := f.directory.Children(ctx, f.chatID)
	if err != nil {
		t.Fatalf("Children failed: %v", err)
	}
	if len(children) != 1 {
		t.Errorf("expected exactly one branch, got %d", len(children))
	}

	origin, err := f.store.GetTurn(ctx, f.chatID, f.turnIDs[0])
	if err != nil {
		t.Fatalf("GetTurn failed: %v", err)
	}
	if len(origin.Branches) != 1 {
		t.Errorf("expected exactly one branch link, got %v", origin.Branches)
	}

	// A distinct name at the same turn is a deliberate second branch.
	other, err := f.svc.CreateBranch(ctx, &CreateBranchRequest{
		SourceChatID: f.chatID,
		OriginTurnID: f.turnIDs[0],
		Name:         "different take",
		Requester:    "alice",
	})
	if err != nil {
		t.Fatalf("CreateBranch failed: %v", err)
	}
	if other.ID == first.ID {
		t.Errorf("expected a new branch for a different name")
	}
}

// TestCreateBranch_CompensatesOnCopyFailure tests that a content store
// failure deactivates the half-created branch chat
func TestCreateBranch_CompensatesOnCopyFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(f.directory, &faultyStore{ConversationStore: f.store, failCopyPrefix: true}, logger)

	_, err := svc.CreateBranch(ctx, &CreateBranchRequest{
		SourceChatID: f.chatID,
		OriginTurnID: f.turnIDs[1],
		Name:         "doomed",
		Requester:    "alice",
	})
	if err == nil {
		t.Fatalf("expected CreateBranch to fail")
	}
	if errors.Is(err, domain.ErrInternal) {
		t.Fatalf("compensation succeeded, error should not escalate: %v", err)
	}

	children, err := f.directory.Children(ctx, f.chatID)
	if err != nil {
		t.Fatalf("Children failed: %v", err)
	}
	if len(children) != 0 {
		t.Errorf("expected the failed branch to be deactivated, got %d children", len(children))
	}

	origin, err := f.store.GetTurn(ctx, f.chatID, f.turnIDs[1])
	if err != nil {
		t.Fatalf("GetTurn failed: %v", err)
	}
	if len(origin.Branches) != 0 {
		t.Errorf("expected no branch link after rollback, got %v", origin.Branches)
	}
}

// TestCreateBranch_LinkFailureAlsoCompensates tests rollback when the final
// linking step fails after the copy succeeded
func TestCreateBranch_LinkFailureAlsoCompensates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(f.directory, &faultyStore{ConversationStore: f.store, failLinkBranch: true}, logger)

	_, err := svc.CreateBranch(ctx, &CreateBranchRequest{
		SourceChatID: f.chatID,
		OriginTurnID: f.turnIDs[0],
		Name:         "doomed",
		Requester:    "alice",
	})
	if err == nil {
		t.Fatalf("expected CreateBranch to fail")
	}

	children, err := f.directory.Children(ctx, f.chatID)
	if err != nil {
		t.Fatalf("Children failed: %v", err)
	}
	if len(children) != 0 {
		t.Errorf("expected the failed branch to be deactivated, got %d children", len(children))
	}
}

// TestCreateBranch_CompensationFailureEscalates tests the double-failure
// path: the branch cannot be filled and cannot be deactivated either
func TestCreateBranch_CompensationFailureEscalates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(
		&faultyDirectory{ChatDirectory: f.directory},
		&faultyStore{ConversationStore: f.store, failCopyPrefix: true},
		logger,
	)

	_, err := svc.CreateBranch(ctx, &CreateBranchRequest{
		SourceChatID: f.chatID,
		OriginTurnID: f.turnIDs[0],
		Name:         "doomed",
		Requester:    "alice",
	})
	if !errors.Is(err, domain.ErrInternal) {
		t.Errorf("expected ErrInternal, got %v", err)
	}
}

// TestCreateBranch_Authorization tests the denial paths
func TestCreateBranch_Authorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)

	_, err := f.svc.CreateBranch(ctx, &CreateBranchRequest{
		SourceChatID: f.chatID,
		OriginTurnID: f.turnIDs[0],
		Name:         "stolen",
		Requester:    "mallory",
	})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}

	_, err = f.svc.CreateBranch(ctx, &CreateBranchRequest{
		SourceChatID: f.chatID,
		OriginTurnID: "missing-turn",
		Name:         "nowhere",
		Requester:    "alice",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for an unknown origin turn, got %v", err)
	}

	if err := f.directory.Deactivate(ctx, f.chatID); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	_, err = f.svc.CreateBranch(ctx, &CreateBranchRequest{
		SourceChatID: f.chatID,
		OriginTurnID: f.turnIDs[0],
		Name:         "late",
		Requester:    "alice",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a deactivated source, got %v", err)
	}
}
