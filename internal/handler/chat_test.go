package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"tangent/internal/completion"
	"tangent/internal/domain/models"
	"tangent/internal/httputil"
	"tangent/internal/realtime"
	"tangent/internal/repository/memory"
	branchSvc "tangent/internal/service/branch"
	chatSvc "tangent/internal/service/chat"
)

// newTestMux wires handlers over in-memory stores, mirroring the production
// route table.
func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	directory := memory.NewChatDirectory()
	store := memory.NewConversationStore()
	hub := realtime.NewHub(logger)

	chatService := chatSvc.NewService(directory, store, completion.NewEchoProvider(), hub, nil, logger)
	branchService := branchSvc.NewService(directory, store, logger)

	chatHandler := NewChatHandler(chatService, logger)
	branchHandler := NewBranchHandler(branchService, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chats", chatHandler.CreateChat)
	mux.HandleFunc("GET /api/chats", chatHandler.ListChats)
	mux.HandleFunc("GET /api/chats/{id}", chatHandler.GetChat)
	mux.HandleFunc("PATCH /api/chats/{id}", chatHandler.RenameChat)
	mux.HandleFunc("DELETE /api/chats/{id}", chatHandler.DeleteChat)
	mux.HandleFunc("GET /api/chats/{id}/turns", chatHandler.ListTurns)
	mux.HandleFunc("POST /api/chats/{id}/turns", chatHandler.Ask)
	mux.HandleFunc("GET /api/chats/{id}/turns/search", chatHandler.SearchTurns)
	mux.HandleFunc("POST /api/chats/{id}/branches", branchHandler.CreateBranch)
	mux.HandleFunc("GET /api/chats/{id}/branches", branchHandler.ListBranches)
	return mux
}

// do issues a request as the given account, the way the auth middleware would
func do(t *testing.T, mux *http.ServeMux, account, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequestWithContext(context.Background(), method, path, &buf)
	req = httputil.WithAccountID(req, account)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return out
}

// TestChatLifecycle tests create, ask, list turns, rename, and delete over
// the HTTP surface
func TestChatLifecycle(t *testing.T) {
	mux := newTestMux(t)

	rec := do(t, mux, "alice", http.MethodPost, "/api/chats",
		map[string]string{"name": "my chat", "chat_type": "direct"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	chat := decode[models.Chat](t, rec)

	rec = do(t, mux, "alice", http.MethodPost, "/api/chats/"+chat.ID+"/turns",
		map[string]string{"content": "hello there"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	turn := decode[models.Turn](t, rec)
	if turn.Question != "hello there" || turn.Answer == "" {
		t.Errorf("expected a completed turn, got %+v", turn)
	}

	rec = do(t, mux, "alice", http.MethodGet, "/api/chats/"+chat.ID+"/turns", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	turns := decode[[]models.Turn](t, rec)
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}

	rec = do(t, mux, "alice", http.MethodPatch, "/api/chats/"+chat.ID,
		map[string]string{"name": "renamed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = do(t, mux, "alice", http.MethodDelete, "/api/chats/"+chat.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	// The chat is gone from the caller's perspective afterwards.
	rec = do(t, mux, "alice", http.MethodGet, "/api/chats/"+chat.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

// TestErrorMapping tests that domain denials surface as the right statuses
// in problem+json shape
func TestErrorMapping(t *testing.T) {
	mux := newTestMux(t)

	rec := do(t, mux, "alice", http.MethodPost, "/api/chats",
		map[string]string{"name": "alice's", "chat_type": "direct"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	chat := decode[models.Chat](t, rec)

	rec = do(t, mux, "mallory", http.MethodGet, "/api/chats/"+chat.ID, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a non-owner, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected problem+json, got %q", ct)
	}

	rec = do(t, mux, "alice", http.MethodGet, "/api/chats/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown chat, got %d", rec.Code)
	}

	rec = do(t, mux, "alice", http.MethodPost, "/api/chats",
		map[string]string{"name": "bad", "chat_type": "branch"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a branch kind, got %d", rec.Code)
	}

	rec = do(t, mux, "alice", http.MethodGet, "/api/chats/"+chat.ID+"/turns/search", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a missing query, got %d", rec.Code)
	}
}

// TestBranchEndpoints tests branching over the HTTP surface
func TestBranchEndpoints(t *testing.T) {
	mux := newTestMux(t)

	rec := do(t, mux, "alice", http.MethodPost, "/api/chats",
		map[string]string{"name": "root", "chat_type": "direct"})
	chat := decode[models.Chat](t, rec)

	rec = do(t, mux, "alice", http.MethodPost, "/api/chats/"+chat.ID+"/turns",
		map[string]string{"content": "fork here"})
	turn := decode[models.Turn](t, rec)

	rec = do(t, mux, "alice", http.MethodPost, "/api/chats/"+chat.ID+"/branches",
		map[string]string{"origin_turn_id": turn.ID, "name": "side quest"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	branch := decode[models.Chat](t, rec)
	if branch.Kind != models.ChatKindBranch {
		t.Errorf("expected a branch chat, got %q", branch.Kind)
	}

	rec = do(t, mux, "alice", http.MethodGet, "/api/chats/"+chat.ID+"/branches", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	branches := decode[[]models.Chat](t, rec)
	if len(branches) != 1 || branches[0].ID != branch.ID {
		t.Errorf("expected the created branch to be listed")
	}
}
