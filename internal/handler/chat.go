package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"tangent/internal/httputil"
	chatSvc "tangent/internal/service/chat"
)

// ChatHandler handles chat HTTP requests
// Follows Clean Architecture: handlers only communicate with services, never repositories
type ChatHandler struct {
	chatService *chatSvc.Service
	logger      *slog.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *chatSvc.Service, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		logger:      logger,
	}
}

// CreateChat creates a new chat with an empty conversation
// POST /api/chats
func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	accountID := httputil.GetAccountID(r)

	var req chatSvc.CreateChatRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.OwnerID = accountID

	chat, err := h.chatService.CreateChat(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, chat)
}

// ListChats retrieves the caller's active chats, most recently updated first
// GET /api/chats
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	accountID := httputil.GetAccountID(r)

	chats, err := h.chatService.ListChats(r.Context(), accountID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, chats)
}

// GetChat retrieves a single chat by ID
// GET /api/chats/{id}
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	accountID := httputil.GetAccountID(r)
	chat, err := h.chatService.GetChat(r.Context(), chatID, accountID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, chat)
}

// RenameChat updates a chat's name
// PATCH /api/chats/{id}
func (h *ChatHandler) RenameChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	accountID := httputil.GetAccountID(r)
	chat, err := h.chatService.RenameChat(r.Context(), chatID, accountID, req.Name)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, chat)
}

// DeleteChat deactivates a chat. The conversation content is retained.
// DELETE /api/chats/{id}
func (h *ChatHandler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	accountID := httputil.GetAccountID(r)
	if err := h.chatService.DeleteChat(r.Context(), chatID, accountID); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListTurns retrieves a chat's full turn sequence in order
// GET /api/chats/{id}/turns
func (h *ChatHandler) ListTurns(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	accountID := httputil.GetAccountID(r)
	turns, err := h.chatService.ListTurns(r.Context(), chatID, accountID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, turns)
}

// Ask appends a question to the chat and completes it
// POST /api/chats/{id}/turns
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	accountID := httputil.GetAccountID(r)
	turn, err := h.chatService.Ask(r.Context(), chatID, accountID, req.Content)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, turn)
}

// CompleteTurn retries the answer for a turn that was left pending
// POST /api/chats/{id}/turns/{turnId}/complete
func (h *ChatHandler) CompleteTurn(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}
	turnID, ok := PathParam(w, r, "turnId", "Turn ID")
	if !ok {
		return
	}

	accountID := httputil.GetAccountID(r)
	turn, err := h.chatService.CompleteTurn(r.Context(), chatID, accountID, turnID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, turn)
}

// SearchTurns finds turns whose question or answer contains the query
// GET /api/chats/{id}/turns/search?q=...
func (h *ChatHandler) SearchTurns(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		httputil.RespondError(w, http.StatusBadRequest, "q query parameter is required")
		return
	}

	accountID := httputil.GetAccountID(r)
	turns, err := h.chatService.Search(r.Context(), chatID, accountID, query)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, turns)
}
