package handler

import (
	"log/slog"
	"net/http"

	"tangent/internal/httputil"
	branchSvc "tangent/internal/service/branch"
)

// BranchHandler handles branch HTTP requests
type BranchHandler struct {
	branchService *branchSvc.Service
	logger        *slog.Logger
}

// NewBranchHandler creates a new branch handler
func NewBranchHandler(branchService *branchSvc.Service, logger *slog.Logger) *BranchHandler {
	return &BranchHandler{
		branchService: branchService,
		logger:        logger,
	}
}

// CreateBranch forks a chat at one of its turns
// POST /api/chats/{id}/branches
func (h *BranchHandler) CreateBranch(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	var req branchSvc.CreateBranchRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.SourceChatID = chatID
	req.Requester = httputil.GetAccountID(r)

	branch, err := h.branchService.CreateBranch(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, branch)
}

// ListBranches retrieves a chat's direct branches in creation order
// GET /api/chats/{id}/branches
func (h *BranchHandler) ListBranches(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	accountID := httputil.GetAccountID(r)
	branches, err := h.branchService.GetBranches(r.Context(), chatID, accountID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, branches)
}

// GetBranchTree retrieves the full branch tree rooted at a chat
// GET /api/chats/{id}/branches/tree
func (h *BranchHandler) GetBranchTree(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	accountID := httputil.GetAccountID(r)
	tree, err := h.branchService.GetBranchTree(r.Context(), chatID, accountID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, tree)
}
