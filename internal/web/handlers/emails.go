package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/znz-systems/mailpilot/internal/automation"
	"github.com/znz-systems/mailpilot/internal/models"
	"github.com/znz-systems/mailpilot/internal/reply"
)

const maxListLimit = 50

type ReplyService interface {
	ListThreads(ctx context.Context, limit int) ([]models.Thread, error)
	Draft(ctx context.Context, threadID, hint string) (*models.DraftProposal, error)
	Send(ctx context.Context, req reply.SendRequest) error
}

// EmailHandler serves the manual inbox flow.
type EmailHandler struct {
	replies ReplyService
}

func NewEmailHandler(replies ReplyService) *EmailHandler {
	return &EmailHandler{replies: replies}
}

// HandleList returns recent threads. ?limit= caps the count.
func (h *EmailHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			writeError(w, r, fmt.Errorf("%w: limit must be between 1 and %d", automation.ErrInvalidInput, maxListLimit))
			return
		}
		limit = n
	}

	threads, err := h.replies.ListThreads(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"threads": threads})
}

type draftRequest struct {
	ThreadID string `json:"threadId"`
	Context  string `json:"context"`
}

func (h *EmailHandler) HandleDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	draft, err := h.replies.Draft(r.Context(), req.ThreadID, req.Context)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"draft": draft})
}

func (h *EmailHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req reply.SendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.replies.Send(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}
