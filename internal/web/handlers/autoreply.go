package handlers

import (
	"context"
	"net/http"

	"github.com/znz-systems/mailpilot/internal/automation"
)

type AutoReplyRunner interface {
	Run(ctx context.Context, threadID string) (*automation.Result, error)
}

type AutoReplyHandler struct {
	runner AutoReplyRunner
}

func NewAutoReplyHandler(runner AutoReplyRunner) *AutoReplyHandler {
	return &AutoReplyHandler{runner: runner}
}

type autoReplyResponse struct {
	OK bool `json:"ok"`
	*automation.Result
}

// HandleAutoReply runs one automatic reply for the posted thread.
func (h *AutoReplyHandler) HandleAutoReply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ThreadID string `json:"threadId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.runner.Run(r.Context(), req.ThreadID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, autoReplyResponse{OK: true, Result: res})
}
