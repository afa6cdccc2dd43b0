package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/znz-systems/mailpilot/internal/models"
)

type AccountService interface {
	Get(ctx context.Context) (*models.Account, error)
	ApplyConfigPatch(ctx context.Context, patch models.AutoReplyPatch) (*models.Account, error)
	Clear(ctx context.Context) error
}

type AccountHandler struct {
	accounts AccountService
}

func NewAccountHandler(accounts AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

type accountView struct {
	ID        uuid.UUID              `json:"id"`
	Email     string                 `json:"email"`
	Provider  models.Provider        `json:"provider"`
	AutoReply models.AutoReplyConfig `json:"autoReply"`
}

type accountResponse struct {
	Account *accountView `json:"account"`
}

// HandleGet returns the connected account, or {"account": null}.
func (h *AccountHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	acct, err := h.accounts.Get(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := accountResponse{}
	if acct != nil {
		resp.Account = &accountView{
			ID:        acct.ID,
			Email:     acct.Email,
			Provider:  acct.Provider,
			AutoReply: acct.AutoReply,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandlePatch merges the supplied auto-reply settings.
func (h *AccountHandler) HandlePatch(w http.ResponseWriter, r *http.Request) {
	var patch models.AutoReplyPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.accounts.ApplyConfigPatch(r.Context(), patch); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

func (h *AccountHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Clear(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}
