package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/znz-systems/mailpilot/internal/gmail"
	"github.com/znz-systems/mailpilot/internal/models"
)

type OAuthFlow interface {
	AuthURL(state string) (string, error)
	Exchange(ctx context.Context, code string) (*models.Account, error)
}

type StateIssuer interface {
	Issue() (string, error)
	Consume(state string) bool
}

// OAuthHandler runs the browser side of the Gmail connect flow.
type OAuthHandler struct {
	flow    OAuthFlow
	states  StateIssuer
	baseURL string
}

func NewOAuthHandler(flow OAuthFlow, states StateIssuer, baseURL string) *OAuthHandler {
	return &OAuthHandler{flow: flow, states: states, baseURL: baseURL}
}

func (h *OAuthHandler) HandleAuthURL(w http.ResponseWriter, r *http.Request) {
	state, err := h.states.Issue()
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.flow.AuthURL(state)
	if err != nil {
		if errors.Is(err, gmail.ErrNotConfigured) {
			writeJSON(w, http.StatusServiceUnavailable, jsonResponse{Error: err.Error(), Reason: "oauth_not_configured"})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

// HandleCallback exchanges the authorization code and sends the browser back
// to the app with the outcome in the query string.
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		h.redirect(w, r, url.Values{"error": {e}})
		return
	}
	if !h.states.Consume(q.Get("state")) {
		h.redirect(w, r, url.Values{"error": {"invalid_state"}})
		return
	}

	acct, err := h.flow.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		slog.ErrorContext(r.Context(), "oauth exchange failed", "error", err)
		h.redirect(w, r, url.Values{"error": {"exchange_failed"}})
		return
	}
	h.redirect(w, r, url.Values{"connected": {acct.Email}})
}

func (h *OAuthHandler) redirect(w http.ResponseWriter, r *http.Request, q url.Values) {
	http.Redirect(w, r, h.baseURL+"/?"+q.Encode(), http.StatusSeeOther)
}
