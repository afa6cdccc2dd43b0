package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/znz-systems/mailpilot/internal/gmail"
	"github.com/znz-systems/mailpilot/internal/models"
)

type mockFlow struct {
	urlErr      error
	exchangeErr error
	code        string
}

func (m *mockFlow) AuthURL(state string) (string, error) {
	if m.urlErr != nil {
		return "", m.urlErr
	}
	return "https://accounts.example.com/auth?state=" + state, nil
}

func (m *mockFlow) Exchange(_ context.Context, code string) (*models.Account, error) {
	m.code = code
	if m.exchangeErr != nil {
		return nil, m.exchangeErr
	}
	return &models.Account{Email: "me@example.com"}, nil
}

type mockStates struct {
	valid map[string]bool
}

func (m *mockStates) Issue() (string, error) {
	m.valid["s1"] = true
	return "s1", nil
}

func (m *mockStates) Consume(state string) bool {
	ok := m.valid[state]
	delete(m.valid, state)
	return ok
}

func newOAuth(flow *mockFlow) (*OAuthHandler, *mockStates) {
	states := &mockStates{valid: map[string]bool{}}
	return NewOAuthHandler(flow, states, "https://pilot.example.com"), states
}

func TestAuthURL(t *testing.T) {
	h, states := newOAuth(&mockFlow{})

	rec := doJSON(t, h.HandleAuthURL, http.MethodGet, "/api/auth/url", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if decodeBody(t, rec)["url"] != "https://accounts.example.com/auth?state=s1" {
		t.Error("expected url carrying the issued state")
	}
	if !states.valid["s1"] {
		t.Error("expected state issued")
	}
}

func TestAuthURL_NotConfigured(t *testing.T) {
	h, _ := newOAuth(&mockFlow{urlErr: gmail.ErrNotConfigured})

	rec := doJSON(t, h.HandleAuthURL, http.MethodGet, "/api/auth/url", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func redirectQuery(t *testing.T, loc string) url.Values {
	t.Helper()
	u, err := url.Parse(loc)
	if err != nil {
		t.Fatalf("bad location %q: %v", loc, err)
	}
	if u.Host != "pilot.example.com" {
		t.Errorf("expected redirect to app, got %q", loc)
	}
	return u.Query()
}

func TestCallback_Success(t *testing.T) {
	flow := &mockFlow{}
	h, states := newOAuth(flow)
	states.valid["s1"] = true

	rec := doJSON(t, h.HandleCallback, http.MethodGet, "/api/auth/callback?state=s1&code=abc", "")
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	if q := redirectQuery(t, rec.Header().Get("Location")); q.Get("connected") != "me@example.com" {
		t.Errorf("expected connected email, got %v", q)
	}
	if flow.code != "abc" {
		t.Errorf("expected code abc exchanged, got %q", flow.code)
	}
	if states.valid["s1"] {
		t.Error("expected state consumed")
	}
}

func TestCallback_Failures(t *testing.T) {
	tests := []struct {
		name  string
		query string
		flow  *mockFlow
		want  string
	}{
		{"provider error", "error=access_denied&state=s1", &mockFlow{}, "access_denied"},
		{"bad state", "state=forged&code=abc", &mockFlow{}, "invalid_state"},
		{"exchange", "state=s1&code=abc", &mockFlow{exchangeErr: errors.New("invalid_grant")}, "exchange_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, states := newOAuth(tt.flow)
			states.valid["s1"] = true

			rec := doJSON(t, h.HandleCallback, http.MethodGet, "/api/auth/callback?"+tt.query, "")
			if rec.Code != http.StatusSeeOther {
				t.Fatalf("expected 303, got %d", rec.Code)
			}
			if q := redirectQuery(t, rec.Header().Get("Location")); q.Get("error") != tt.want {
				t.Errorf("expected error %q, got %v", tt.want, q)
			}
		})
	}
}
