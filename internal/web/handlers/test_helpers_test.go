package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/znz-systems/mailpilot/internal/automation"
	"github.com/znz-systems/mailpilot/internal/models"
	"github.com/znz-systems/mailpilot/internal/reply"
)

// --- Shared mocks ---

type mockAccountService struct {
	account *models.Account
	patched *models.AutoReplyPatch
	cleared bool
	err     error
}

func (m *mockAccountService) Get(_ context.Context) (*models.Account, error) {
	return m.account, m.err
}

func (m *mockAccountService) ApplyConfigPatch(_ context.Context, patch models.AutoReplyPatch) (*models.Account, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.patched = &patch
	return m.account, nil
}

func (m *mockAccountService) Clear(_ context.Context) error {
	m.cleared = true
	return m.err
}

type mockReplyService struct {
	threads   []models.Thread
	limit     int
	draftHint string
	sent      *reply.SendRequest
	err       error
}

func (m *mockReplyService) ListThreads(_ context.Context, limit int) ([]models.Thread, error) {
	m.limit = limit
	return m.threads, m.err
}

func (m *mockReplyService) Draft(_ context.Context, threadID, hint string) (*models.DraftProposal, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.draftHint = hint
	return &models.DraftProposal{ThreadID: threadID, Subject: "Re: Hi", Body: "Hello back"}, nil
}

func (m *mockReplyService) Send(_ context.Context, req reply.SendRequest) error {
	if m.err != nil {
		return m.err
	}
	m.sent = &req
	return nil
}

type mockRunner struct {
	threadID string
	result   *automation.Result
	err      error
}

func (m *mockRunner) Run(_ context.Context, threadID string) (*automation.Result, error) {
	m.threadID = threadID
	return m.result, m.err
}

// --- Helpers ---

func doJSON(t *testing.T, h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}
