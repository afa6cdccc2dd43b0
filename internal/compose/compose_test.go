package compose

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/znz-systems/mailpilot/internal/models"
)

func TestExtractAddress(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Alice <alice@example.com>", "alice@example.com"},
		{"\"Bob, Jr.\" <bob@example.com>", "bob@example.com"},
		{"<bare@example.com>", "bare@example.com"},
		{"carol@example.com", "carol@example.com"},
		{"Dave", "Dave"},
		{"", ""},
		{"Eve <>", "Eve <>"},
	}

	for _, tt := range tests {
		if got := ExtractAddress(tt.header); got != tt.want {
			t.Errorf("ExtractAddress(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestAutoReply(t *testing.T) {
	thread := &models.Thread{
		ID:        "t1",
		MessageID: "<m1@mail.example.com>",
		Subject:   "Meeting",
		From:      "Alice <alice@example.com>",
	}
	account := &models.Account{Email: "me@example.com"}

	got := AutoReply(thread, account, "Thanks!")
	want := models.OutboundMessage{
		ThreadID:  "t1",
		InReplyTo: "<m1@mail.example.com>",
		Subject:   "Re: Meeting",
		To:        "alice@example.com",
		From:      "me@example.com",
		Body:      "Thanks!",
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestManual_SubjectVerbatim(t *testing.T) {
	account := &models.Account{Email: "me@example.com"}

	got := Manual("t1", "", "Custom subject", "Bob <bob@example.com>", account, "Hi")
	if got.Subject != "Custom subject" {
		t.Errorf("expected verbatim subject, got %q", got.Subject)
	}
	if got.To != "bob@example.com" {
		t.Errorf("expected extracted address, got %q", got.To)
	}
	if got.InReplyTo != "" {
		t.Errorf("expected no in-reply-to, got %q", got.InReplyTo)
	}
}

func parse(t *testing.T, raw []byte) (*mail.Reader, string) {
	t.Helper()
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("parsing rendered message: %v", err)
	}
	p, err := mr.NextPart()
	if err != nil {
		t.Fatalf("reading body part: %v", err)
	}
	body, err := io.ReadAll(p.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return mr, string(body)
}

func TestRender_WithThreadingHeaders(t *testing.T) {
	msg := models.OutboundMessage{
		ThreadID:  "t1",
		InReplyTo: "<m1@mail.example.com>",
		Subject:   "Re: Meeting",
		To:        "alice@example.com",
		From:      "me@example.com",
		Body:      "See you there.",
	}
	now := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)

	raw, err := Render(msg, now)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	mr, body := parse(t, raw)

	if subj, _ := mr.Header.Subject(); subj != "Re: Meeting" {
		t.Errorf("unexpected subject %q", subj)
	}
	if ids, _ := mr.Header.MsgIDList("In-Reply-To"); len(ids) != 1 || ids[0] != "m1@mail.example.com" {
		t.Errorf("unexpected In-Reply-To %v", ids)
	}
	if ids, _ := mr.Header.MsgIDList("References"); len(ids) != 1 || ids[0] != "m1@mail.example.com" {
		t.Errorf("unexpected References %v", ids)
	}
	if id, _ := mr.Header.MessageID(); !strings.HasSuffix(id, "@example.com") {
		t.Errorf("expected generated Message-ID on sender domain, got %q", id)
	}
	if d, _ := mr.Header.Date(); !d.Equal(now) {
		t.Errorf("unexpected date %v", d)
	}
	to, _ := mr.Header.AddressList("To")
	if len(to) != 1 || to[0].Address != "alice@example.com" {
		t.Errorf("unexpected To %v", to)
	}
	if strings.TrimSpace(body) != "See you there." {
		t.Errorf("unexpected body %q", body)
	}
}

func TestRender_WithoutMessageIDOmitsThreadingHeaders(t *testing.T) {
	msg := models.OutboundMessage{
		ThreadID: "t1",
		Subject:  "Re: Hi",
		To:       "alice@example.com",
		From:     "me@example.com",
		Body:     "Hello",
	}

	raw, err := Render(msg, time.Now())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	mr, _ := parse(t, raw)
	if mr.Header.Has("In-Reply-To") || mr.Header.Has("References") {
		t.Errorf("expected no threading headers, got %q", raw)
	}
}

func TestRender_InvalidRecipient(t *testing.T) {
	msg := models.OutboundMessage{To: "not an address", From: "me@example.com"}
	if _, err := Render(msg, time.Now()); err == nil {
		t.Fatal("expected error for unparseable recipient")
	}
}
