// Package compose builds outbound replies and renders them to RFC 5322.
package compose

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/znz-systems/mailpilot/internal/models"
)

var bracketed = regexp.MustCompile(`<([^>]+)>`)

// ExtractAddress returns the address inside the first <...> of a From-style
// header, or the header unchanged when there is none.
func ExtractAddress(header string) string {
	if m := bracketed.FindStringSubmatch(header); m != nil {
		return m[1]
	}
	return header
}

func ReplySubject(subject string) string {
	return "Re: " + subject
}

// AutoReply builds the automatic reply to thread sent from account.
func AutoReply(thread *models.Thread, account *models.Account, body string) models.OutboundMessage {
	return models.OutboundMessage{
		ThreadID:  thread.ID,
		InReplyTo: thread.MessageID,
		Subject:   ReplySubject(thread.Subject),
		To:        ExtractAddress(thread.From),
		From:      account.Email,
		Body:      body,
	}
}

// Manual builds a user-authored reply. The subject is used verbatim.
func Manual(threadID, messageID, subject, to string, account *models.Account, body string) models.OutboundMessage {
	return models.OutboundMessage{
		ThreadID:  threadID,
		InReplyTo: messageID,
		Subject:   subject,
		To:        ExtractAddress(to),
		From:      account.Email,
		Body:      body,
	}
}

// Render encodes msg as a single-part text/plain message. In-Reply-To and
// References are only set when the message answers a known Message-ID.
func Render(msg models.OutboundMessage, now time.Time) ([]byte, error) {
	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return nil, fmt.Errorf("parse from address %q: %w", msg.From, err)
	}
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return nil, fmt.Errorf("parse to address %q: %w", msg.To, err)
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(msg.Subject)
	h.SetMessageID(uuid.NewString() + "@" + domainOf(from.Address))
	if id := strings.Trim(strings.TrimSpace(msg.InReplyTo), "<>"); id != "" {
		h.SetMsgIDList("In-Reply-To", []string{id})
		h.SetMsgIDList("References", []string{id})
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return nil, fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "mailpilot.local"
}
