package models

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout is the calendar-date format used for AutoReplyConfig.LastReset.
const DateLayout = "2006-01-02"

type Provider string

const (
	ProviderGmail Provider = "gmail"
	ProviderIMAP  Provider = "imap"
)

type Account struct {
	ID            uuid.UUID
	Email         string
	Provider      Provider
	CredentialRef string
	AutoReply     AutoReplyConfig
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AutoReplyConfig holds the automation switch and the daily quota counters.
// SentToday is only meaningful for the date in LastReset.
type AutoReplyConfig struct {
	Enabled   bool   `json:"enabled"`
	Label     string `json:"label"`
	MaxPerDay int    `json:"maxPerDay"`
	SentToday int    `json:"sentToday"`
	LastReset string `json:"lastReset"`
}

// AutoReplyPatch carries a partial update. Nil fields keep their prior value.
type AutoReplyPatch struct {
	Enabled   *bool   `json:"enabled"`
	Label     *string `json:"label"`
	MaxPerDay *int    `json:"maxPerDay"`
}

// Apply merges the patch into c. A lowered MaxPerDay clamps SentToday so the
// counter never exceeds the cap.
func (p AutoReplyPatch) Apply(c *AutoReplyConfig) {
	if p.Enabled != nil {
		c.Enabled = *p.Enabled
	}
	if p.Label != nil {
		c.Label = *p.Label
	}
	if p.MaxPerDay != nil {
		c.MaxPerDay = *p.MaxPerDay
		if c.SentToday > c.MaxPerDay {
			c.SentToday = c.MaxPerDay
		}
	}
}

func (p AutoReplyPatch) IsEmpty() bool {
	return p.Enabled == nil && p.Label == nil && p.MaxPerDay == nil
}

// Thread is a provider-side conversation. It is never persisted.
type Thread struct {
	ID        string            `json:"id"`
	MessageID string            `json:"messageId,omitempty"`
	Subject   string            `json:"subject"`
	From      string            `json:"from"`
	Snippet   string            `json:"snippet"`
	BodyPlain string            `json:"bodyPlain,omitempty"`
	Date      time.Time         `json:"date"`
	Labels    []string          `json:"labels,omitempty"`
	Headers   map[string]string `json:"-"`
}

// Text returns the best available plain-text content of the thread.
func (t *Thread) Text() string {
	if t.BodyPlain != "" {
		return t.BodyPlain
	}
	return t.Snippet
}

func (t *Thread) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// OutboundMessage is the final, immutable message handed to a mail client.
type OutboundMessage struct {
	ThreadID  string
	InReplyTo string
	Subject   string
	To        string
	From      string
	Body      string
}

type DraftProposal struct {
	ThreadID string `json:"threadId"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

// Credential is an OAuth token set owned by the auth collaborator. The core
// only ever refers to it through Account.CredentialRef.
type Credential struct {
	Ref          string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	Expiry       time.Time
	UpdatedAt    time.Time
}
