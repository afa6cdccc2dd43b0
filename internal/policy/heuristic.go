package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/znz-systems/mailpilot/internal/compose"
	"github.com/znz-systems/mailpilot/internal/models"
)

// Rules tune the heuristic policy. Matching is case-insensitive.
type Rules struct {
	// NoReplyPatterns are substrings of the local part that mark an
	// unattended sender.
	NoReplyPatterns []string `yaml:"noreply_patterns"`
	// BlockedSenders are exact addresses or "@domain" suffixes.
	BlockedSenders []string `yaml:"blocked_senders"`
	// AllowedDomains, when non-empty, restricts replies to these domains.
	AllowedDomains      []string `yaml:"allowed_domains"`
	SkipSubjectKeywords []string `yaml:"skip_subject_keywords"`
}

func DefaultRules() Rules {
	return Rules{
		NoReplyPatterns: []string{"noreply", "no-reply", "donotreply", "do-not-reply", "mailer-daemon", "postmaster", "bounce", "notifications"},
		SkipSubjectKeywords: []string{
			"unsubscribe", "newsletter", "out of office", "automatic reply", "undeliverable", "delivery status notification",
		},
	}
}

// LoadRules reads a YAML rules file. Lists present in the file replace the
// defaults; absent lists keep them.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if strings.TrimSpace(path) == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("read policy rules %s: %w", path, err)
	}

	var file struct {
		NoReplyPatterns     *[]string `yaml:"noreply_patterns"`
		BlockedSenders      *[]string `yaml:"blocked_senders"`
		AllowedDomains      *[]string `yaml:"allowed_domains"`
		SkipSubjectKeywords *[]string `yaml:"skip_subject_keywords"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return rules, fmt.Errorf("parse policy rules %s: %w", path, err)
	}
	if file.NoReplyPatterns != nil {
		rules.NoReplyPatterns = *file.NoReplyPatterns
	}
	if file.BlockedSenders != nil {
		rules.BlockedSenders = *file.BlockedSenders
	}
	if file.AllowedDomains != nil {
		rules.AllowedDomains = *file.AllowedDomains
	}
	if file.SkipSubjectKeywords != nil {
		rules.SkipSubjectKeywords = *file.SkipSubjectKeywords
	}
	return rules.normalized(), nil
}

func (r Rules) normalized() Rules {
	lower := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return Rules{
		NoReplyPatterns:     lower(r.NoReplyPatterns),
		BlockedSenders:      lower(r.BlockedSenders),
		AllowedDomains:      lower(r.AllowedDomains),
		SkipSubjectKeywords: lower(r.SkipSubjectKeywords),
	}
}

// AccountSource yields the connected account so the heuristic can recognise
// the owner's own mail and the auto-reply label.
type AccountSource interface {
	Get(ctx context.Context) (*models.Account, error)
}

// Heuristic approves ordinary person-to-person mail and rejects bulk,
// automated and already-handled threads.
type Heuristic struct {
	rules    Rules
	accounts AccountSource
}

func NewHeuristic(rules Rules, accounts AccountSource) *Heuristic {
	return &Heuristic{rules: rules.normalized(), accounts: accounts}
}

func (h *Heuristic) Approve(ctx context.Context, thread *models.Thread) (bool, error) {
	var account *models.Account
	if h.accounts != nil {
		a, err := h.accounts.Get(ctx)
		if err != nil {
			return false, fmt.Errorf("load account for policy: %w", err)
		}
		account = a
	}

	if reason := h.rejectReason(thread, account); reason != "" {
		slog.InfoContext(ctx, "policy rejected thread", "thread_id", thread.ID, "rule", reason)
		return false, nil
	}
	return true, nil
}

func (h *Heuristic) rejectReason(thread *models.Thread, account *models.Account) string {
	sender := strings.ToLower(strings.TrimSpace(compose.ExtractAddress(thread.From)))
	local, domain, _ := strings.Cut(sender, "@")

	if strings.TrimSpace(thread.BodyPlain) == "" && strings.TrimSpace(thread.Snippet) == "" {
		return "empty_body"
	}
	if !strings.Contains(sender, "@") {
		return "unparseable_sender"
	}
	for _, p := range h.rules.NoReplyPatterns {
		if strings.Contains(local, p) {
			return "noreply_sender"
		}
	}
	for _, b := range h.rules.BlockedSenders {
		if sender == b || (strings.HasPrefix(b, "@") && strings.HasSuffix(sender, b)) {
			return "blocked_sender"
		}
	}
	if len(h.rules.AllowedDomains) > 0 && !contains(h.rules.AllowedDomains, domain) {
		return "domain_not_allowed"
	}

	if v := header(thread, "Auto-Submitted"); v != "" && !strings.EqualFold(v, "no") {
		return "auto_submitted"
	}
	if header(thread, "List-Id") != "" || header(thread, "List-Unsubscribe") != "" {
		return "mailing_list"
	}
	switch strings.ToLower(header(thread, "Precedence")) {
	case "bulk", "list", "junk":
		return "bulk_precedence"
	}

	subject := strings.ToLower(thread.Subject)
	for _, kw := range h.rules.SkipSubjectKeywords {
		if strings.Contains(subject, kw) {
			return "subject_keyword"
		}
	}

	if account != nil {
		if strings.EqualFold(sender, account.Email) {
			return "self_sent"
		}
		if account.AutoReply.Label != "" && thread.HasLabel(account.AutoReply.Label) {
			return "already_replied"
		}
	}
	return ""
}

func header(thread *models.Thread, key string) string {
	for k, v := range thread.Headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
