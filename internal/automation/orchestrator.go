// Package automation runs the automatic reply pipeline for a single thread:
// load account, check quota, fetch, approve, generate, compose, dispatch and
// record the send.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/znz-systems/mailpilot/internal/ai"
	"github.com/znz-systems/mailpilot/internal/compose"
	"github.com/znz-systems/mailpilot/internal/mail"
	"github.com/znz-systems/mailpilot/internal/models"
	"github.com/znz-systems/mailpilot/internal/policy"
	"github.com/znz-systems/mailpilot/internal/quota"
)

// AccountLoader returns the connected account or account.ErrNotConnected.
type AccountLoader interface {
	Require(ctx context.Context) (*models.Account, error)
}

type Result struct {
	ThreadID      string `json:"threadId"`
	Subject       string `json:"subject"`
	To            string `json:"to"`
	Body          string `json:"body"`
	SentToday     int    `json:"sentToday"`
	MaxPerDay     int    `json:"maxPerDay"`
	QuotaRecorded bool   `json:"quotaRecorded"`
}

type Orchestrator struct {
	accounts  AccountLoader
	quota     *quota.Manager
	mail      mail.Client
	policy    policy.Policy
	generator ai.Generator
}

func NewOrchestrator(accounts AccountLoader, q *quota.Manager, client mail.Client, p policy.Policy, gen ai.Generator) *Orchestrator {
	return &Orchestrator{
		accounts:  accounts,
		quota:     q,
		mail:      client,
		policy:    p,
		generator: gen,
	}
}

// Run attempts one automatic reply. Every failure ends the run at the step
// that failed and releases the quota slot; the slot is only charged once the
// message has been handed to the mail provider.
func (o *Orchestrator) Run(ctx context.Context, threadID string) (*Result, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, fmt.Errorf("%w: threadId is required", ErrInvalidInput)
	}
	log := slog.With("thread_id", threadID)

	acct, err := o.accounts.Require(ctx)
	if err != nil {
		return nil, err
	}

	reservation, err := o.quota.CheckAndConsume(ctx, acct)
	if err != nil {
		log.InfoContext(ctx, "auto-reply not permitted", "reason", Reason(err))
		return nil, err
	}
	defer reservation.Release()

	thread, err := o.mail.GetThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, mail.ErrThreadNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
		}
		return nil, fmt.Errorf("fetch thread %s: %w", threadID, err)
	}

	if label := reservation.Config().Label; label != "" && thread.HasLabel(label) {
		log.InfoContext(ctx, "thread already auto-replied", "label", label)
		return nil, fmt.Errorf("%w: already labelled %q", ErrPolicyRejected, label)
	}

	approved, err := o.policy.Approve(ctx, thread)
	if err != nil {
		log.WarnContext(ctx, "approval policy failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrPolicyUnavailable, err)
	}
	if !approved {
		return nil, ErrPolicyRejected
	}

	body, err := o.generator.GenerateReply(ctx, thread, "")
	if err != nil {
		log.WarnContext(ctx, "reply generation failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%w: empty body", ErrGenerationFailed)
	}

	msg := compose.AutoReply(thread, acct, body)

	if err := o.mail.SendMessage(ctx, acct, thread.ID, msg); err != nil {
		log.ErrorContext(ctx, "auto-reply dispatch failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}

	// The message is out; cancellation must not undo the bookkeeping.
	ctx = context.WithoutCancel(ctx)

	result := &Result{
		ThreadID: thread.ID,
		Subject:  msg.Subject,
		To:       msg.To,
		Body:     body,
	}
	if err := reservation.Commit(ctx); err != nil {
		log.ErrorContext(ctx, "auto-reply sent but not counted", "error", err)
	} else {
		result.QuotaRecorded = true
	}
	cfg := reservation.Config()
	result.SentToday = cfg.SentToday
	result.MaxPerDay = cfg.MaxPerDay

	if labeler, ok := o.mail.(mail.ThreadLabeler); ok && acct.AutoReply.Label != "" {
		if err := labeler.LabelThread(ctx, thread.ID, acct.AutoReply.Label); err != nil {
			log.WarnContext(ctx, "labelling replied thread failed", "label", acct.AutoReply.Label, "error", err)
		}
	}

	log.InfoContext(ctx, "auto-reply sent",
		"to", msg.To,
		"sent_today", result.SentToday,
		"max_per_day", result.MaxPerDay,
		"quota_recorded", result.QuotaRecorded,
	)
	return result, nil
}
