// Package reply serves the manual flow: list threads, draft a reply for the
// owner to edit, and send the owner's final text. It never touches the
// auto-reply quota.
package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/znz-systems/mailpilot/internal/ai"
	"github.com/znz-systems/mailpilot/internal/automation"
	"github.com/znz-systems/mailpilot/internal/compose"
	"github.com/znz-systems/mailpilot/internal/mail"
	"github.com/znz-systems/mailpilot/internal/models"
)

const DefaultListLimit = 15

type SendRequest struct {
	ThreadID string `json:"threadId"`
	Subject  string `json:"subject"`
	To       string `json:"to"`
	Body     string `json:"body"`
}

type Service struct {
	accounts  automation.AccountLoader
	mail      mail.Client
	generator ai.Generator
}

func NewService(accounts automation.AccountLoader, client mail.Client, gen ai.Generator) *Service {
	return &Service{
		accounts:  accounts,
		mail:      client,
		generator: gen,
	}
}

func (s *Service) ListThreads(ctx context.Context, limit int) ([]models.Thread, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if _, err := s.accounts.Require(ctx); err != nil {
		return nil, err
	}
	threads, err := s.mail.ListRecentThreads(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	if threads == nil {
		threads = []models.Thread{}
	}
	return threads, nil
}

// Draft proposes a reply for threadID. hint is free-form guidance from the
// owner and may be empty.
func (s *Service) Draft(ctx context.Context, threadID, hint string) (*models.DraftProposal, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, fmt.Errorf("%w: threadId is required", automation.ErrInvalidInput)
	}
	if _, err := s.accounts.Require(ctx); err != nil {
		return nil, err
	}

	thread, err := s.mail.GetThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, mail.ErrThreadNotFound) {
			return nil, fmt.Errorf("%w: %s", automation.ErrThreadNotFound, threadID)
		}
		return nil, fmt.Errorf("fetch thread %s: %w", threadID, err)
	}

	body, err := s.generator.GenerateReply(ctx, thread, hint)
	if err != nil {
		slog.WarnContext(ctx, "draft generation failed", "thread_id", threadID, "error", err)
		return nil, fmt.Errorf("%w: %w", automation.ErrGenerationFailed, err)
	}

	return &models.DraftProposal{
		ThreadID: thread.ID,
		Subject:  compose.ReplySubject(thread.Subject),
		Body:     body,
	}, nil
}

// Send dispatches the owner's reply. A thread that can no longer be found is
// answered without threading headers.
func (s *Service) Send(ctx context.Context, req SendRequest) error {
	if err := validate(req); err != nil {
		return err
	}

	acct, err := s.accounts.Require(ctx)
	if err != nil {
		return err
	}

	var messageID string
	thread, err := s.mail.GetThread(ctx, req.ThreadID)
	switch {
	case err == nil:
		messageID = thread.MessageID
	case errors.Is(err, mail.ErrThreadNotFound):
		slog.InfoContext(ctx, "sending without thread reference", "thread_id", req.ThreadID)
	default:
		return fmt.Errorf("fetch thread %s: %w", req.ThreadID, err)
	}

	msg := compose.Manual(req.ThreadID, messageID, req.Subject, req.To, acct, req.Body)
	if err := s.mail.SendMessage(ctx, acct, req.ThreadID, msg); err != nil {
		slog.ErrorContext(ctx, "manual send failed", "thread_id", req.ThreadID, "error", err)
		return fmt.Errorf("%w: %w", automation.ErrDispatchFailed, err)
	}

	slog.InfoContext(ctx, "manual reply sent", "thread_id", req.ThreadID, "to", msg.To)
	return nil
}

func validate(req SendRequest) error {
	var missing []string
	if strings.TrimSpace(req.ThreadID) == "" {
		missing = append(missing, "threadId")
	}
	if strings.TrimSpace(req.Subject) == "" {
		missing = append(missing, "subject")
	}
	if strings.TrimSpace(req.To) == "" {
		missing = append(missing, "to")
	}
	if strings.TrimSpace(req.Body) == "" {
		missing = append(missing, "body")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", automation.ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}
