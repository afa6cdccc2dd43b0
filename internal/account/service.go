package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/znz-systems/mailpilot/internal/models"
	"github.com/znz-systems/mailpilot/internal/store"
)

var (
	ErrNotConnected = errors.New("no account connected")
	ErrInvalidInput = errors.New("invalid input")
)

const DefaultLabel = "MailPilot/Auto-replied"

// Service owns the single connected account and its auto-reply settings.
type Service struct {
	accounts         store.AccountStore
	defaultMaxPerDay int
	now              func() time.Time
	loc              *time.Location
}

func NewService(accounts store.AccountStore, defaultMaxPerDay int, loc *time.Location) *Service {
	if defaultMaxPerDay <= 0 {
		defaultMaxPerDay = 5
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		accounts:         accounts,
		defaultMaxPerDay: defaultMaxPerDay,
		now:              time.Now,
		loc:              loc,
	}
}

// Get returns the connected account, or nil when nothing is connected.
func (s *Service) Get(ctx context.Context) (*models.Account, error) {
	a, err := s.accounts.GetAccount(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// Require is Get but treats a missing account as ErrNotConnected.
func (s *Service) Require(ctx context.Context) (*models.Account, error) {
	a, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotConnected
	}
	return a, nil
}

// ApplyConfigPatch merges the provided fields into the auto-reply config.
func (s *Service) ApplyConfigPatch(ctx context.Context, patch models.AutoReplyPatch) (*models.Account, error) {
	if err := ValidatePatch(patch); err != nil {
		return nil, err
	}

	a, err := s.Require(ctx)
	if err != nil {
		return nil, err
	}

	updated, err := s.accounts.UpdateAutoReply(ctx, a.ID, func(c *models.AutoReplyConfig) error {
		patch.Apply(c)
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotConnected
		}
		return nil, fmt.Errorf("update auto reply: %w", err)
	}

	slog.InfoContext(ctx, "auto-reply config updated",
		"account_id", updated.ID,
		"enabled", updated.AutoReply.Enabled,
		"max_per_day", updated.AutoReply.MaxPerDay,
	)
	return updated, nil
}

// Clear disconnects the account. Clearing an empty store is not an error.
func (s *Service) Clear(ctx context.Context) error {
	if err := s.accounts.DeleteAccounts(ctx); err != nil {
		return fmt.Errorf("clear account state: %w", err)
	}
	return nil
}

// Connect links the mailbox identified by email. Reconnecting the same
// address keeps its auto-reply settings; a different address replaces the
// previous account and its credentials, keeping the one at credentialRef.
func (s *Service) Connect(ctx context.Context, email string, provider models.Provider, credentialRef string) (*models.Account, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}

	existing, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	if existing != nil && strings.EqualFold(existing.Email, email) {
		existing.Email = email
		existing.Provider = provider
		existing.CredentialRef = credentialRef
		if err := s.accounts.SaveAccount(ctx, existing); err != nil {
			return nil, fmt.Errorf("save account: %w", err)
		}
		slog.InfoContext(ctx, "account reconnected", "account_id", existing.ID, "email", existing.Email, "provider", existing.Provider)
		return existing, nil
	}

	a := &models.Account{
		Email:         email,
		Provider:      provider,
		CredentialRef: credentialRef,
		AutoReply: models.AutoReplyConfig{
			Enabled:   false,
			Label:     DefaultLabel,
			MaxPerDay: s.defaultMaxPerDay,
			LastReset: s.now().In(s.loc).Format(models.DateLayout),
		},
	}
	save := s.accounts.SaveAccount
	if existing != nil {
		save = s.accounts.ReplaceAccount
	}
	if err := save(ctx, a); err != nil {
		return nil, fmt.Errorf("save account: %w", err)
	}

	slog.InfoContext(ctx, "account connected", "account_id", a.ID, "email", a.Email, "provider", a.Provider)
	return a, nil
}

func ValidatePatch(p models.AutoReplyPatch) error {
	if p.Label != nil && strings.TrimSpace(*p.Label) == "" {
		return fmt.Errorf("%w: label must not be empty", ErrInvalidInput)
	}
	if p.MaxPerDay != nil && *p.MaxPerDay <= 0 {
		return fmt.Errorf("%w: maxPerDay must be positive", ErrInvalidInput)
	}
	return nil
}
