package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/znz-systems/mailpilot/internal/models"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// AccountStore persists the single connected account. All mutations are
// durable before the call returns.
type AccountStore interface {
	GetAccount(ctx context.Context) (*models.Account, error)
	SaveAccount(ctx context.Context, account *models.Account) error
	// UpdateAutoReply runs fn against the current config inside a transaction
	// that holds the account row lock. Nothing is written if fn fails.
	UpdateAutoReply(ctx context.Context, id uuid.UUID, fn func(*models.AutoReplyConfig) error) (*models.Account, error)
	// ReplaceAccount atomically swaps the current account for a, deleting
	// the credentials the old account referenced except a.CredentialRef.
	ReplaceAccount(ctx context.Context, account *models.Account) error
	DeleteAccounts(ctx context.Context) error
}

type CredentialStore interface {
	GetCredential(ctx context.Context, ref string) (*models.Credential, error)
	SaveCredential(ctx context.Context, cred *models.Credential) error
	DeleteCredential(ctx context.Context, ref string) error
}
