package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/znz-systems/mailpilot/internal/models"
	"github.com/znz-systems/mailpilot/internal/store"
)

const accountColumns = `id, email, provider, credential_ref,
	auto_reply_enabled, auto_reply_label, max_per_day, sent_today, last_reset,
	created_at, updated_at`

type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	a := &models.Account{}
	var provider string
	err := row.Scan(
		&a.ID, &a.Email, &provider, &a.CredentialRef,
		&a.AutoReply.Enabled, &a.AutoReply.Label, &a.AutoReply.MaxPerDay, &a.AutoReply.SentToday, &a.AutoReply.LastReset,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	a.Provider = models.Provider(provider)
	return a, nil
}

func (s *AccountStore) GetAccount(ctx context.Context) (*models.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+`
		 FROM accounts ORDER BY created_at ASC LIMIT 1`))
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *AccountStore) SaveAccount(ctx context.Context, a *models.Account) error {
	return saveAccount(ctx, s.db, a)
}

func saveAccount(ctx context.Context, q queryRower, a *models.Account) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return q.QueryRowContext(ctx,
		`INSERT INTO accounts (id, email, provider, credential_ref,
			auto_reply_enabled, auto_reply_label, max_per_day, sent_today, last_reset)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			provider = EXCLUDED.provider,
			credential_ref = EXCLUDED.credential_ref,
			auto_reply_enabled = EXCLUDED.auto_reply_enabled,
			auto_reply_label = EXCLUDED.auto_reply_label,
			max_per_day = EXCLUDED.max_per_day,
			sent_today = EXCLUDED.sent_today,
			last_reset = EXCLUDED.last_reset,
			updated_at = NOW()
		 RETURNING created_at, updated_at`,
		a.ID, a.Email, string(a.Provider), a.CredentialRef,
		a.AutoReply.Enabled, a.AutoReply.Label, a.AutoReply.MaxPerDay, a.AutoReply.SentToday, a.AutoReply.LastReset,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (s *AccountStore) UpdateAutoReply(ctx context.Context, id uuid.UUID, fn func(*models.AutoReplyConfig) error) (*models.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	a, err := scanAccount(tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+`
		 FROM accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}

	if err := fn(&a.AutoReply); err != nil {
		return nil, err
	}

	err = tx.QueryRowContext(ctx,
		`UPDATE accounts SET
			auto_reply_enabled = $2,
			auto_reply_label = $3,
			max_per_day = $4,
			sent_today = $5,
			last_reset = $6,
			updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		a.ID, a.AutoReply.Enabled, a.AutoReply.Label, a.AutoReply.MaxPerDay, a.AutoReply.SentToday, a.AutoReply.LastReset,
	).Scan(&a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update auto reply: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return a, nil
}

// ReplaceAccount removes the current account and the credentials it
// referenced, then saves a. The credential named by a.CredentialRef survives.
func (s *AccountStore) ReplaceAccount(ctx context.Context, a *models.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM credentials
		 WHERE ref IN (SELECT credential_ref FROM accounts) AND ref <> $1`, a.CredentialRef); err != nil {
		return fmt.Errorf("delete previous credentials: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts`); err != nil {
		return err
	}
	a.ID = uuid.Nil
	if err := saveAccount(ctx, tx, a); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return tx.Commit()
}

func (s *AccountStore) DeleteAccounts(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts`); err != nil {
		return err
	}
	return tx.Commit()
}
