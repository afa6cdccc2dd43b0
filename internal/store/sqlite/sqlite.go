// Package sqlite implements the account and credential stores on a local
// SQLite file, for single-machine deployments that do not run postgres.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/znz-systems/mailpilot/internal/models"
	"github.com/znz-systems/mailpilot/internal/store"
)

// Store holds a single connection: every transaction is exclusive, which is
// what UpdateAutoReply relies on for its row lock.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at path. An empty path or ":memory:"
// gives a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	inMemory := path == "" || path == ":memory:" || strings.Contains(path, "mode=memory")
	if path == "" {
		path = ":memory:"
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for migrations.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

func (s *Store) Close() error {
	return s.db.Close()
}

type accountRow struct {
	ID               string `db:"id"`
	Email            string `db:"email"`
	Provider         string `db:"provider"`
	CredentialRef    string `db:"credential_ref"`
	AutoReplyEnabled bool   `db:"auto_reply_enabled"`
	AutoReplyLabel   string `db:"auto_reply_label"`
	MaxPerDay        int    `db:"max_per_day"`
	SentToday        int    `db:"sent_today"`
	LastReset        string `db:"last_reset"`
	CreatedAt        int64  `db:"created_at"`
	UpdatedAt        int64  `db:"updated_at"`
}

func (r accountRow) toModel() (*models.Account, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parsing account id %q: %w", r.ID, err)
	}
	return &models.Account{
		ID:            id,
		Email:         r.Email,
		Provider:      models.Provider(r.Provider),
		CredentialRef: r.CredentialRef,
		AutoReply: models.AutoReplyConfig{
			Enabled:   r.AutoReplyEnabled,
			Label:     r.AutoReplyLabel,
			MaxPerDay: r.MaxPerDay,
			SentToday: r.SentToday,
			LastReset: r.LastReset,
		},
		CreatedAt: time.Unix(r.CreatedAt, 0).UTC(),
		UpdatedAt: time.Unix(r.UpdatedAt, 0).UTC(),
	}, nil
}

const selectAccount = `SELECT id, email, provider, credential_ref,
	auto_reply_enabled, auto_reply_label, max_per_day, sent_today, last_reset,
	created_at, updated_at FROM accounts`

func (s *Store) GetAccount(ctx context.Context) (*models.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, selectAccount+` ORDER BY created_at ASC LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting account: %w", err)
	}
	return row.toModel()
}

func (s *Store) SaveAccount(ctx context.Context, a *models.Account) error {
	return saveAccount(ctx, s.db, a)
}

func saveAccount(ctx context.Context, ex sqlx.ExecerContext, a *models.Account) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := ex.ExecContext(ctx,
		`INSERT INTO accounts (id, email, provider, credential_ref,
			auto_reply_enabled, auto_reply_label, max_per_day, sent_today, last_reset,
			created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			provider = excluded.provider,
			credential_ref = excluded.credential_ref,
			auto_reply_enabled = excluded.auto_reply_enabled,
			auto_reply_label = excluded.auto_reply_label,
			max_per_day = excluded.max_per_day,
			sent_today = excluded.sent_today,
			last_reset = excluded.last_reset,
			updated_at = excluded.updated_at`,
		a.ID.String(), a.Email, string(a.Provider), a.CredentialRef,
		a.AutoReply.Enabled, a.AutoReply.Label, a.AutoReply.MaxPerDay, a.AutoReply.SentToday, a.AutoReply.LastReset,
		a.CreatedAt.Unix(), a.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving account: %w", err)
	}
	return nil
}

func (s *Store) UpdateAutoReply(ctx context.Context, id uuid.UUID, fn func(*models.AutoReplyConfig) error) (*models.Account, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	var row accountRow
	if err := tx.GetContext(ctx, &row, selectAccount+` WHERE id = ?`, id.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting account: %w", err)
	}
	a, err := row.toModel()
	if err != nil {
		return nil, err
	}

	if err := fn(&a.AutoReply); err != nil {
		return nil, err
	}

	a.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET
			auto_reply_enabled = ?,
			auto_reply_label = ?,
			max_per_day = ?,
			sent_today = ?,
			last_reset = ?,
			updated_at = ?
		 WHERE id = ?`,
		a.AutoReply.Enabled, a.AutoReply.Label, a.AutoReply.MaxPerDay, a.AutoReply.SentToday, a.AutoReply.LastReset,
		a.UpdatedAt.Unix(), a.ID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("updating auto reply: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing auto reply: %w", err)
	}
	return a, nil
}

// ReplaceAccount removes the current account and the credentials it
// referenced, then saves a. The credential named by a.CredentialRef survives.
func (s *Store) ReplaceAccount(ctx context.Context, a *models.Account) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM credentials
		 WHERE ref IN (SELECT credential_ref FROM accounts) AND ref <> ?`, a.CredentialRef); err != nil {
		return fmt.Errorf("deleting previous credentials: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts`); err != nil {
		return fmt.Errorf("deleting accounts: %w", err)
	}
	a.ID = uuid.Nil
	a.CreatedAt = time.Time{}
	if err := saveAccount(ctx, tx, a); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteAccounts(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts`); err != nil {
		return fmt.Errorf("deleting accounts: %w", err)
	}
	return tx.Commit()
}

type credentialRow struct {
	Ref          string `db:"ref"`
	AccessToken  string `db:"access_token"`
	RefreshToken string `db:"refresh_token"`
	TokenType    string `db:"token_type"`
	Scope        string `db:"scope"`
	Expiry       int64  `db:"expiry"`
	UpdatedAt    int64  `db:"updated_at"`
}

func (s *Store) GetCredential(ctx context.Context, ref string) (*models.Credential, error) {
	var row credentialRow
	err := s.db.GetContext(ctx, &row,
		`SELECT ref, access_token, refresh_token, token_type, scope, expiry, updated_at
		 FROM credentials WHERE ref = ?`, ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting credential: %w", err)
	}
	return &models.Credential{
		Ref:          row.Ref,
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		TokenType:    row.TokenType,
		Scope:        row.Scope,
		Expiry:       time.Unix(row.Expiry, 0).UTC(),
		UpdatedAt:    time.Unix(row.UpdatedAt, 0).UTC(),
	}, nil
}

func (s *Store) SaveCredential(ctx context.Context, c *models.Credential) error {
	c.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (ref, access_token, refresh_token, token_type, scope, expiry, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(ref) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token = '' THEN credentials.refresh_token ELSE excluded.refresh_token END,
			token_type = excluded.token_type,
			scope = excluded.scope,
			expiry = excluded.expiry,
			updated_at = excluded.updated_at`,
		c.Ref, c.AccessToken, c.RefreshToken, c.TokenType, c.Scope, c.Expiry.Unix(), c.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}
	return nil
}

func (s *Store) DeleteCredential(ctx context.Context, ref string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE ref = ?`, ref); err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}
