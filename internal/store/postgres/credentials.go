package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/znz-systems/mailpilot/internal/models"
	"github.com/znz-systems/mailpilot/internal/store"
)

type CredentialStore struct {
	db *sql.DB
}

func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) GetCredential(ctx context.Context, ref string) (*models.Credential, error) {
	c := &models.Credential{}
	err := s.db.QueryRowContext(ctx,
		`SELECT ref, access_token, refresh_token, token_type, scope, expiry, updated_at
		 FROM credentials WHERE ref = $1`, ref,
	).Scan(&c.Ref, &c.AccessToken, &c.RefreshToken, &c.TokenType, &c.Scope, &c.Expiry, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (s *CredentialStore) SaveCredential(ctx context.Context, c *models.Credential) error {
	return s.db.QueryRowContext(ctx,
		`INSERT INTO credentials (ref, access_token, refresh_token, token_type, scope, expiry)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (ref) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = CASE WHEN EXCLUDED.refresh_token = '' THEN credentials.refresh_token ELSE EXCLUDED.refresh_token END,
			token_type = EXCLUDED.token_type,
			scope = EXCLUDED.scope,
			expiry = EXCLUDED.expiry,
			updated_at = NOW()
		 RETURNING updated_at`,
		c.Ref, c.AccessToken, c.RefreshToken, c.TokenType, c.Scope, c.Expiry,
	).Scan(&c.UpdatedAt)
}

func (s *CredentialStore) DeleteCredential(ctx context.Context, ref string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE ref = $1`, ref)
	return err
}
