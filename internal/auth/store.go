package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CredentialStore keeps API keys and per-org ingest secrets in Postgres.
type CredentialStore struct {
	db *sql.DB
}

// NewCredentialStore constructs a store.
func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// GetAPIKey returns nil when the key does not exist.
func (s *CredentialStore) GetAPIKey(ctx context.Context, keyID string) (*APIKey, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("credential store: nil db")
	}
	var key APIKey
	var revokedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
SELECT id, org_id, name, secret_hash, revoked_at, created_at
FROM api_keys
WHERE id = $1`, keyID).Scan(&key.ID, &key.OrgID, &key.Name, &key.SecretHash, &revokedAt, &key.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	key.Revoked = revokedAt.Valid
	key.CreatedAt = key.CreatedAt.UTC()
	return &key, nil
}

// CreateAPIKey stores a key produced by GenerateAPIKey.
func (s *CredentialStore) CreateAPIKey(ctx context.Context, key APIKey) error {
	if s == nil || s.db == nil {
		return errors.New("credential store: nil db")
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO api_keys (id, org_id, name, secret_hash, created_at)
VALUES ($1, $2, $3, $4, $5)`, key.ID, key.OrgID, key.Name, key.SecretHash, key.CreatedAt)
	return err
}

// RevokeAPIKey marks a key revoked.
func (s *CredentialStore) RevokeAPIKey(ctx context.Context, keyID string, at time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("credential store: nil db")
	}
	result, err := s.db.ExecContext(ctx, `
UPDATE api_keys SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, keyID, at.UTC())
	if err != nil {
		return err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// IngestSecret implements SecretResolver.
func (s *CredentialStore) IngestSecret(ctx context.Context, orgID string) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("credential store: nil db")
	}
	var secret string
	err := s.db.QueryRowContext(ctx, `SELECT secret FROM org_ingest_secrets WHERE org_id = $1`, orgID).Scan(&secret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoSecret
		}
		return nil, err
	}
	return []byte(secret), nil
}

// FallbackSecrets tries each resolver in order until one has a secret.
type FallbackSecrets []SecretResolver

// IngestSecret implements SecretResolver.
func (f FallbackSecrets) IngestSecret(ctx context.Context, orgID string) ([]byte, error) {
	for _, resolver := range f {
		if resolver == nil {
			continue
		}
		secret, err := resolver.IngestSecret(ctx, orgID)
		if err == nil && len(secret) > 0 {
			return secret, nil
		}
		if err != nil && !errors.Is(err, ErrNoSecret) {
			return nil, err
		}
	}
	return nil, ErrNoSecret
}
