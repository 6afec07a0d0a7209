package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	maxActiveKeysPerUser  = 5
	maxKeyGenerationTries = 5
)

var (
	ErrQuotaExceeded          = errors.New("active api key quota exceeded")
	ErrAPIKeyNotFound         = errors.New("api key not found")
	ErrAPIKeyRevoked          = errors.New("api key already revoked")
	ErrAPIKeyNotExpired       = errors.New("api key has not expired yet")
	ErrKeyGenerationExhausted = errors.New("could not generate a unique api key")
)

// KeyGenerator produces one candidate key: the secret handed to the caller
// once, its display prefix, and the hash that gets stored.
type KeyGenerator func() (secret, prefix, hash string, err error)

// CreateAPIKey inserts a new key for the user, enforcing the active-key quota
// under a per-user advisory lock. The lock serializes concurrent creations for
// the same user so the count-then-insert window cannot admit a sixth key.
// Returns the stored key and the plaintext secret.
func (s *Store) CreateAPIKey(ctx context.Context, userID uuid.UUID, name string, permissions []string, expiresAt time.Time, gen KeyGenerator) (*APIKey, string, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, "", err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := acquireUserKeyLock(ctx, tx, userID); err != nil {
		return nil, "", err
	}

	count, err := countActiveKeysTx(ctx, tx, userID)
	if err != nil {
		return nil, "", err
	}
	if count >= maxActiveKeysPerUser {
		return nil, "", ErrQuotaExceeded
	}

	key, secret, err := s.insertKeyTx(ctx, tx, userID, name, permissions, expiresAt, gen)
	if err != nil {
		return nil, "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", err
	}
	committed = true
	return key, secret, nil
}

// RolloverAPIKey replaces an expired key with a fresh secret in one committed
// unit. The old key keeps its name and permissions but is marked revoked; at
// no point are both the old and the new key usable.
func (s *Store) RolloverAPIKey(ctx context.Context, userID, keyID uuid.UUID, expiresAt time.Time, gen KeyGenerator) (*APIKey, string, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, "", err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := acquireUserKeyLock(ctx, tx, userID); err != nil {
		return nil, "", err
	}

	row := tx.QueryRow(ctx, apiKeySelect+`
		WHERE id = $1 AND user_id = $2
		FOR UPDATE
	`, keyID, userID)
	old, err := scanAPIKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", ErrAPIKeyNotFound
		}
		return nil, "", err
	}
	if old.IsRevoked {
		return nil, "", ErrAPIKeyRevoked
	}
	if old.ExpiresAt.After(time.Now().UTC()) {
		return nil, "", ErrAPIKeyNotExpired
	}

	// The expired key no longer counts against the quota, so the replacement
	// needs a free slot of its own.
	count, err := countActiveKeysTx(ctx, tx, userID)
	if err != nil {
		return nil, "", err
	}
	if count >= maxActiveKeysPerUser {
		return nil, "", ErrQuotaExceeded
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE api_keys SET is_revoked = true, is_active = false, updated_at = $1 WHERE id = $2
	`, now, old.ID); err != nil {
		return nil, "", err
	}

	key, secret, err := s.insertKeyTx(ctx, tx, userID, old.Name, old.Permissions, expiresAt, gen)
	if err != nil {
		return nil, "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", err
	}
	committed = true
	return key, secret, nil
}

func (s *Store) RevokeAPIKey(ctx context.Context, userID, keyID uuid.UUID) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var isRevoked bool
	err = tx.QueryRow(ctx, `
		SELECT is_revoked FROM api_keys WHERE id = $1 AND user_id = $2 FOR UPDATE
	`, keyID, userID).Scan(&isRevoked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAPIKeyNotFound
		}
		return err
	}
	if isRevoked {
		return ErrAPIKeyRevoked
	}

	if _, err := tx.Exec(ctx, `
		UPDATE api_keys SET is_revoked = true, is_active = false, updated_at = $1 WHERE id = $2
	`, time.Now().UTC(), keyID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]APIKey, error) {
	rows, err := s.pool.Query(ctx, apiKeySelect+`
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *key)
	}
	return keys, rows.Err()
}

func (s *Store) CountActiveAPIKeys(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM api_keys
		WHERE user_id = $1 AND is_active AND NOT is_revoked AND expires_at > now()
	`, userID).Scan(&count)
	return count, err
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	row := s.pool.QueryRow(ctx, apiKeySelect+` WHERE key_hash = $1`, keyHash)
	key, err := scanAPIKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, err
	}
	return key, nil
}

// MarkAPIKeyUsed stamps last_used_at. Best effort: auth must not fail because
// the stamp write lost a race.
func (s *Store) MarkAPIKeyUsed(ctx context.Context, keyID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE api_keys SET last_used_at = $1 WHERE id = $2
	`, time.Now().UTC(), keyID)
	return err
}

// insertKeyTx inserts a freshly generated key inside the caller's transaction.
// Hash collisions are vanishingly rare but would abort the whole transaction,
// so each attempt runs under a savepoint and regenerates on unique violation.
func (s *Store) insertKeyTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, name string, permissions []string, expiresAt time.Time, gen KeyGenerator) (*APIKey, string, error) {
	now := time.Now().UTC()
	for attempt := 0; attempt < maxKeyGenerationTries; attempt++ {
		secret, prefix, hash, err := gen()
		if err != nil {
			return nil, "", err
		}
		keyID := uuid.New()

		inner, err := tx.Begin(ctx)
		if err != nil {
			return nil, "", err
		}
		_, err = inner.Exec(ctx, `
			INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, permissions, is_active, is_revoked, expires_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, true, false, $7, $8, $8)
		`, keyID, userID, name, hash, prefix, permissions, expiresAt, now)
		if err != nil {
			_ = inner.Rollback(ctx)
			if isUniqueViolation(err) {
				s.logger.Warn("api key hash collision, regenerating", "attempt", attempt+1)
				continue
			}
			return nil, "", err
		}
		if err := inner.Commit(ctx); err != nil {
			return nil, "", err
		}

		return &APIKey{
			ID:          keyID,
			UserID:      userID,
			Name:        name,
			KeyHash:     hash,
			KeyPrefix:   prefix,
			Permissions: permissions,
			IsActive:    true,
			IsRevoked:   false,
			ExpiresAt:   expiresAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}, secret, nil
	}
	return nil, "", ErrKeyGenerationExhausted
}

func acquireUserKeyLock(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID.String())
	return err
}

func countActiveKeysTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int, error) {
	var count int
	err := tx.QueryRow(ctx, `
		SELECT count(*) FROM api_keys
		WHERE user_id = $1 AND is_active AND NOT is_revoked AND expires_at > now()
	`, userID).Scan(&count)
	return count, err
}

const apiKeySelect = `
	SELECT id, user_id, name, key_hash, key_prefix, permissions, is_active, is_revoked,
	       expires_at, last_used_at, created_at, updated_at
	FROM api_keys`

func scanAPIKey(row rowScanner) (*APIKey, error) {
	var k APIKey
	if err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Permissions,
		&k.IsActive, &k.IsRevoked, &k.ExpiresAt, &k.LastUsedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
		return nil, err
	}
	return &k, nil
}
