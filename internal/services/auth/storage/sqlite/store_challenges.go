package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jordancrombie/bsim-sub002/internal/services/auth/storage"
)

// PutChallenge stores a challenge, replacing any live one for the same key.
// Overwriting is deliberate: a second ceremony attempt supersedes the first.
func (s *Store) PutChallenge(ctx context.Context, challenge storage.Challenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(challenge.Key) == "" {
		return fmt.Errorf("challenge key is required")
	}
	if len(challenge.Value) == 0 {
		return fmt.Errorf("challenge value is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO challenges (key, value, issued_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			issued_at = excluded.issued_at,
			expires_at = excluded.expires_at`,
		challenge.Key, challenge.Value, toMillis(challenge.IssuedAt), toMillis(challenge.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put challenge: %w", err)
	}
	return nil
}

// TakeChallenge removes and returns the challenge for the key. Missing,
// expired, and already-taken all surface as ErrNotFound so callers cannot
// tell them apart.
func (s *Store) TakeChallenge(ctx context.Context, key string, now time.Time) (storage.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return storage.Challenge{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.Challenge{}, err
	}
	if strings.TrimSpace(key) == "" {
		return storage.Challenge{}, fmt.Errorf("challenge key is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.Challenge{}, fmt.Errorf("begin take challenge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var challenge storage.Challenge
	var issuedAt, expiresAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT key, value, issued_at, expires_at FROM challenges WHERE key = ?`,
		key,
	).Scan(&challenge.Key, &challenge.Value, &issuedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Challenge{}, storage.ErrNotFound
		}
		return storage.Challenge{}, fmt.Errorf("take challenge: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM challenges WHERE key = ?`, key); err != nil {
		return storage.Challenge{}, fmt.Errorf("consume challenge: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return storage.Challenge{}, fmt.Errorf("commit take challenge: %w", err)
	}

	challenge.IssuedAt = fromMillis(issuedAt)
	challenge.ExpiresAt = fromMillis(expiresAt)
	if !challenge.ExpiresAt.After(now.UTC()) {
		return storage.Challenge{}, storage.ErrNotFound
	}
	return challenge, nil
}

// DeleteExpiredChallenges removes expired challenge rows.
func (s *Store) DeleteExpiredChallenges(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM challenges WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return fmt.Errorf("delete expired challenges: %w", err)
	}
	return nil
}
