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

const artifactColumns = `kind, id, payload, uid, user_code, grant_id, created_at, expires_at, consumed_at`

// UpsertArtifact writes or replaces the record at (kind, id), carrying the
// secondary keys into their indexed columns.
func (s *Store) UpsertArtifact(ctx context.Context, artifact storage.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(artifact.Kind) == "" {
		return fmt.Errorf("artifact kind is required")
	}
	if strings.TrimSpace(artifact.ID) == "" {
		return fmt.Errorf("artifact id is required")
	}

	expiresAt := sql.NullInt64{}
	if artifact.ExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: toMillis(*artifact.ExpiresAt), Valid: true}
	}
	consumedAt := sql.NullInt64{}
	if artifact.ConsumedAt != nil {
		consumedAt = sql.NullInt64{Int64: toMillis(*artifact.ConsumedAt), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO artifacts (kind, id, payload, uid, user_code, grant_id, created_at, expires_at, consumed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			payload = excluded.payload,
			uid = excluded.uid,
			user_code = excluded.user_code,
			grant_id = excluded.grant_id,
			expires_at = excluded.expires_at,
			consumed_at = excluded.consumed_at`,
		artifact.Kind, artifact.ID, artifact.Payload, artifact.UID, artifact.UserCode,
		artifact.GrantID, toMillis(artifact.CreatedAt), expiresAt, consumedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert artifact: %w", err)
	}
	return nil
}

// GetArtifact fetches an artifact by its composite key.
func (s *Store) GetArtifact(ctx context.Context, kind, id string) (storage.Artifact, error) {
	return s.getArtifactWhere(ctx, `kind = ? AND id = ?`, kind, id)
}

// GetArtifactByUID fetches an artifact by its uid secondary key.
func (s *Store) GetArtifactByUID(ctx context.Context, kind, uid string) (storage.Artifact, error) {
	if strings.TrimSpace(uid) == "" {
		return storage.Artifact{}, fmt.Errorf("artifact uid is required")
	}
	return s.getArtifactWhere(ctx, `kind = ? AND uid = ?`, kind, uid)
}

// GetArtifactByUserCode fetches an artifact by its user-code secondary key.
func (s *Store) GetArtifactByUserCode(ctx context.Context, kind, userCode string) (storage.Artifact, error) {
	if strings.TrimSpace(userCode) == "" {
		return storage.Artifact{}, fmt.Errorf("artifact user code is required")
	}
	return s.getArtifactWhere(ctx, `kind = ? AND user_code = ?`, kind, userCode)
}

// MarkArtifactConsumed records consumption without deleting, so consumed but
// unexpired records stay inspectable for replay auditing.
func (s *Store) MarkArtifactConsumed(ctx context.Context, kind, id string, consumedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}

	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE artifacts SET consumed_at = ? WHERE kind = ? AND id = ?`,
		toMillis(consumedAt), kind, id,
	)
	if err != nil {
		return fmt.Errorf("consume artifact: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume artifact: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteArtifact hard-deletes a single artifact.
func (s *Store) DeleteArtifact(ctx context.Context, kind, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM artifacts WHERE kind = ? AND id = ?`, kind, id)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

// DeleteArtifactsByGrantID bulk-deletes every artifact sharing a grant id,
// invalidating the whole token family in one sweep.
func (s *Store) DeleteArtifactsByGrantID(ctx context.Context, grantID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.ensureDB(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(grantID) == "" {
		return 0, fmt.Errorf("grant id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM artifacts WHERE grant_id = ?`, grantID)
	if err != nil {
		return 0, fmt.Errorf("delete artifacts by grant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete artifacts by grant: %w", err)
	}
	return affected, nil
}

// DeleteExpiredArtifacts removes expired rows. This is storage hygiene only;
// reads already treat expired rows as absent.
func (s *Store) DeleteExpiredArtifacts(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM artifacts WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("delete expired artifacts: %w", err)
	}
	return nil
}

func (s *Store) getArtifactWhere(ctx context.Context, where string, args ...any) (storage.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return storage.Artifact{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.Artifact{}, err
	}

	var artifact storage.Artifact
	var createdAt int64
	var expiresAt, consumedAt sql.NullInt64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE `+where,
		args...,
	).Scan(
		&artifact.Kind, &artifact.ID, &artifact.Payload, &artifact.UID,
		&artifact.UserCode, &artifact.GrantID, &createdAt, &expiresAt, &consumedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Artifact{}, storage.ErrNotFound
		}
		return storage.Artifact{}, fmt.Errorf("get artifact: %w", err)
	}

	artifact.CreatedAt = fromMillis(createdAt)
	if expiresAt.Valid {
		value := fromMillis(expiresAt.Int64)
		artifact.ExpiresAt = &value
	}
	if consumedAt.Valid {
		value := fromMillis(consumedAt.Int64)
		artifact.ConsumedAt = &value
	}
	return artifact, nil
}
