package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jordancrombie/bsim-sub002/internal/services/auth/storage"
)

// InsertConsent appends a new consent record for a (subject, client) pair.
// Prior records for the pair are retained as history.
func (s *Store) InsertConsent(ctx context.Context, consent storage.Consent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(consent.ID) == "" {
		return fmt.Errorf("consent id is required")
	}
	if strings.TrimSpace(consent.SubjectID) == "" {
		return fmt.Errorf("subject id is required")
	}
	if strings.TrimSpace(consent.ClientID) == "" {
		return fmt.Errorf("client id is required")
	}

	scopes, err := json.Marshal(consent.Scopes)
	if err != nil {
		return fmt.Errorf("encode scopes: %w", err)
	}
	resourceIDs, err := json.Marshal(consent.ResourceIDs)
	if err != nil {
		return fmt.Errorf("encode resource ids: %w", err)
	}

	expiresAt := sql.NullInt64{}
	if consent.ExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: toMillis(*consent.ExpiresAt), Valid: true}
	}
	revokedAt := sql.NullInt64{}
	if consent.RevokedAt != nil {
		revokedAt = sql.NullInt64{Int64: toMillis(*consent.RevokedAt), Valid: true}
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO consents (id, subject_id, client_id, scopes, resource_ids, issued_at, expires_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		consent.ID, consent.SubjectID, consent.ClientID, string(scopes), string(resourceIDs),
		toMillis(consent.IssuedAt), expiresAt, revokedAt,
	)
	if err != nil {
		return fmt.Errorf("insert consent: %w", err)
	}
	return nil
}

// GetLatestConsent returns the most recently issued consent for the pair,
// whatever its state. The caller decides whether it is still active.
func (s *Store) GetLatestConsent(ctx context.Context, subjectID, clientID string) (storage.Consent, error) {
	if err := ctx.Err(); err != nil {
		return storage.Consent{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.Consent{}, err
	}
	if strings.TrimSpace(subjectID) == "" {
		return storage.Consent{}, fmt.Errorf("subject id is required")
	}
	if strings.TrimSpace(clientID) == "" {
		return storage.Consent{}, fmt.Errorf("client id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, subject_id, client_id, scopes, resource_ids, issued_at, expires_at, revoked_at
		FROM consents WHERE subject_id = ? AND client_id = ?
		ORDER BY issued_at DESC, rowid DESC LIMIT 1`,
		subjectID, clientID,
	)
	consent, err := scanConsent(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Consent{}, storage.ErrNotFound
		}
		return storage.Consent{}, fmt.Errorf("get consent: %w", err)
	}
	return consent, nil
}

// ListConsents returns the full consent history for the pair, newest first.
func (s *Store) ListConsents(ctx context.Context, subjectID, clientID string) ([]storage.Consent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ensureDB(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, subject_id, client_id, scopes, resource_ids, issued_at, expires_at, revoked_at
		FROM consents WHERE subject_id = ? AND client_id = ?
		ORDER BY issued_at DESC, rowid DESC`,
		subjectID, clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	defer rows.Close()

	consents := make([]storage.Consent, 0)
	for rows.Next() {
		consent, err := scanConsent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		consents = append(consents, consent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	return consents, nil
}

// RevokeConsent sets the revocation timestamp on a consent record. The row
// is never deleted; revocation preserves history.
func (s *Store) RevokeConsent(ctx context.Context, consentID string, revokedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(consentID) == "" {
		return fmt.Errorf("consent id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE consents SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		toMillis(revokedAt), consentID,
	)
	if err != nil {
		return fmt.Errorf("revoke consent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke consent: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanConsent(scan func(dest ...any) error) (storage.Consent, error) {
	var consent storage.Consent
	var scopes, resourceIDs string
	var issuedAt int64
	var expiresAt, revokedAt sql.NullInt64

	err := scan(
		&consent.ID, &consent.SubjectID, &consent.ClientID, &scopes, &resourceIDs,
		&issuedAt, &expiresAt, &revokedAt,
	)
	if err != nil {
		return storage.Consent{}, err
	}

	if err := json.Unmarshal([]byte(scopes), &consent.Scopes); err != nil {
		return storage.Consent{}, fmt.Errorf("decode scopes: %w", err)
	}
	if err := json.Unmarshal([]byte(resourceIDs), &consent.ResourceIDs); err != nil {
		return storage.Consent{}, fmt.Errorf("decode resource ids: %w", err)
	}
	consent.IssuedAt = fromMillis(issuedAt)
	if expiresAt.Valid {
		value := fromMillis(expiresAt.Int64)
		consent.ExpiresAt = &value
	}
	if revokedAt.Valid {
		value := fromMillis(revokedAt.Int64)
		consent.RevokedAt = &value
	}
	return consent, nil
}
