package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/jordancrombie/bsim-sub002/internal/platform/errors"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/storage"
)

// ErrCredentialExists indicates an insert for an already-registered credential id.
var ErrCredentialExists = apperrors.New(apperrors.CodeCredentialAlreadyExists, "credential id already registered")

// InsertCredential stores a new credential. A duplicate credential id is a
// conflict, surfaced as ErrCredentialExists rather than silently replaced.
func (s *Store) InsertCredential(ctx context.Context, credential storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.PrincipalID) == "" {
		return fmt.Errorf("principal id is required")
	}
	if len(credential.PublicKey) == 0 {
		return fmt.Errorf("public key is required")
	}

	lastUsed := sql.NullInt64{}
	if credential.LastUsedAt != nil {
		lastUsed = sql.NullInt64{Int64: toMillis(*credential.LastUsedAt), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO credentials
		(credential_id, principal_id, public_key, sign_count, device_class, backup_eligible, backed_up, transports, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		credential.CredentialID, credential.PrincipalID, credential.PublicKey,
		int64(credential.SignCount), credential.DeviceClass,
		boolToInt(credential.BackupEligible), boolToInt(credential.BackedUp),
		strings.Join(credential.Transports, ","), toMillis(credential.CreatedAt), lastUsed,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
			return ErrCredentialExists
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// GetCredential fetches a credential by its globally-unique id.
func (s *Store) GetCredential(ctx context.Context, credentialID string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.Credential{}, err
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.Credential{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT credential_id, principal_id, public_key, sign_count, device_class, backup_eligible, backed_up, transports, created_at, last_used_at
		FROM credentials WHERE credential_id = ?`,
		credentialID,
	)

	credential, err := scanCredential(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Credential{}, storage.ErrNotFound
		}
		return storage.Credential{}, fmt.Errorf("get credential: %w", err)
	}
	return credential, nil
}

// ListCredentialsByPrincipal returns a principal's credentials in creation order.
func (s *Store) ListCredentialsByPrincipal(ctx context.Context, principalID string) ([]storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(principalID) == "" {
		return nil, fmt.Errorf("principal id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT credential_id, principal_id, public_key, sign_count, device_class, backup_eligible, backed_up, transports, created_at, last_used_at
		FROM credentials WHERE principal_id = ? ORDER BY created_at, credential_id`,
		principalID,
	)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	credentials := make([]storage.Credential, 0)
	for rows.Next() {
		credential, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return credentials, nil
}

// UpdateCredentialAfterAuth records the post-authentication counter and
// last-used timestamp in one atomic update.
func (s *Store) UpdateCredentialAfterAuth(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE credentials SET sign_count = ?, last_used_at = ? WHERE credential_id = ?`,
		int64(signCount), toMillis(usedAt), credentialID,
	)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteCredential removes a credential.
func (s *Store) DeleteCredential(ctx context.Context, credentialID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM credentials WHERE credential_id = ?`, credentialID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func scanCredential(scan func(dest ...any) error) (storage.Credential, error) {
	var credential storage.Credential
	var signCount int64
	var backupEligible int
	var backedUp int
	var transports string
	var createdAt int64
	var lastUsed sql.NullInt64

	err := scan(
		&credential.CredentialID, &credential.PrincipalID, &credential.PublicKey,
		&signCount, &credential.DeviceClass, &backupEligible, &backedUp, &transports, &createdAt, &lastUsed,
	)
	if err != nil {
		return storage.Credential{}, err
	}

	credential.SignCount = uint32(signCount)
	credential.BackupEligible = backupEligible != 0
	credential.BackedUp = backedUp != 0
	if transports != "" {
		credential.Transports = strings.Split(transports, ",")
	}
	credential.CreatedAt = fromMillis(createdAt)
	if lastUsed.Valid {
		value := fromMillis(lastUsed.Int64)
		credential.LastUsedAt = &value
	}
	return credential, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
