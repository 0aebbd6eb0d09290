package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jordancrombie/bsim-sub002/internal/services/auth/storage"
)

// PutPrincipal inserts or updates a principal record.
func (s *Store) PutPrincipal(ctx context.Context, p storage.Principal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("principal id is required")
	}
	if strings.TrimSpace(p.Email) == "" {
		return fmt.Errorf("principal email is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO principals (id, display_name, email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			email = excluded.email,
			updated_at = excluded.updated_at`,
		p.ID, p.DisplayName, p.Email, toMillis(p.CreatedAt), toMillis(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put principal: %w", err)
	}
	return nil
}

// GetPrincipal fetches a principal by id.
func (s *Store) GetPrincipal(ctx context.Context, principalID string) (storage.Principal, error) {
	if err := ctx.Err(); err != nil {
		return storage.Principal{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.Principal{}, err
	}
	if strings.TrimSpace(principalID) == "" {
		return storage.Principal{}, fmt.Errorf("principal id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, display_name, email, created_at, updated_at FROM principals WHERE id = ?`,
		principalID,
	)
	return scanPrincipal(row)
}

// GetPrincipalByEmail fetches a principal by email.
func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (storage.Principal, error) {
	if err := ctx.Err(); err != nil {
		return storage.Principal{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.Principal{}, err
	}
	if strings.TrimSpace(email) == "" {
		return storage.Principal{}, fmt.Errorf("email is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, display_name, email, created_at, updated_at FROM principals WHERE email = ?`,
		email,
	)
	return scanPrincipal(row)
}

// DeletePrincipal removes a principal; credentials cascade via foreign key.
func (s *Store) DeletePrincipal(ctx context.Context, principalID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(principalID) == "" {
		return fmt.Errorf("principal id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM principals WHERE id = ?`, principalID)
	if err != nil {
		return fmt.Errorf("delete principal: %w", err)
	}
	return nil
}

func scanPrincipal(row *sql.Row) (storage.Principal, error) {
	var p storage.Principal
	var createdAt, updatedAt int64
	err := row.Scan(&p.ID, &p.DisplayName, &p.Email, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Principal{}, storage.ErrNotFound
		}
		return storage.Principal{}, fmt.Errorf("get principal: %w", err)
	}
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}
