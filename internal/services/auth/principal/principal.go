// Package principal provides management of authenticating identities:
// customers and admins.
package principal

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/jordancrombie/bsim-sub002/internal/platform/errors"
	"github.com/jordancrombie/bsim-sub002/internal/platform/id"
)

var (
	// ErrEmptyDisplayName indicates a missing display name.
	ErrEmptyDisplayName = apperrors.New(apperrors.CodePrincipalEmptyDisplayName, "display name is required")
	// ErrInvalidEmail indicates a contact identifier that is not a usable email.
	ErrInvalidEmail = apperrors.New(apperrors.CodePrincipalInvalidEmail, "email address is invalid")

	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Principal represents an entity that can authenticate with passkeys.
type Principal struct {
	ID          string
	DisplayName string
	Email       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateInput describes the metadata needed to create a principal.
type CreateInput struct {
	DisplayName string
	Email       string
}

// ValidateEmail enforces the canonical contact-identifier format. Emails are
// also the authentication hint for hinted login flows, so the same
// normalization applies on both paths.
func ValidateEmail(s string) error {
	if !emailPattern.MatchString(s) {
		return ErrInvalidEmail
	}
	return nil
}

// NormalizeEmail lowercases and trims an email for storage and lookup.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Create builds a durable principal identity from validated input.
func Create(input CreateInput, now func() time.Time, idGenerator func() (string, error)) (Principal, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateInput(input)
	if err != nil {
		return Principal{}, err
	}

	principalID, err := idGenerator()
	if err != nil {
		return Principal{}, fmt.Errorf("generate principal id: %w", err)
	}

	createdAt := now().UTC()
	return Principal{
		ID:          principalID,
		DisplayName: normalized.DisplayName,
		Email:       normalized.Email,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}, nil
}

// NormalizeCreateInput trims and normalizes input before validation.
func NormalizeCreateInput(input CreateInput) (CreateInput, error) {
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	if input.DisplayName == "" {
		return CreateInput{}, ErrEmptyDisplayName
	}
	input.Email = NormalizeEmail(input.Email)
	if input.Email == "" {
		return CreateInput{}, ErrInvalidEmail
	}
	if err := ValidateEmail(input.Email); err != nil {
		return CreateInput{}, err
	}
	return input, nil
}
