// Package consent tracks what a subject has authorized a client application
// to access. Resource-authorization middleware consults it before serving
// third-party delegated-access requests.
package consent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/jordancrombie/bsim-sub002/internal/platform/errors"
	"github.com/jordancrombie/bsim-sub002/internal/platform/id"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/storage"
)

var (
	// ErrEmptySubject rejects a blank subject id.
	ErrEmptySubject = apperrors.New(apperrors.CodeConsentEmptySubject, "subject id is required")
	// ErrEmptyClient rejects a blank client id.
	ErrEmptyClient = apperrors.New(apperrors.CodeConsentEmptyClient, "client id is required")
	// ErrExpiredOrRevoked reports that no active consent exists for the
	// pair. Distinct from authentication failures: this is an
	// authorization-layer denial.
	ErrExpiredOrRevoked = apperrors.New(apperrors.CodeConsentExpiredOrRevoked, "consent expired or revoked")
)

// Registry manages consent records per (subject, client) pair. A later grant
// supersedes an older one rather than merging with it; revocation is a soft
// update that preserves history.
type Registry struct {
	store       storage.ConsentStore
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewRegistry creates a consent registry.
func NewRegistry(store storage.ConsentStore) *Registry {
	return &Registry{store: store, clock: time.Now, idGenerator: id.NewID}
}

// WithClock overrides the time source, for tests.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

func validatePair(subjectID, clientID string) error {
	if strings.TrimSpace(subjectID) == "" {
		return ErrEmptySubject
	}
	if strings.TrimSpace(clientID) == "" {
		return ErrEmptyClient
	}
	return nil
}

// Grant records a new active consent for the pair, superseding any prior
// record. A TTL of zero means the consent never expires on its own.
func (r *Registry) Grant(ctx context.Context, subjectID, clientID string, scopes, resourceIDs []string, ttl time.Duration) (storage.Consent, error) {
	if err := validatePair(subjectID, clientID); err != nil {
		return storage.Consent{}, err
	}

	consentID, err := r.idGenerator()
	if err != nil {
		return storage.Consent{}, fmt.Errorf("generate consent id: %w", err)
	}
	now := r.clock().UTC()
	record := storage.Consent{
		ID:          consentID,
		SubjectID:   strings.TrimSpace(subjectID),
		ClientID:    strings.TrimSpace(clientID),
		Scopes:      normalizeSet(scopes),
		ResourceIDs: normalizeSet(resourceIDs),
		IssuedAt:    now,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		record.ExpiresAt = &expiresAt
	}
	if err := r.store.InsertConsent(ctx, record); err != nil {
		return storage.Consent{}, fmt.Errorf("insert consent: %w", err)
	}
	return record, nil
}

// Revoke sets the revocation timestamp on the pair's active record. The
// record is preserved; only its authorization stops.
func (r *Registry) Revoke(ctx context.Context, subjectID, clientID string) error {
	if err := validatePair(subjectID, clientID); err != nil {
		return err
	}

	latest, err := r.store.GetLatestConsent(ctx, subjectID, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrExpiredOrRevoked
		}
		return fmt.Errorf("load consent: %w", err)
	}
	if !r.active(latest) {
		return ErrExpiredOrRevoked
	}
	if err := r.store.RevokeConsent(ctx, latest.ID, r.clock().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrExpiredOrRevoked
		}
		return fmt.Errorf("revoke consent: %w", err)
	}
	return nil
}

// IsResourceAuthorized reports whether the pair's active consent covers the
// resource. No consent, an expired one, or a revoked one all answer false.
func (r *Registry) IsResourceAuthorized(ctx context.Context, subjectID, clientID, resourceID string) (bool, error) {
	if err := validatePair(subjectID, clientID); err != nil {
		return false, err
	}
	if strings.TrimSpace(resourceID) == "" {
		return false, nil
	}

	latest, err := r.store.GetLatestConsent(ctx, subjectID, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load consent: %w", err)
	}
	if !r.active(latest) {
		return false, nil
	}
	for _, candidate := range latest.ResourceIDs {
		if candidate == resourceID {
			return true, nil
		}
	}
	return false, nil
}

// AuthorizedScopes returns the scopes of the pair's active consent, or an
// empty set when none is active.
func (r *Registry) AuthorizedScopes(ctx context.Context, subjectID, clientID string) ([]string, error) {
	if err := validatePair(subjectID, clientID); err != nil {
		return nil, err
	}

	latest, err := r.store.GetLatestConsent(ctx, subjectID, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("load consent: %w", err)
	}
	if !r.active(latest) {
		return []string{}, nil
	}
	scopes := make([]string, len(latest.Scopes))
	copy(scopes, latest.Scopes)
	return scopes, nil
}

// History lists every record for the pair, newest first, revoked and
// expired included.
func (r *Registry) History(ctx context.Context, subjectID, clientID string) ([]storage.Consent, error) {
	if err := validatePair(subjectID, clientID); err != nil {
		return nil, err
	}
	return r.store.ListConsents(ctx, subjectID, clientID)
}

func (r *Registry) active(record storage.Consent) bool {
	if record.RevokedAt != nil {
		return false
	}
	if record.ExpiresAt != nil && !record.ExpiresAt.After(r.clock().UTC()) {
		return false
	}
	return true
}

func normalizeSet(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	normalized := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		normalized = append(normalized, value)
	}
	return normalized
}
