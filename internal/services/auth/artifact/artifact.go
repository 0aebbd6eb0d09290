// Package artifact manages generically-typed protocol records: sessions,
// authorization codes, tokens, device codes, and grants. One polymorphic
// store keeps TTL, expiry, and lookup behavior uniform across very
// differently-shaped protocol objects at the cost of opaque payloads.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/jordancrombie/bsim-sub002/internal/platform/errors"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/storage"
)

// Artifact kinds, validated as a closed enumeration at the boundary.
const (
	KindSession           = "session"
	KindAuthorizationCode = "authorization_code"
	KindAccessToken       = "access_token"
	KindRefreshToken      = "refresh_token"
	KindDeviceCode        = "device_code"
	KindGrant             = "grant"
)

var validKinds = map[string]struct{}{
	KindSession:           {},
	KindAuthorizationCode: {},
	KindAccessToken:       {},
	KindRefreshToken:      {},
	KindDeviceCode:        {},
	KindGrant:             {},
}

var (
	// ErrInvalidKind rejects kinds outside the closed enumeration.
	ErrInvalidKind = apperrors.New(apperrors.CodeArtifactInvalidKind, "unrecognized artifact kind")
	// ErrEmptyID rejects blank artifact ids.
	ErrEmptyID = apperrors.New(apperrors.CodeArtifactEmptyID, "artifact id is required")
	// ErrGrantRevoked rejects issuing an artifact under a grant that no
	// longer exists.
	ErrGrantRevoked = apperrors.New(apperrors.CodeArtifactGrantRevoked, "grant has been revoked")
	// ErrConsumed reports a replayed consume of an already-consumed artifact.
	ErrConsumed = apperrors.New(apperrors.CodeTokenConsumed, "artifact already consumed")
)

// payloadKeys are the secondary lookup keys lifted out of a JSON payload at
// write time. Payloads without them are stored without secondary indices.
type payloadKeys struct {
	UID      string `json:"uid"`
	UserCode string `json:"userCode"`
	GrantID  string `json:"grantId"`
}

// Store is the lifecycle layer over the raw artifact rows. Expiry is lazy:
// every read treats a row with a past expires-at as absent, so the write
// path never needs synchronous cleanup.
type Store struct {
	store storage.ArtifactStore
	clock func() time.Time
}

// NewStore creates an artifact store.
func NewStore(store storage.ArtifactStore) *Store {
	return &Store{store: store, clock: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

func validateKey(kind, id string) error {
	if _, ok := validKinds[kind]; !ok {
		return ErrInvalidKind
	}
	if strings.TrimSpace(id) == "" {
		return ErrEmptyID
	}
	return nil
}

// Upsert writes or replaces the record at (kind, id), lifting any secondary
// keys present in the payload. A TTL of zero means the record never expires.
// Issuing an artifact under a grant id whose grant record is gone fails:
// once revocation has begun, no new artifact joins that family.
func (s *Store) Upsert(ctx context.Context, kind, id string, payload []byte, ttl time.Duration) (storage.Artifact, error) {
	if err := validateKey(kind, id); err != nil {
		return storage.Artifact{}, err
	}

	var keys payloadKeys
	if len(payload) > 0 {
		// Non-JSON payloads simply carry no secondary keys.
		_ = json.Unmarshal(payload, &keys)
	}
	if kind == KindGrant && keys.GrantID == "" {
		// A grant is the root of its own family.
		keys.GrantID = id
	}
	if keys.GrantID != "" && kind != KindGrant {
		if _, err := s.Find(ctx, KindGrant, keys.GrantID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return storage.Artifact{}, ErrGrantRevoked
			}
			return storage.Artifact{}, err
		}
	}

	now := s.clock().UTC()
	record := storage.Artifact{
		Kind:      kind,
		ID:        id,
		Payload:   payload,
		UID:       keys.UID,
		UserCode:  keys.UserCode,
		GrantID:   keys.GrantID,
		CreatedAt: now,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		record.ExpiresAt = &expiresAt
	}
	if err := s.store.UpsertArtifact(ctx, record); err != nil {
		return storage.Artifact{}, fmt.Errorf("upsert artifact: %w", err)
	}
	return record, nil
}

// Find fetches a live artifact by its composite key.
func (s *Store) Find(ctx context.Context, kind, id string) (storage.Artifact, error) {
	if err := validateKey(kind, id); err != nil {
		return storage.Artifact{}, err
	}
	return s.checkAlive(s.store.GetArtifact(ctx, kind, id))
}

// FindByUID fetches a live artifact by its uid secondary key, the
// session-style lookup.
func (s *Store) FindByUID(ctx context.Context, kind, uid string) (storage.Artifact, error) {
	if _, ok := validKinds[kind]; !ok {
		return storage.Artifact{}, ErrInvalidKind
	}
	return s.checkAlive(s.store.GetArtifactByUID(ctx, kind, uid))
}

// FindByUserCode fetches a live artifact by its user-code secondary key.
func (s *Store) FindByUserCode(ctx context.Context, kind, userCode string) (storage.Artifact, error) {
	if _, ok := validKinds[kind]; !ok {
		return storage.Artifact{}, ErrInvalidKind
	}
	return s.checkAlive(s.store.GetArtifactByUserCode(ctx, kind, userCode))
}

// checkAlive applies the lazy-expiry rule: a row whose expires-at is in the
// past is not found, whether or not it has been physically removed.
func (s *Store) checkAlive(record storage.Artifact, err error) (storage.Artifact, error) {
	if err != nil {
		return storage.Artifact{}, err
	}
	if record.ExpiresAt != nil && !record.ExpiresAt.After(s.clock().UTC()) {
		return storage.Artifact{}, storage.ErrNotFound
	}
	return record, nil
}

// Consume marks the artifact consumed without deleting it, so consumed but
// unexpired records remain inspectable for replay auditing. Consuming twice
// is a replay and fails.
func (s *Store) Consume(ctx context.Context, kind, id string) error {
	record, err := s.Find(ctx, kind, id)
	if err != nil {
		return err
	}
	if record.ConsumedAt != nil {
		return ErrConsumed
	}
	if err := s.store.MarkArtifactConsumed(ctx, kind, id, s.clock().UTC()); err != nil {
		return fmt.Errorf("consume artifact: %w", err)
	}
	return nil
}

// Destroy hard-deletes a single artifact. Destroying a missing artifact is
// not an error.
func (s *Store) Destroy(ctx context.Context, kind, id string) error {
	if err := validateKey(kind, id); err != nil {
		return err
	}
	if err := s.store.DeleteArtifact(ctx, kind, id); err != nil {
		return fmt.Errorf("destroy artifact: %w", err)
	}
	return nil
}

// RevokeByGrantID deletes every artifact sharing the grant id, the grant
// record included: revoking one grant invalidates every token and session
// issued under it. Returns how many records were removed.
func (s *Store) RevokeByGrantID(ctx context.Context, grantID string) (int64, error) {
	if strings.TrimSpace(grantID) == "" {
		return 0, ErrEmptyID
	}
	removed, err := s.store.DeleteArtifactsByGrantID(ctx, grantID)
	if err != nil {
		return 0, fmt.Errorf("revoke grant %s: %w", grantID, err)
	}
	return removed, nil
}

// DeleteExpired hard-deletes expired rows. Storage hygiene only; reads never
// depend on it.
func (s *Store) DeleteExpired(ctx context.Context) error {
	return s.store.DeleteExpiredArtifacts(ctx, s.clock().UTC())
}
