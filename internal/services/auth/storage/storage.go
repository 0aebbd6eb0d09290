package storage

import (
	"context"
	"time"

	"github.com/jordancrombie/bsim-sub002/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// Principal is an entity that can authenticate: a customer or an admin.
type Principal struct {
	ID          string
	DisplayName string
	Email       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PrincipalStore persists principal records. Deleting a principal cascades
// to its credentials.
type PrincipalStore interface {
	PutPrincipal(ctx context.Context, p Principal) error
	GetPrincipal(ctx context.Context, principalID string) (Principal, error)
	GetPrincipalByEmail(ctx context.Context, email string) (Principal, error)
	DeletePrincipal(ctx context.Context, principalID string) error
}

// Credential is one registered authenticator owned by a principal.
type Credential struct {
	CredentialID   string
	PrincipalID    string
	PublicKey      []byte
	SignCount      uint32
	DeviceClass    string
	BackupEligible bool
	BackedUp       bool
	Transports     []string
	CreatedAt      time.Time
	LastUsedAt     *time.Time
}

// CredentialStore persists WebAuthn credentials. Credential ids are globally
// unique; inserting a duplicate is a conflict, not an upsert.
type CredentialStore interface {
	InsertCredential(ctx context.Context, credential Credential) error
	GetCredential(ctx context.Context, credentialID string) (Credential, error)
	ListCredentialsByPrincipal(ctx context.Context, principalID string) ([]Credential, error)
	UpdateCredentialAfterAuth(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) error
	DeleteCredential(ctx context.Context, credentialID string) error
}

// Challenge is a short-lived random value bound to a ceremony key.
type Challenge struct {
	Key       string
	Value     []byte
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ChallengeStore persists at most one live challenge per key.
type ChallengeStore interface {
	// PutChallenge stores a challenge, replacing any existing one for the key.
	PutChallenge(ctx context.Context, challenge Challenge) error
	// TakeChallenge removes and returns the challenge for the key. A missing
	// or expired challenge is ErrNotFound either way.
	TakeChallenge(ctx context.Context, key string, now time.Time) (Challenge, error)
	DeleteExpiredChallenges(ctx context.Context, now time.Time) error
}

// Artifact is a generically-typed protocol record: session, code, token,
// device code, or grant. The payload is opaque; uid, user code, and grant id
// are indexed secondary keys lifted out of it at write time.
type Artifact struct {
	Kind       string
	ID         string
	Payload    []byte
	UID        string
	UserCode   string
	GrantID    string
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	ConsumedAt *time.Time
}

// ArtifactStore persists protocol artifacts keyed by (kind, id). Reads
// return rows as stored; expiry is the caller's concern so that expired rows
// need no synchronous cleanup on the write path.
type ArtifactStore interface {
	UpsertArtifact(ctx context.Context, artifact Artifact) error
	GetArtifact(ctx context.Context, kind, id string) (Artifact, error)
	GetArtifactByUID(ctx context.Context, kind, uid string) (Artifact, error)
	GetArtifactByUserCode(ctx context.Context, kind, userCode string) (Artifact, error)
	MarkArtifactConsumed(ctx context.Context, kind, id string, consumedAt time.Time) error
	DeleteArtifact(ctx context.Context, kind, id string) error
	DeleteArtifactsByGrantID(ctx context.Context, grantID string) (int64, error)
	DeleteExpiredArtifacts(ctx context.Context, now time.Time) error
}

// Consent records what a subject authorized a client to access. History is
// retained: a new grant supersedes, revocation is a soft update.
type Consent struct {
	ID          string
	SubjectID   string
	ClientID    string
	Scopes      []string
	ResourceIDs []string
	IssuedAt    time.Time
	ExpiresAt   *time.Time
	RevokedAt   *time.Time
}

// ConsentStore persists consent records for (subject, client) pairs.
type ConsentStore interface {
	InsertConsent(ctx context.Context, consent Consent) error
	// GetLatestConsent returns the most recently issued record for the pair,
	// revoked or expired included; the caller decides whether it is active.
	GetLatestConsent(ctx context.Context, subjectID, clientID string) (Consent, error)
	ListConsents(ctx context.Context, subjectID, clientID string) ([]Consent, error)
	RevokeConsent(ctx context.Context, consentID string, revokedAt time.Time) error
}

// SecurityEvent is an internally-logged auth event used for monitoring.
type SecurityEvent struct {
	ID          string
	Kind        string
	PrincipalID string
	Detail      string
	Timestamp   time.Time
}

// SecurityEventStore appends security events.
type SecurityEventStore interface {
	AppendSecurityEvent(ctx context.Context, event SecurityEvent) error
}
