// Package token issues and validates the protocol artifacts backing logged-in
// sessions and delegated-access tokens. Every token is anchored to a persisted
// artifact, so revoking a grant invalidates its whole token family even
// though the JWTs themselves are stateless.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/jordancrombie/bsim-sub002/internal/platform/errors"
	"github.com/jordancrombie/bsim-sub002/internal/platform/id"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/artifact"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/storage"
)

// Token uses, stored in the "use" claim and matched against the backing
// artifact kind on validation.
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

var (
	// ErrInvalidToken covers bad signatures, expired tokens, and tokens
	// whose backing artifact is gone (revoked families included).
	ErrInvalidToken = apperrors.New(apperrors.CodeTokenInvalid, "token is invalid")
	// ErrTokenConsumed reports a replayed refresh token.
	ErrTokenConsumed = apperrors.New(apperrors.CodeTokenConsumed, "token already used")
)

// Claims are the JWT claims carried by issued tokens.
type Claims struct {
	jwt.RegisteredClaims
	ClientID string   `json:"client_id,omitempty"`
	GrantID  string   `json:"grant_id,omitempty"`
	Scopes   []string `json:"scope,omitempty"`
	Use      string   `json:"use"`
}

// grantPayload is the stored shape of a grant artifact.
type grantPayload struct {
	SubjectID string `json:"subject"`
	ClientID  string `json:"client"`
}

// sessionPayload is the stored shape of a session artifact.
type sessionPayload struct {
	UID       string `json:"uid"`
	SubjectID string `json:"subject"`
}

type tokenPayload struct {
	GrantID   string `json:"grantId,omitempty"`
	SubjectID string `json:"subject"`
	ClientID  string `json:"client,omitempty"`
}

// Session is an issued login session.
type Session struct {
	ID        string
	UID       string
	SubjectID string
	ExpiresAt time.Time
}

// Issuer signs and validates tokens and persists their backing artifacts.
type Issuer struct {
	artifacts   *artifact.Store
	config      Config
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewIssuer creates a token issuer. The signing secret is required.
func NewIssuer(artifacts *artifact.Store, config Config) (*Issuer, error) {
	if artifacts == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if strings.TrimSpace(config.Secret) == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	return &Issuer{
		artifacts:   artifacts,
		config:      config,
		clock:       time.Now,
		idGenerator: id.NewID,
	}, nil
}

// WithClock overrides the time source, for tests.
func (i *Issuer) WithClock(clock func() time.Time) *Issuer {
	i.clock = clock
	return i
}

// IssueGrant anchors a new delegated-access grant. Tokens issued under it
// reference its id, so revoking the grant tears the whole family down.
func (i *Issuer) IssueGrant(ctx context.Context, subjectID, clientID string, ttl time.Duration) (storage.Artifact, error) {
	grantID, err := i.idGenerator()
	if err != nil {
		return storage.Artifact{}, fmt.Errorf("generate grant id: %w", err)
	}
	payload, err := json.Marshal(grantPayload{SubjectID: subjectID, ClientID: clientID})
	if err != nil {
		return storage.Artifact{}, fmt.Errorf("encode grant: %w", err)
	}
	return i.artifacts.Upsert(ctx, artifact.KindGrant, grantID, payload, ttl)
}

// IssueSession creates a login session artifact. The uid is the opaque value
// a browser cookie carries; session lookup goes through it.
func (i *Issuer) IssueSession(ctx context.Context, subjectID string) (Session, error) {
	sessionID, err := i.idGenerator()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}
	uid, err := i.idGenerator()
	if err != nil {
		return Session{}, fmt.Errorf("generate session uid: %w", err)
	}
	payload, err := json.Marshal(sessionPayload{UID: uid, SubjectID: subjectID})
	if err != nil {
		return Session{}, fmt.Errorf("encode session: %w", err)
	}
	record, err := i.artifacts.Upsert(ctx, artifact.KindSession, sessionID, payload, i.config.SessionTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{ID: sessionID, UID: uid, SubjectID: subjectID, ExpiresAt: *record.ExpiresAt}, nil
}

// LookupSession resolves a live session by its uid.
func (i *Issuer) LookupSession(ctx context.Context, uid string) (Session, error) {
	record, err := i.artifacts.FindByUID(ctx, artifact.KindSession, uid)
	if err != nil {
		return Session{}, err
	}
	var payload sessionPayload
	if err := json.Unmarshal(record.Payload, &payload); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	session := Session{ID: record.ID, UID: payload.UID, SubjectID: payload.SubjectID}
	if record.ExpiresAt != nil {
		session.ExpiresAt = *record.ExpiresAt
	}
	return session, nil
}

// EndSession destroys a session artifact, logging the subject out.
func (i *Issuer) EndSession(ctx context.Context, sessionID string) error {
	return i.artifacts.Destroy(ctx, artifact.KindSession, sessionID)
}

// IssueTokens signs an access/refresh token pair under a grant and persists
// their backing artifacts.
func (i *Issuer) IssueTokens(ctx context.Context, subjectID, clientID, grantID string, scopes []string) (access, refresh string, err error) {
	access, err = i.issue(ctx, artifact.KindAccessToken, UseAccess, i.config.AccessTTL, subjectID, clientID, grantID, scopes)
	if err != nil {
		return "", "", err
	}
	refresh, err = i.issue(ctx, artifact.KindRefreshToken, UseRefresh, i.config.RefreshTTL, subjectID, clientID, grantID, scopes)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (i *Issuer) issue(ctx context.Context, kind, use string, ttl time.Duration, subjectID, clientID, grantID string, scopes []string) (string, error) {
	tokenID, err := i.idGenerator()
	if err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}

	payload, err := json.Marshal(tokenPayload{GrantID: grantID, SubjectID: subjectID, ClientID: clientID})
	if err != nil {
		return "", fmt.Errorf("encode token record: %w", err)
	}
	if _, err := i.artifacts.Upsert(ctx, kind, tokenID, payload, ttl); err != nil {
		return "", err
	}

	now := i.clock().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Issuer:    i.config.Issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		ClientID: clientID,
		GrantID:  grantID,
		Scopes:   scopes,
		Use:      use,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.config.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate verifies a token's signature and expiry, then checks that its
// backing artifact is still live. A token whose family was revoked fails
// here even though its signature still verifies.
func (i *Issuer) Validate(ctx context.Context, tokenString, use string) (Claims, error) {
	claims, err := i.parse(tokenString)
	if err != nil {
		return Claims{}, err
	}
	if claims.Use != use {
		return Claims{}, ErrInvalidToken
	}

	kind := artifact.KindAccessToken
	if use == UseRefresh {
		kind = artifact.KindRefreshToken
	}
	record, err := i.artifacts.Find(ctx, kind, claims.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Claims{}, ErrInvalidToken
		}
		return Claims{}, err
	}
	if record.ConsumedAt != nil {
		return Claims{}, ErrTokenConsumed
	}
	return claims, nil
}

// Refresh redeems a refresh token for a new token pair under the same grant.
// The old refresh token is consumed; redeeming it again is a replay and
// fails.
func (i *Issuer) Refresh(ctx context.Context, refreshToken string) (access, refresh string, err error) {
	claims, err := i.Validate(ctx, refreshToken, UseRefresh)
	if err != nil {
		return "", "", err
	}
	if err := i.artifacts.Consume(ctx, artifact.KindRefreshToken, claims.ID); err != nil {
		if apperrors.Is(err, apperrors.CodeTokenConsumed) {
			return "", "", ErrTokenConsumed
		}
		return "", "", err
	}
	return i.IssueTokens(ctx, claims.Subject, claims.ClientID, claims.GrantID, claims.Scopes)
}

func (i *Issuer) parse(tokenString string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(t *jwt.Token) (any, error) {
			return []byte(i.config.Secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(func() time.Time { return i.clock().UTC() }),
	)
	if err != nil {
		return Claims{}, apperrors.Wrap(apperrors.CodeTokenInvalid, "token is invalid", err)
	}
	return claims, nil
}
