// Package ceremony drives WebAuthn registration and authentication against
// the challenge and credential stores.
package ceremony

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/jordancrombie/bsim-sub002/internal/platform/errors"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/challenge"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/passkey"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/principal"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/storage"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/telemetry"
)

// Ceremony failures. Externally these all collapse to a generic
// authentication failure; the specific code is only for internal logging.
var (
	ErrChallengeNotFound  = challenge.ErrChallengeNotFound
	ErrCredentialNotFound = apperrors.New(apperrors.CodeCredentialNotFound, "credential not found")
	ErrCounterRegression  = apperrors.New(apperrors.CodeCounterRegression, "authenticator counter did not advance")
)

// relyingParty is the subset of webauthn.WebAuthn the ceremonies use.
type relyingParty interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

type responseParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultResponseParser struct{}

func (defaultResponseParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultResponseParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// Service orchestrates the two ceremony state machines. It is stateless;
// pending ceremony state lives in the challenge store so ceremonies survive
// restarts and work across server instances.
type Service struct {
	principals  storage.PrincipalStore
	credentials storage.CredentialStore
	challenges  *challenge.Store
	rp          relyingParty
	parser      responseParser
	config      passkey.Config
	events      *telemetry.Emitter
	clock       func() time.Time
}

// NewService builds a ceremony service for the configured relying party.
func NewService(principals storage.PrincipalStore, credentials storage.CredentialStore, challenges *challenge.Store, events *telemetry.Emitter, config passkey.Config) (*Service, error) {
	if principals == nil {
		return nil, fmt.Errorf("principal store is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if challenges == nil {
		return nil, fmt.Errorf("challenge store is required")
	}

	webAuthn, err := webauthn.New(&webauthn.Config{
		RPDisplayName: config.RPDisplayName,
		RPID:          config.RPID,
		RPOrigins:     config.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configure relying party: %w", err)
	}

	return &Service{
		principals:  principals,
		credentials: credentials,
		challenges:  challenges,
		rp:          webAuthn,
		parser:      defaultResponseParser{},
		config:      config,
		events:      events,
		clock:       time.Now,
	}, nil
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// ceremonyUser adapts a stored principal and its credentials to the
// webauthn.User interface.
type ceremonyUser struct {
	principal   storage.Principal
	credentials []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return []byte(u.principal.ID)
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.principal.Email
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.principal.DisplayName
}

func (u *ceremonyUser) WebAuthnIcon() string {
	return ""
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func (s *Service) loadCeremonyUser(ctx context.Context, base storage.Principal) (*ceremonyUser, error) {
	records, err := s.credentials.ListCredentialsByPrincipal(ctx, base.ID)
	if err != nil {
		return nil, err
	}
	credentials, err := decodeStoredCredentials(records)
	if err != nil {
		return nil, err
	}
	return &ceremonyUser{principal: base, credentials: credentials}, nil
}

// challengeKey resolves the challenge-store key for an authentication
// ceremony. A blank hint means the authenticator picks the credential.
func challengeKey(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return passkey.AnonymousKey
	}
	return principal.NormalizeEmail(hint)
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// classifyVerificationError maps a library verification failure to a coded
// error so security monitoring can distinguish origin problems from bad
// signatures. The external response stays generic regardless.
func classifyVerificationError(err error) *apperrors.Error {
	var protocolErr *protocol.Error
	if errors.As(err, &protocolErr) {
		detail := strings.ToLower(protocolErr.Details + " " + protocolErr.DevInfo)
		switch {
		case strings.Contains(detail, "origin"):
			return apperrors.Wrap(apperrors.CodeOriginMismatch, "response origin not in allow-list", err)
		case strings.Contains(detail, "signature"):
			return apperrors.Wrap(apperrors.CodeSignatureInvalid, "response signature invalid", err)
		}
	}
	return apperrors.Wrap(apperrors.CodeVerificationFailed, "credential verification failed", err)
}
