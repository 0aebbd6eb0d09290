package ceremony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/jordancrombie/bsim-sub002/internal/platform/errors"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/passkey"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/storage"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/telemetry"
)

// AuthenticationOptions is the bundle the route layer relays to the client
// device: challenge and, for hinted ceremonies, the allow-list of the
// principal's credential ids, encoded as standard WebAuthn request options.
type AuthenticationOptions struct {
	OptionsJSON []byte
	ExpiresAt   time.Time
}

// AuthenticationResult reports a completed authentication ceremony.
type AuthenticationResult struct {
	Verified   bool
	Principal  storage.Principal
	Credential storage.Credential
}

// BeginAuthentication issues assertion options. A hint (email) scopes the
// allow-list to that principal's credentials; without one the authenticator
// picks a discoverable credential. An unknown hint still returns hint-less
// options so callers cannot probe which emails are registered.
func (s *Service) BeginAuthentication(ctx context.Context, hint string) (*AuthenticationOptions, error) {
	key := challengeKey(hint)

	user, err := s.resolveHintedUser(ctx, key)
	if err != nil {
		return nil, err
	}

	var (
		assertion *protocol.CredentialAssertion
		session   *webauthn.SessionData
	)
	if user != nil {
		assertion, session, err = s.rp.BeginLogin(user)
	} else {
		assertion, session, err = s.rp.BeginDiscoverableLogin()
	}
	if err != nil {
		return nil, fmt.Errorf("begin authentication: %w", err)
	}

	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encode ceremony state: %w", err)
	}
	issued, err := s.challenges.Issue(ctx, key, sessionJSON)
	if err != nil {
		return nil, err
	}

	optionsJSON, err := json.Marshal(assertion)
	if err != nil {
		return nil, fmt.Errorf("encode request options: %w", err)
	}
	return &AuthenticationOptions{OptionsJSON: optionsJSON, ExpiresAt: issued.ExpiresAt}, nil
}

// resolveHintedUser returns the ceremony user for a hinted key, or nil when
// the ceremony should fall back to discoverable credentials: no hint, hint
// not registered, or hinted principal without credentials.
func (s *Service) resolveHintedUser(ctx context.Context, key string) (*ceremonyUser, error) {
	if key == passkey.AnonymousKey {
		return nil, nil
	}
	base, err := s.principals.GetPrincipalByEmail(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	user, err := s.loadCeremonyUser(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("load principal credentials: %w", err)
	}
	if len(user.credentials) == 0 {
		return nil, nil
	}
	return user, nil
}

// FinishAuthentication verifies a signed assertion. The credential is looked
// up by the id embedded in the response, not by principal, so hint-less
// flows resolve the same way. The counter must advance past a previously
// recorded nonzero value; zero-after-zero is tolerated for authenticators
// that never increment.
func (s *Service) FinishAuthentication(ctx context.Context, responseJSON []byte, hint string) (*AuthenticationResult, error) {
	if len(responseJSON) == 0 {
		return nil, fmt.Errorf("credential response is required")
	}

	parsed, err := s.parser.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		coded := classifyVerificationError(err)
		s.events.Emit(ctx, telemetry.KindLoginFailed, "", string(coded.Code))
		return nil, coded
	}

	credentialID := encodeCredentialID(parsed.RawID)
	record, err := s.credentials.GetCredential(ctx, credentialID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.events.Emit(ctx, telemetry.KindLoginFailed, "", string(apperrors.CodeCredentialNotFound))
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}

	consumed, err := s.challenges.Consume(ctx, challengeKey(hint))
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			s.events.Emit(ctx, telemetry.KindLoginFailed, record.PrincipalID, "challenge not found")
		}
		return nil, err
	}
	var session webauthn.SessionData
	if err := json.Unmarshal(consumed.Value, &session); err != nil {
		return nil, fmt.Errorf("decode ceremony state: %w", err)
	}

	owner, err := s.principals.GetPrincipal(ctx, record.PrincipalID)
	if err != nil {
		return nil, err
	}

	if err := s.validateAssertion(ctx, owner, session, parsed); err != nil {
		coded := classifyVerificationError(err)
		s.events.Emit(ctx, telemetry.KindLoginFailed, owner.ID, string(coded.Code))
		return nil, coded
	}

	reported := parsed.Response.AuthenticatorData.Counter
	if record.SignCount != 0 && reported <= record.SignCount {
		s.events.Emit(ctx, telemetry.KindCounterRegression, owner.ID,
			fmt.Sprintf("credential %s reported %d after %d", credentialID, reported, record.SignCount))
		return nil, ErrCounterRegression
	}

	now := s.clock().UTC()
	if err := s.credentials.UpdateCredentialAfterAuth(ctx, credentialID, reported, now); err != nil {
		return nil, fmt.Errorf("update credential: %w", err)
	}
	record.SignCount = reported
	record.LastUsedAt = &now
	s.events.Emit(ctx, telemetry.KindLoginSucceeded, owner.ID, credentialID)

	return &AuthenticationResult{Verified: true, Principal: owner, Credential: record}, nil
}

func (s *Service) validateAssertion(ctx context.Context, owner storage.Principal, session webauthn.SessionData, parsed *protocol.ParsedCredentialAssertionData) error {
	if len(session.UserID) == 0 {
		validatedUser, _, err := s.rp.ValidatePasskeyLogin(s.discoverableUserHandler(ctx), session, parsed)
		if err != nil {
			return err
		}
		validated, ok := validatedUser.(*ceremonyUser)
		if !ok || validated.principal.ID != owner.ID {
			return fmt.Errorf("credential owner mismatch")
		}
		return nil
	}

	user, err := s.loadCeremonyUser(ctx, owner)
	if err != nil {
		return fmt.Errorf("load principal credentials: %w", err)
	}
	_, err = s.rp.ValidateLogin(user, session, parsed)
	return err
}

func (s *Service) discoverableUserHandler(ctx context.Context) webauthn.DiscoverableUserHandler {
	return func(_, userHandle []byte) (webauthn.User, error) {
		principalID := strings.TrimSpace(string(userHandle))
		if principalID == "" {
			return nil, fmt.Errorf("user handle is required")
		}
		base, err := s.principals.GetPrincipal(ctx, principalID)
		if err != nil {
			return nil, err
		}
		return s.loadCeremonyUser(ctx, base)
	}
}
