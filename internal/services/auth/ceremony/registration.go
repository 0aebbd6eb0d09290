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

	"github.com/jordancrombie/bsim-sub002/internal/services/auth/storage"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/telemetry"
)

// RegistrationOptions is the bundle the route layer relays to the client
// device: challenge, relying-party identity, principal display info,
// exclusion list, and algorithm preferences, encoded as standard WebAuthn
// creation options.
type RegistrationOptions struct {
	PrincipalID string
	OptionsJSON []byte
	ExpiresAt   time.Time
}

// RegistrationResult reports a completed registration ceremony.
type RegistrationResult struct {
	Verified   bool
	Credential storage.Credential
}

// BeginRegistration issues creation options for the principal. Existing
// credential ids populate the exclusion list so the same authenticator
// cannot be registered twice.
func (s *Service) BeginRegistration(ctx context.Context, principalID string) (*RegistrationOptions, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, fmt.Errorf("principal id is required")
	}

	base, err := s.principals.GetPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	user, err := s.loadCeremonyUser(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("load principal credentials: %w", err)
	}

	opts := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(user.credentials) > 0 {
		opts = append(opts, webauthn.WithExclusions(webauthn.Credentials(user.credentials).CredentialDescriptors()))
	}

	creation, session, err := s.rp.BeginRegistration(user, opts...)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}

	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encode ceremony state: %w", err)
	}
	issued, err := s.challenges.Issue(ctx, base.ID, sessionJSON)
	if err != nil {
		return nil, err
	}

	optionsJSON, err := json.Marshal(creation)
	if err != nil {
		return nil, fmt.Errorf("encode creation options: %w", err)
	}
	return &RegistrationOptions{
		PrincipalID: base.ID,
		OptionsJSON: optionsJSON,
		ExpiresAt:   issued.ExpiresAt,
	}, nil
}

// FinishRegistration consumes the principal's challenge and verifies the
// signed creation response. The challenge is spent even when verification
// fails; nothing is persisted unless every check passes.
func (s *Service) FinishRegistration(ctx context.Context, principalID string, responseJSON []byte) (*RegistrationResult, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, fmt.Errorf("principal id is required")
	}
	if len(responseJSON) == 0 {
		return nil, fmt.Errorf("credential response is required")
	}

	consumed, err := s.challenges.Consume(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			s.events.Emit(ctx, telemetry.KindRegistrationFailed, principalID, "challenge not found")
		}
		return nil, err
	}
	var session webauthn.SessionData
	if err := json.Unmarshal(consumed.Value, &session); err != nil {
		return nil, fmt.Errorf("decode ceremony state: %w", err)
	}

	base, err := s.principals.GetPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	user, err := s.loadCeremonyUser(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("load principal credentials: %w", err)
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		coded := classifyVerificationError(err)
		s.events.Emit(ctx, telemetry.KindRegistrationFailed, base.ID, string(coded.Code))
		return nil, coded
	}
	credential, err := s.rp.CreateCredential(user, session, parsed)
	if err != nil {
		coded := classifyVerificationError(err)
		s.events.Emit(ctx, telemetry.KindRegistrationFailed, base.ID, string(coded.Code))
		return nil, coded
	}

	record, err := credentialRecord(credential, base.ID, s.clock().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.credentials.InsertCredential(ctx, record); err != nil {
		return nil, err
	}
	s.events.Emit(ctx, telemetry.KindRegistrationSucceeded, base.ID, record.CredentialID)

	return &RegistrationResult{Verified: true, Credential: record}, nil
}
