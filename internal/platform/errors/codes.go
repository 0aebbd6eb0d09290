// Package errors provides structured, coded error handling for the auth core.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Ceremony errors
	CodeChallengeNotFound  Code = "CHALLENGE_NOT_FOUND"
	CodeCredentialNotFound Code = "CREDENTIAL_NOT_FOUND"
	CodeSignatureInvalid   Code = "SIGNATURE_INVALID"
	CodeOriginMismatch     Code = "ORIGIN_MISMATCH"
	CodeCounterRegression  Code = "COUNTER_REGRESSION"
	CodeVerificationFailed Code = "VERIFICATION_FAILED"

	// Principal errors
	CodePrincipalEmptyID          Code = "PRINCIPAL_EMPTY_ID"
	CodePrincipalEmptyDisplayName Code = "PRINCIPAL_EMPTY_DISPLAY_NAME"
	CodePrincipalInvalidEmail     Code = "PRINCIPAL_INVALID_EMAIL"

	// Credential errors
	CodeCredentialAlreadyExists      Code = "CREDENTIAL_ALREADY_EXISTS"
	CodeCredentialInvalidDeviceClass Code = "CREDENTIAL_INVALID_DEVICE_CLASS"
	CodeCredentialInvalidTransport   Code = "CREDENTIAL_INVALID_TRANSPORT"

	// Artifact errors
	CodeArtifactInvalidKind  Code = "ARTIFACT_INVALID_KIND"
	CodeArtifactEmptyID      Code = "ARTIFACT_EMPTY_ID"
	CodeArtifactGrantRevoked Code = "ARTIFACT_GRANT_REVOKED"

	// Consent errors
	CodeConsentEmptySubject     Code = "CONSENT_EMPTY_SUBJECT"
	CodeConsentEmptyClient      Code = "CONSENT_EMPTY_CLIENT"
	CodeConsentExpiredOrRevoked Code = "CONSENT_EXPIRED_OR_REVOKED"

	// Token errors
	CodeTokenInvalid  Code = "TOKEN_INVALID"
	CodeTokenConsumed Code = "TOKEN_CONSUMED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps the domain code to the gRPC status code the route layer
// should surface.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodePrincipalEmptyID,
		CodePrincipalEmptyDisplayName,
		CodePrincipalInvalidEmail,
		CodeCredentialInvalidDeviceClass,
		CodeCredentialInvalidTransport,
		CodeArtifactInvalidKind,
		CodeArtifactEmptyID,
		CodeConsentEmptySubject,
		CodeConsentEmptyClient:
		return codes.InvalidArgument

	// Unauthenticated - every ceremony failure collapses to one generic
	// signal so callers cannot enumerate credentials or ceremony state.
	case CodeChallengeNotFound,
		CodeCredentialNotFound,
		CodeSignatureInvalid,
		CodeOriginMismatch,
		CodeCounterRegression,
		CodeVerificationFailed,
		CodeTokenInvalid,
		CodeTokenConsumed:
		return codes.Unauthenticated

	// PermissionDenied - authorization-layer failures, reported
	// separately from authentication failures.
	case CodeConsentExpiredOrRevoked:
		return codes.PermissionDenied

	// FailedPrecondition - state doesn't allow operation
	case CodeArtifactGrantRevoked:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return codes.NotFound

	// AlreadyExists - unique resource constraint
	case CodeCredentialAlreadyExists:
		return codes.AlreadyExists

	default:
		return codes.Internal
	}
}
