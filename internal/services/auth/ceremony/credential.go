package ceremony

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/jordancrombie/bsim-sub002/internal/platform/errors"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/storage"
)

// Device classes stored on a credential, validated as a closed enumeration.
const (
	DeviceClassPlatform      = "platform"
	DeviceClassCrossPlatform = "cross-platform"
)

// allowedTransports is the closed set of transport hints accepted from the
// wire. Unrecognized values are rejected rather than stored untyped.
var allowedTransports = map[string]struct{}{
	"usb":        {},
	"nfc":        {},
	"ble":        {},
	"internal":   {},
	"hybrid":     {},
	"smart-card": {},
	"cable":      {},
}

func normalizeTransports(transports []protocol.AuthenticatorTransport) ([]string, error) {
	if len(transports) == 0 {
		return nil, nil
	}
	normalized := make([]string, 0, len(transports))
	for _, transport := range transports {
		value := string(transport)
		if _, ok := allowedTransports[value]; !ok {
			return nil, apperrors.WithMetadata(apperrors.CodeCredentialInvalidTransport,
				"unrecognized authenticator transport", map[string]string{"transport": value})
		}
		normalized = append(normalized, value)
	}
	return normalized, nil
}

func deviceClass(attachment protocol.AuthenticatorAttachment, transports []string) (string, error) {
	switch attachment {
	case protocol.Platform:
		return DeviceClassPlatform, nil
	case protocol.CrossPlatform:
		return DeviceClassCrossPlatform, nil
	case "":
	default:
		return "", apperrors.WithMetadata(apperrors.CodeCredentialInvalidDeviceClass,
			"unrecognized authenticator attachment", map[string]string{"attachment": string(attachment)})
	}
	// Attachment is optional on the wire; fall back to the transport hints.
	for _, transport := range transports {
		if transport == "internal" {
			return DeviceClassPlatform, nil
		}
	}
	return DeviceClassCrossPlatform, nil
}

// credentialRecord converts a verified webauthn credential into its stored
// form, validating loosely-typed wire fields into closed enumerations.
func credentialRecord(credential *webauthn.Credential, principalID string, createdAt time.Time) (storage.Credential, error) {
	transports, err := normalizeTransports(credential.Transport)
	if err != nil {
		return storage.Credential{}, err
	}
	class, err := deviceClass(credential.Authenticator.Attachment, transports)
	if err != nil {
		return storage.Credential{}, err
	}
	return storage.Credential{
		CredentialID:   encodeCredentialID(credential.ID),
		PrincipalID:    principalID,
		PublicKey:      credential.PublicKey,
		SignCount:      credential.Authenticator.SignCount,
		DeviceClass:    class,
		BackupEligible: credential.Flags.BackupEligible,
		BackedUp:       credential.Flags.BackupState,
		Transports:     transports,
		CreatedAt:      createdAt,
	}, nil
}

// webauthnCredential rebuilds the library credential from its stored form so
// assertion signatures verify against the registered public key.
func webauthnCredential(record storage.Credential) (webauthn.Credential, error) {
	rawID, err := base64.RawURLEncoding.DecodeString(record.CredentialID)
	if err != nil {
		return webauthn.Credential{}, fmt.Errorf("decode credential id %s: %w", record.CredentialID, err)
	}
	transports := make([]protocol.AuthenticatorTransport, 0, len(record.Transports))
	for _, transport := range record.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(transport))
	}
	return webauthn.Credential{
		ID:        rawID,
		PublicKey: record.PublicKey,
		Transport: transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: record.BackupEligible,
			BackupState:    record.BackedUp,
		},
		Authenticator: webauthn.Authenticator{
			SignCount: record.SignCount,
		},
	}, nil
}

func decodeStoredCredentials(records []storage.Credential) ([]webauthn.Credential, error) {
	if len(records) == 0 {
		return nil, nil
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		credential, err := webauthnCredential(record)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, credential)
	}
	return credentials, nil
}
