// Package storage defines the persistence contracts for the auth core:
// principals, WebAuthn credentials, ceremony challenges, protocol artifacts,
// and consent records. Implementations live in subpackages.
package storage
