package ceremony

import (
	"context"
	"errors"
	"testing"

	"github.com/descope/virtualwebauthn"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/storage"
)

func TestCredentialsListsAllForPrincipal(t *testing.T) {
	env := newCeremonyEnv(t)
	env.putPrincipal(t, "customer-1", "Avery", "avery@example.com")
	authenticator := virtualwebauthn.NewAuthenticator()
	_, first := env.register(t, "customer-1", &authenticator)
	_, second := env.register(t, "customer-1", &authenticator)

	records, err := env.service.Credentials(context.Background(), "customer-1")
	if err != nil {
		t.Fatalf("Credentials() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	seen := map[string]bool{}
	for _, record := range records {
		seen[record.CredentialID] = true
	}
	if !seen[first.CredentialID] || !seen[second.CredentialID] {
		t.Fatalf("missing registered credentials in %v", seen)
	}
}

func TestCredentialsUnknownPrincipal(t *testing.T) {
	env := newCeremonyEnv(t)

	if _, err := env.service.Credentials(context.Background(), "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Credentials() error = %v, want not found", err)
	}
}

func TestRemoveCredential(t *testing.T) {
	env := newCeremonyEnv(t)
	env.putPrincipal(t, "customer-1", "Avery", "avery@example.com")
	authenticator := virtualwebauthn.NewAuthenticator()
	_, record := env.register(t, "customer-1", &authenticator)

	if err := env.service.RemoveCredential(context.Background(), "customer-1", record.CredentialID); err != nil {
		t.Fatalf("RemoveCredential() error = %v", err)
	}
	records, err := env.service.Credentials(context.Background(), "customer-1")
	if err != nil {
		t.Fatalf("Credentials() error = %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("len(records) = %d, want 0", len(records))
	}
}

func TestRemoveCredentialOwnedByOtherPrincipal(t *testing.T) {
	env := newCeremonyEnv(t)
	env.putPrincipal(t, "customer-1", "Avery", "avery@example.com")
	env.putPrincipal(t, "customer-2", "Blake", "blake@example.com")
	authenticator := virtualwebauthn.NewAuthenticator()
	_, record := env.register(t, "customer-1", &authenticator)

	err := env.service.RemoveCredential(context.Background(), "customer-2", record.CredentialID)
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("RemoveCredential() error = %v, want ErrCredentialNotFound", err)
	}

	records, err := env.service.Credentials(context.Background(), "customer-1")
	if err != nil {
		t.Fatalf("Credentials() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
}

func TestRemoveCredentialUnknown(t *testing.T) {
	env := newCeremonyEnv(t)
	env.putPrincipal(t, "customer-1", "Avery", "avery@example.com")

	err := env.service.RemoveCredential(context.Background(), "customer-1", "missing")
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("RemoveCredential() error = %v, want ErrCredentialNotFound", err)
	}
}
