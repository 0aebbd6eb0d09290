package consent

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jordancrombie/bsim-sub002/internal/services/auth/storage/sqlite"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRegistry(db)
}

func TestGrantAuthorizesResourcesAndScopes(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Grant(ctx, "customer-1", "fintech-app",
		[]string{"accounts:read", "transactions:read"},
		[]string{"acct-A", "acct-B"}, 0)
	if err != nil {
		t.Fatalf("Grant() error = %v", err)
	}

	for _, resource := range []string{"acct-A", "acct-B"} {
		ok, err := registry.IsResourceAuthorized(ctx, "customer-1", "fintech-app", resource)
		if err != nil {
			t.Fatalf("IsResourceAuthorized(%s) error = %v", resource, err)
		}
		if !ok {
			t.Errorf("IsResourceAuthorized(%s) = false, want true", resource)
		}
	}

	ok, err := registry.IsResourceAuthorized(ctx, "customer-1", "fintech-app", "acct-C")
	if err != nil {
		t.Fatalf("IsResourceAuthorized(acct-C) error = %v", err)
	}
	if ok {
		t.Error("resource outside the granted set authorized")
	}

	scopes, err := registry.AuthorizedScopes(ctx, "customer-1", "fintech-app")
	if err != nil {
		t.Fatalf("AuthorizedScopes() error = %v", err)
	}
	if len(scopes) != 2 {
		t.Errorf("scopes = %v, want 2 entries", scopes)
	}
}

func TestRevokeStopsAuthorization(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	if _, err := registry.Grant(ctx, "customer-1", "fintech-app",
		[]string{"accounts:read"}, []string{"acct-A"}, 0); err != nil {
		t.Fatalf("Grant() error = %v", err)
	}
	if err := registry.Revoke(ctx, "customer-1", "fintech-app"); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	ok, err := registry.IsResourceAuthorized(ctx, "customer-1", "fintech-app", "acct-A")
	if err != nil {
		t.Fatalf("IsResourceAuthorized() error = %v", err)
	}
	if ok {
		t.Error("revoked consent still authorizes")
	}

	scopes, err := registry.AuthorizedScopes(ctx, "customer-1", "fintech-app")
	if err != nil {
		t.Fatalf("AuthorizedScopes() error = %v", err)
	}
	if len(scopes) != 0 {
		t.Errorf("scopes after revoke = %v, want empty", scopes)
	}

	// History is preserved even though nothing is active.
	history, err := registry.History(ctx, "customer-1", "fintech-app")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history = %d records, want 1", len(history))
	}
	if history[0].RevokedAt == nil {
		t.Error("revoked record missing revocation timestamp")
	}
}

func TestRevokeWithoutActiveConsent(t *testing.T) {
	registry := newTestRegistry(t)

	err := registry.Revoke(context.Background(), "customer-1", "fintech-app")
	if !errors.Is(err, ErrExpiredOrRevoked) {
		t.Fatalf("Revoke() error = %v, want ErrExpiredOrRevoked", err)
	}
}

func TestRevokeTwice(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	if _, err := registry.Grant(ctx, "customer-1", "fintech-app", nil, nil, 0); err != nil {
		t.Fatalf("Grant() error = %v", err)
	}
	if err := registry.Revoke(ctx, "customer-1", "fintech-app"); err != nil {
		t.Fatalf("first Revoke() error = %v", err)
	}
	if err := registry.Revoke(ctx, "customer-1", "fintech-app"); !errors.Is(err, ErrExpiredOrRevoked) {
		t.Fatalf("second Revoke() error = %v, want ErrExpiredOrRevoked", err)
	}
}

func TestLaterGrantSupersedes(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	base := time.Now().UTC()
	registry.WithClock(func() time.Time { return base })
	if _, err := registry.Grant(ctx, "customer-1", "fintech-app",
		[]string{"accounts:read"}, []string{"acct-A"}, 0); err != nil {
		t.Fatalf("first Grant() error = %v", err)
	}

	registry.WithClock(func() time.Time { return base.Add(time.Minute) })
	if _, err := registry.Grant(ctx, "customer-1", "fintech-app",
		[]string{"transactions:read"}, []string{"acct-B"}, 0); err != nil {
		t.Fatalf("second Grant() error = %v", err)
	}

	// The later grant supersedes rather than merges.
	okOld, err := registry.IsResourceAuthorized(ctx, "customer-1", "fintech-app", "acct-A")
	if err != nil {
		t.Fatalf("IsResourceAuthorized(acct-A) error = %v", err)
	}
	if okOld {
		t.Error("superseded grant still authorizes acct-A")
	}
	okNew, err := registry.IsResourceAuthorized(ctx, "customer-1", "fintech-app", "acct-B")
	if err != nil {
		t.Fatalf("IsResourceAuthorized(acct-B) error = %v", err)
	}
	if !okNew {
		t.Error("latest grant does not authorize acct-B")
	}

	scopes, err := registry.AuthorizedScopes(ctx, "customer-1", "fintech-app")
	if err != nil {
		t.Fatalf("AuthorizedScopes() error = %v", err)
	}
	if len(scopes) != 1 || scopes[0] != "transactions:read" {
		t.Errorf("scopes = %v, want [transactions:read]", scopes)
	}
}

func TestExpiredConsentStopsAuthorizing(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	base := time.Now().UTC()
	registry.WithClock(func() time.Time { return base })
	if _, err := registry.Grant(ctx, "customer-1", "fintech-app",
		[]string{"accounts:read"}, []string{"acct-A"}, time.Hour); err != nil {
		t.Fatalf("Grant() error = %v", err)
	}

	registry.WithClock(func() time.Time { return base.Add(2 * time.Hour) })
	ok, err := registry.IsResourceAuthorized(ctx, "customer-1", "fintech-app", "acct-A")
	if err != nil {
		t.Fatalf("IsResourceAuthorized() error = %v", err)
	}
	if ok {
		t.Error("expired consent still authorizes")
	}
}

func TestPairsAreIndependent(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	if _, err := registry.Grant(ctx, "customer-1", "app-a", nil, []string{"acct-A"}, 0); err != nil {
		t.Fatalf("Grant(app-a) error = %v", err)
	}
	if _, err := registry.Grant(ctx, "customer-1", "app-b", nil, []string{"acct-B"}, 0); err != nil {
		t.Fatalf("Grant(app-b) error = %v", err)
	}
	if err := registry.Revoke(ctx, "customer-1", "app-a"); err != nil {
		t.Fatalf("Revoke(app-a) error = %v", err)
	}

	ok, err := registry.IsResourceAuthorized(ctx, "customer-1", "app-b", "acct-B")
	if err != nil {
		t.Fatalf("IsResourceAuthorized(app-b) error = %v", err)
	}
	if !ok {
		t.Error("revoking app-a consent affected app-b")
	}
}

func TestGrantValidatesPair(t *testing.T) {
	registry := newTestRegistry(t)

	if _, err := registry.Grant(context.Background(), " ", "client", nil, nil, 0); !errors.Is(err, ErrEmptySubject) {
		t.Errorf("blank subject error = %v, want ErrEmptySubject", err)
	}
	if _, err := registry.Grant(context.Background(), "subject", "", nil, nil, 0); !errors.Is(err, ErrEmptyClient) {
		t.Errorf("blank client error = %v, want ErrEmptyClient", err)
	}
}

func TestGrantDeduplicatesSets(t *testing.T) {
	registry := newTestRegistry(t)

	record, err := registry.Grant(context.Background(), "customer-1", "fintech-app",
		[]string{"accounts:read", "accounts:read", " "}, []string{"acct-A", "acct-A"}, 0)
	if err != nil {
		t.Fatalf("Grant() error = %v", err)
	}
	if len(record.Scopes) != 1 {
		t.Errorf("scopes = %v, want deduplicated single entry", record.Scopes)
	}
	if len(record.ResourceIDs) != 1 {
		t.Errorf("resource ids = %v, want deduplicated single entry", record.ResourceIDs)
	}
}
