package token

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jordancrombie/bsim-sub002/internal/services/auth/artifact"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/storage"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/storage/sqlite"
)

func newTestIssuer(t *testing.T) (*Issuer, *artifact.Store) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	artifacts := artifact.NewStore(db)
	issuer, err := NewIssuer(artifacts, Config{
		Issuer:     "bsim-auth",
		Secret:     "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		SessionTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return issuer, artifacts
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	if _, err := NewIssuer(artifact.NewStore(nil), Config{}); err == nil {
		t.Fatal("NewIssuer() without secret succeeded")
	}
}

func TestIssueAndValidateTokens(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	ctx := context.Background()

	grant, err := issuer.IssueGrant(ctx, "customer-1", "fintech-app", 0)
	if err != nil {
		t.Fatalf("IssueGrant() error = %v", err)
	}
	access, refresh, err := issuer.IssueTokens(ctx, "customer-1", "fintech-app", grant.ID, []string{"accounts:read"})
	if err != nil {
		t.Fatalf("IssueTokens() error = %v", err)
	}

	claims, err := issuer.Validate(ctx, access, UseAccess)
	if err != nil {
		t.Fatalf("Validate(access) error = %v", err)
	}
	if claims.Subject != "customer-1" {
		t.Errorf("subject = %s, want customer-1", claims.Subject)
	}
	if claims.GrantID != grant.ID {
		t.Errorf("grant id = %s, want %s", claims.GrantID, grant.ID)
	}
	if len(claims.Scopes) != 1 || claims.Scopes[0] != "accounts:read" {
		t.Errorf("scopes = %v", claims.Scopes)
	}

	if _, err := issuer.Validate(ctx, refresh, UseRefresh); err != nil {
		t.Fatalf("Validate(refresh) error = %v", err)
	}
}

func TestValidateRejectsWrongUse(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	ctx := context.Background()

	grant, err := issuer.IssueGrant(ctx, "customer-1", "fintech-app", 0)
	if err != nil {
		t.Fatalf("IssueGrant() error = %v", err)
	}
	access, _, err := issuer.IssueTokens(ctx, "customer-1", "fintech-app", grant.ID, nil)
	if err != nil {
		t.Fatalf("IssueTokens() error = %v", err)
	}

	if _, err := issuer.Validate(ctx, access, UseRefresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Validate(access as refresh) error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	ctx := context.Background()

	grant, err := issuer.IssueGrant(ctx, "customer-1", "fintech-app", 0)
	if err != nil {
		t.Fatalf("IssueGrant() error = %v", err)
	}
	access, _, err := issuer.IssueTokens(ctx, "customer-1", "fintech-app", grant.ID, nil)
	if err != nil {
		t.Fatalf("IssueTokens() error = %v", err)
	}

	tampered := access[:len(access)-2] + "xx"
	if _, err := issuer.Validate(ctx, tampered, UseAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Validate(tampered) error = %v, want ErrInvalidToken", err)
	}
}

func TestRevokedGrantInvalidatesTokens(t *testing.T) {
	issuer, artifacts := newTestIssuer(t)
	ctx := context.Background()

	grant, err := issuer.IssueGrant(ctx, "customer-1", "fintech-app", 0)
	if err != nil {
		t.Fatalf("IssueGrant() error = %v", err)
	}
	access, refresh, err := issuer.IssueTokens(ctx, "customer-1", "fintech-app", grant.ID, nil)
	if err != nil {
		t.Fatalf("IssueTokens() error = %v", err)
	}

	if _, err := artifacts.RevokeByGrantID(ctx, grant.ID); err != nil {
		t.Fatalf("RevokeByGrantID() error = %v", err)
	}

	// The signatures still verify; the backing artifacts are gone.
	if _, err := issuer.Validate(ctx, access, UseAccess); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate(access) after revoke error = %v, want ErrInvalidToken", err)
	}
	if _, err := issuer.Validate(ctx, refresh, UseRefresh); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate(refresh) after revoke error = %v, want ErrInvalidToken", err)
	}
}

func TestRefreshRotatesAndRejectsReplay(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	ctx := context.Background()

	grant, err := issuer.IssueGrant(ctx, "customer-1", "fintech-app", 0)
	if err != nil {
		t.Fatalf("IssueGrant() error = %v", err)
	}
	_, refresh, err := issuer.IssueTokens(ctx, "customer-1", "fintech-app", grant.ID, []string{"accounts:read"})
	if err != nil {
		t.Fatalf("IssueTokens() error = %v", err)
	}

	newAccess, newRefresh, err := issuer.Refresh(ctx, refresh)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, err := issuer.Validate(ctx, newAccess, UseAccess); err != nil {
		t.Errorf("Validate(rotated access) error = %v", err)
	}
	if _, err := issuer.Validate(ctx, newRefresh, UseRefresh); err != nil {
		t.Errorf("Validate(rotated refresh) error = %v", err)
	}

	if _, _, err := issuer.Refresh(ctx, refresh); !errors.Is(err, ErrTokenConsumed) {
		t.Fatalf("replayed Refresh() error = %v, want ErrTokenConsumed", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	ctx := context.Background()

	issuedAt := time.Now().UTC()
	issuer.WithClock(func() time.Time { return issuedAt })
	grant, err := issuer.IssueGrant(ctx, "customer-1", "fintech-app", 0)
	if err != nil {
		t.Fatalf("IssueGrant() error = %v", err)
	}
	access, _, err := issuer.IssueTokens(ctx, "customer-1", "fintech-app", grant.ID, nil)
	if err != nil {
		t.Fatalf("IssueTokens() error = %v", err)
	}

	issuer.WithClock(func() time.Time { return issuedAt.Add(16 * time.Minute) })
	if _, err := issuer.Validate(ctx, access, UseAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Validate(expired) error = %v, want ErrInvalidToken", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	ctx := context.Background()

	session, err := issuer.IssueSession(ctx, "customer-1")
	if err != nil {
		t.Fatalf("IssueSession() error = %v", err)
	}
	if session.UID == "" || session.ID == "" {
		t.Fatal("session identifiers not set")
	}

	found, err := issuer.LookupSession(ctx, session.UID)
	if err != nil {
		t.Fatalf("LookupSession() error = %v", err)
	}
	if found.SubjectID != "customer-1" {
		t.Errorf("subject = %s, want customer-1", found.SubjectID)
	}
	if found.ID != session.ID {
		t.Errorf("session id = %s, want %s", found.ID, session.ID)
	}

	if err := issuer.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	if _, err := issuer.LookupSession(ctx, session.UID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("LookupSession() after end error = %v, want ErrNotFound", err)
	}
}
