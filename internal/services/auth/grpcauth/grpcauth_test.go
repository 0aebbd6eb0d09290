package grpcauth

import (
	"context"
	"errors"
	"testing"

	"github.com/jordancrombie/bsim-sub002/internal/services/auth/token"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type fakeValidator struct {
	claims token.Claims
	err    error
	got    string
}

func (f *fakeValidator) Validate(ctx context.Context, tokenString, use string) (token.Claims, error) {
	f.got = tokenString
	if use != token.UseAccess {
		return token.Claims{}, errors.New("unexpected token use")
	}
	if f.err != nil {
		return token.Claims{}, f.err
	}
	return f.claims, nil
}

func TestWithTokenAppendsMetadataWhenPresent(t *testing.T) {
	ctx := WithToken(context.Background(), "token-123")
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		t.Fatalf("expected outgoing metadata context")
	}
	values := md.Get(AuthorizationHeader)
	if len(values) != 1 || values[0] != "Bearer token-123" {
		t.Fatalf("metadata %s = %v, want [Bearer token-123]", AuthorizationHeader, values)
	}
}

func TestWithTokenNoopWhenEmpty(t *testing.T) {
	ctx := WithToken(context.Background(), "   ")
	md, ok := metadata.FromOutgoingContext(ctx)
	if ok && len(md.Get(AuthorizationHeader)) > 0 {
		t.Fatalf("expected no %s metadata, got %v", AuthorizationHeader, md.Get(AuthorizationHeader))
	}
}

func TestInterceptorPassesThroughWithoutToken(t *testing.T) {
	validator := &fakeValidator{}
	interceptor := UnaryServerInterceptor(validator)

	handled := false
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req any) (any, error) {
		handled = true
		if _, ok := FromContext(ctx); ok {
			t.Fatal("expected no subject without token")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if !handled {
		t.Fatal("expected handler to run")
	}
}

func TestInterceptorResolvesSubject(t *testing.T) {
	validator := &fakeValidator{}
	validator.claims.Subject = "customer-1"
	validator.claims.ClientID = "web"
	validator.claims.GrantID = "grant-1"
	validator.claims.Scopes = []string{"accounts:read"}
	interceptor := UnaryServerInterceptor(validator)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(AuthorizationHeader, "Bearer token-abc"))
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req any) (any, error) {
		subject, err := RequireSubject(ctx)
		if err != nil {
			t.Fatalf("RequireSubject() error = %v", err)
		}
		if subject.PrincipalID != "customer-1" || subject.ClientID != "web" || subject.GrantID != "grant-1" {
			t.Fatalf("subject = %+v", subject)
		}
		if len(subject.Scopes) != 1 || subject.Scopes[0] != "accounts:read" {
			t.Fatalf("scopes = %v", subject.Scopes)
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if validator.got != "token-abc" {
		t.Fatalf("validated token = %q, want token-abc", validator.got)
	}
}

func TestInterceptorRejectsInvalidToken(t *testing.T) {
	validator := &fakeValidator{err: errors.New("bad token")}
	interceptor := UnaryServerInterceptor(validator)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(AuthorizationHeader, "Bearer nope"))
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req any) (any, error) {
		t.Fatal("handler should not run")
		return nil, nil
	})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("status = %v, want Unauthenticated", status.Code(err))
	}
}

func TestInterceptorIgnoresNonBearerHeader(t *testing.T) {
	validator := &fakeValidator{}
	interceptor := UnaryServerInterceptor(validator)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(AuthorizationHeader, "Basic dXNlcjpwYXNz"))
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req any) (any, error) {
		if _, ok := FromContext(ctx); ok {
			t.Fatal("expected no subject for non-bearer header")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
}

func TestRequireSubjectWithoutSubject(t *testing.T) {
	_, err := RequireSubject(context.Background())
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("status = %v, want Unauthenticated", status.Code(err))
	}
}
