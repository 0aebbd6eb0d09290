// Package grpcauth propagates authenticated caller identity over gRPC metadata.
package grpcauth

import (
	"context"
	"strings"

	"github.com/jordancrombie/bsim-sub002/internal/services/auth/token"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// AuthorizationHeader carries the bearer access token on gRPC calls.
const AuthorizationHeader = "authorization"

const bearerPrefix = "Bearer "

// Subject identifies the authenticated caller resolved from an access token.
type Subject struct {
	PrincipalID string
	ClientID    string
	GrantID     string
	Scopes      []string
}

type subjectContextKey struct{}

// TokenValidator verifies an access token and returns its claims.
type TokenValidator interface {
	Validate(ctx context.Context, tokenString, use string) (token.Claims, error)
}

// WithToken returns a context carrying bearer token metadata for outgoing calls.
func WithToken(ctx context.Context, tokenString string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, AuthorizationHeader, bearerPrefix+tokenString)
}

// FromContext returns the authenticated subject resolved by the interceptor.
func FromContext(ctx context.Context) (Subject, bool) {
	if ctx == nil {
		return Subject{}, false
	}
	subject, ok := ctx.Value(subjectContextKey{}).(Subject)
	return subject, ok
}

// RequireSubject returns the authenticated subject or an Unauthenticated status.
func RequireSubject(ctx context.Context) (Subject, error) {
	subject, ok := FromContext(ctx)
	if !ok {
		return Subject{}, status.Error(codes.Unauthenticated, "authentication required")
	}
	return subject, nil
}

// UnaryServerInterceptor resolves bearer tokens into an authenticated subject.
//
// Calls without an authorization header pass through unauthenticated so
// handlers decide whether identity is required. A present but invalid token
// fails the call.
func UnaryServerInterceptor(validator TokenValidator) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		tokenString, ok := bearerToken(ctx)
		if !ok {
			return handler(ctx, req)
		}
		if validator == nil {
			return nil, status.Error(codes.Unauthenticated, "authentication unavailable")
		}
		claims, err := validator.Validate(ctx, tokenString, token.UseAccess)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid access token")
		}
		subject := Subject{
			PrincipalID: claims.Subject,
			ClientID:    claims.ClientID,
			GrantID:     claims.GrantID,
			Scopes:      claims.Scopes,
		}
		return handler(context.WithValue(ctx, subjectContextKey{}, subject), req)
	}
}

func bearerToken(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	values := md.Get(AuthorizationHeader)
	if len(values) == 0 {
		return "", false
	}
	raw := strings.TrimSpace(values[0])
	if !strings.HasPrefix(raw, bearerPrefix) {
		return "", false
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
	if tokenString == "" {
		return "", false
	}
	return tokenString, true
}
