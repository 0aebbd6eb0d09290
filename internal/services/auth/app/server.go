// Package server wires the auth runtime and gRPC lifecycle.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jordancrombie/bsim-sub002/internal/platform/config"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/artifact"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/ceremony"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/challenge"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/consent"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/grpcauth"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/passkey"
	authsqlite "github.com/jordancrombie/bsim-sub002/internal/services/auth/storage/sqlite"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/telemetry"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/token"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

type serverEnv struct {
	DBPath string `env:"BSIM_AUTH_DB_PATH"`
}

func loadServerEnv() serverEnv {
	var cfg serverEnv
	_ = config.ParseEnv(&cfg)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "auth.db")
	}
	return cfg
}

// Engine bundles the credential and session lifecycle components so hosting
// services can drive ceremonies, artifacts, consents, and tokens in-process.
type Engine struct {
	Ceremonies *ceremony.Service
	Challenges *challenge.Store
	Artifacts  *artifact.Store
	Consents   *consent.Registry
	Tokens     *token.Issuer
	Events     *telemetry.Emitter
}

// Server hosts the auth engine and its storage lifecycle.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	store      *authsqlite.Store
	engine     *Engine
}

// New creates a configured auth server listening on the provided port.
func New(port int) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	store, err := openAuthStore()
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	engine, err := buildEngine(store)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(grpcauth.UnaryServerInterceptor(engine.Tokens)),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		store:      store,
		engine:     engine,
	}, nil
}

func buildEngine(store *authsqlite.Store) (*Engine, error) {
	passkeyConfig := passkey.LoadConfigFromEnv()
	tokenConfig := token.LoadConfigFromEnv()
	if strings.TrimSpace(tokenConfig.Secret) == "" {
		secret, err := ephemeralSecret()
		if err != nil {
			return nil, err
		}
		log.Printf("BSIM_TOKEN_SECRET not set; issued tokens will not survive restarts")
		tokenConfig.Secret = secret
	}

	events := telemetry.NewEmitter(store)
	challenges := challenge.NewStore(store, passkeyConfig.ChallengeTTL)
	ceremonies, err := ceremony.NewService(store, store, challenges, events, passkeyConfig)
	if err != nil {
		return nil, fmt.Errorf("build ceremony service: %w", err)
	}
	artifacts := artifact.NewStore(store)
	tokens, err := token.NewIssuer(artifacts, tokenConfig)
	if err != nil {
		return nil, fmt.Errorf("build token issuer: %w", err)
	}

	return &Engine{
		Ceremonies: ceremonies,
		Challenges: challenges,
		Artifacts:  artifacts,
		Consents:   consent.NewRegistry(store),
		Tokens:     tokens,
		Events:     events,
	}, nil
}

// Engine returns the wired lifecycle components.
func (s *Server) Engine() *Engine {
	if s == nil {
		return nil
	}
	return s.engine
}

// Addr returns the listener address for the auth server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves an auth server until the context ends.
func Run(ctx context.Context, port int) error {
	server, err := New(port)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the auth server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	s.StartCleanup(serverCtx, 5*time.Minute)

	log.Printf("auth server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}

	select {
	case <-ctx.Done():
		if s.health != nil {
			s.health.Shutdown()
		}
		s.grpcServer.GracefulStop()
		return handleErr(<-serveErr)
	case err := <-serveErr:
		return handleErr(err)
	}
}

// StartCleanup starts periodic expiry cleanup for challenges and artifacts.
//
// This keeps abandoned ceremony state and expired protocol records from
// accumulating without requiring a separate maintenance process.
func (s *Server) StartCleanup(ctx context.Context, interval time.Duration) {
	if s == nil || s.store == nil || interval <= 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now().UTC()
				if err := s.store.DeleteExpiredChallenges(ctx, now); err != nil {
					log.Printf("cleanup challenges: %v", err)
				}
				if err := s.store.DeleteExpiredArtifacts(ctx, now); err != nil {
					log.Printf("cleanup artifacts: %v", err)
				}
			}
		}
	}()
}

func openAuthStore() (*authsqlite.Store, error) {
	env := loadServerEnv()
	if dir := filepath.Dir(env.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := authsqlite.Open(env.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open auth sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close auth store: %v", err)
		}
	}
}

func ephemeralSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate ephemeral token secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
