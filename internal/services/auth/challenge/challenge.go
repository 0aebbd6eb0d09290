// Package challenge issues and consumes single-use ceremony challenges.
package challenge

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/jordancrombie/bsim-sub002/internal/platform/errors"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/storage"
)

// valueSize is the minted challenge entropy in bytes.
const valueSize = 32

// DefaultTTL bounds how long an issued challenge stays consumable.
const DefaultTTL = 5 * time.Minute

// ErrChallengeNotFound covers never-issued, expired, and already-consumed
// challenges uniformly. Callers cannot distinguish these cases; the ambiguity
// avoids leaking ceremony state to an attacker.
var ErrChallengeNotFound = apperrors.New(apperrors.CodeChallengeNotFound, "challenge not found")

// Store issues single-use challenges keyed by a principal identifier or an
// anonymous session key. The backing store is the shared database, never a
// process-local map, so challenges survive restarts and scale horizontally.
type Store struct {
	store storage.ChallengeStore
	ttl   time.Duration
	clock func() time.Time
}

// NewStore creates a challenge store with the given TTL. A zero TTL falls
// back to DefaultTTL.
func NewStore(store storage.ChallengeStore, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{store: store, ttl: ttl, clock: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// Issue stores a challenge for the key, replacing any live one. A nil value
// mints a fresh random one; the ceremony layer instead passes its pending
// verification state so the challenge and the state it guards expire
// together. A concurrently-outstanding ceremony for the same key is silently
// invalidated: the second attempt supersedes the first, and the first
// attempt's consume will fail.
func (s *Store) Issue(ctx context.Context, key string, value []byte) (storage.Challenge, error) {
	if s == nil || s.store == nil {
		return storage.Challenge{}, fmt.Errorf("challenge store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return storage.Challenge{}, fmt.Errorf("challenge key is required")
	}

	if len(value) == 0 {
		value = make([]byte, valueSize)
		if _, err := rand.Read(value); err != nil {
			return storage.Challenge{}, fmt.Errorf("generate challenge: %w", err)
		}
	}

	now := s.clock().UTC()
	challenge := storage.Challenge{
		Key:       key,
		Value:     value,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.PutChallenge(ctx, challenge); err != nil {
		return storage.Challenge{}, fmt.Errorf("store challenge: %w", err)
	}
	return challenge, nil
}

// Consume returns and removes the challenge value for the key. The challenge
// is spent whether or not the caller's verification later succeeds.
func (s *Store) Consume(ctx context.Context, key string) (storage.Challenge, error) {
	if s == nil || s.store == nil {
		return storage.Challenge{}, fmt.Errorf("challenge store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return storage.Challenge{}, fmt.Errorf("challenge key is required")
	}

	challenge, err := s.store.TakeChallenge(ctx, key, s.clock().UTC())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Challenge{}, ErrChallengeNotFound
		}
		return storage.Challenge{}, fmt.Errorf("take challenge: %w", err)
	}
	return challenge, nil
}
