// Package telemetry records internal security events for the auth service.
package telemetry

import (
	"context"
	"log"
	"time"

	"github.com/jordancrombie/bsim-sub002/internal/platform/id"
	"github.com/jordancrombie/bsim-sub002/internal/services/auth/storage"
)

// Event kinds emitted by the auth service. Detailed failure causes are
// recorded here even when the external response is a generic denial.
const (
	KindRegistrationSucceeded = "registration.succeeded"
	KindRegistrationFailed    = "registration.failed"
	KindLoginSucceeded        = "login.succeeded"
	KindLoginFailed           = "login.failed"
	KindCounterRegression     = "credential.counter_regression"
	KindConsentRevoked        = "consent.revoked"
	KindGrantRevoked          = "grant.revoked"
)

// Emitter records security events. Emission failures are logged and swallowed
// so that telemetry never blocks an auth decision.
type Emitter struct {
	store storage.SecurityEventStore
	clock func() time.Time
}

// NewEmitter creates a new security event emitter.
func NewEmitter(store storage.SecurityEventStore) *Emitter {
	return &Emitter{store: store, clock: time.Now}
}

// WithClock overrides the time source, for tests.
func (e *Emitter) WithClock(clock func() time.Time) *Emitter {
	e.clock = clock
	return e
}

// Emit records a security event. It is a no-op when the store is nil.
func (e *Emitter) Emit(ctx context.Context, kind, principalID, detail string) {
	if e == nil || e.store == nil {
		return
	}
	now := time.Now().UTC()
	if e.clock != nil {
		now = e.clock().UTC()
	}
	eventID, err := id.NewID()
	if err != nil {
		log.Printf("telemetry: generate event id: %v", err)
		return
	}
	evt := storage.SecurityEvent{
		ID:          eventID,
		Kind:        kind,
		PrincipalID: principalID,
		Detail:      detail,
		Timestamp:   now,
	}
	if err := e.store.AppendSecurityEvent(ctx, evt); err != nil {
		log.Printf("telemetry: append event %s: %v", kind, err)
	}
}
