// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/simally/sessionkit/lib/clock"
	"github.com/simally/sessionkit/lib/secret"
)

// DefaultBestEffortTimeout bounds each fire-and-forget downstream
// call (companion start/end, grant revocation, remote invalidation,
// activity heartbeat). The timeout keeps a hung collaborator from
// pinning a goroutine forever; it never delays the caller, who has
// already returned.
const DefaultBestEffortTimeout = 10 * time.Second

// Config carries the manager's collaborators and policy knobs.
// Gateway is required; everything else has a usable zero value.
type Config struct {
	// Gateway is the remote authority for registration,
	// authentication, validation, and invalidation. Required.
	Gateway AuthGateway

	// Store persists the session between program runs. Nil disables
	// persistence: the session lives only as long as the manager.
	Store Store

	// Coordinator manages the dependent subsystems (companion
	// conversation, third-party grant). Nil disables both.
	Coordinator Coordinator

	// Clock is the time source for the inactivity monitor and the
	// expiry watchdog. Nil means the real clock; tests inject a fake.
	Clock clock.Clock

	// Logger receives lifecycle events and best-effort failures.
	// Nil means slog.Default().
	Logger *slog.Logger

	// InactivityThreshold is how long the user may go without a
	// tracked signal before automatic sign-out. Zero means
	// DefaultInactivityThreshold (30 minutes).
	InactivityThreshold time.Duration

	// ExpiryPollInterval is how often the watchdog checks the
	// session's expiry against the wall clock. Zero means
	// DefaultExpiryPollInterval (one minute).
	ExpiryPollInterval time.Duration

	// TouchInterval is the minimum spacing between best-effort
	// activity heartbeats sent to the gateway while the user is
	// active. Zero disables heartbeats entirely.
	TouchInterval time.Duration

	// BestEffortTimeout bounds each fire-and-forget downstream call.
	// Zero means DefaultBestEffortTimeout.
	BestEffortTimeout time.Duration

	// DisableVerifyActivityReset stops a successful Verify from
	// counting as user activity. By default verification resets the
	// inactivity clock, matching the view that a deliberate
	// credential round-trip is evidence the user is present.
	DisableVerifyActivityReset bool
}

// Manager is the single source of truth for session identity. It
// owns the authenticated/unauthenticated state machine, sequences
// every side effect (persistence, listener notification, dependent
// subsystem coordination), and runs the two background triggers that
// can tear a session down on their own: the inactivity monitor and
// the expiry watchdog.
//
// All methods are safe for concurrent use. The accessors
// (CurrentSession, CurrentUser, IsAuthenticated) are lock-free and
// safe to call from inside listener callbacks.
type Manager struct {
	gateway     AuthGateway
	store       Store
	coordinator Coordinator
	clk         clock.Clock
	logger      *slog.Logger

	hub      *Hub
	monitor  *activityMonitor
	watchdog *expiryWatchdog

	touchInterval              time.Duration
	bestEffortTimeout          time.Duration
	disableVerifyActivityReset bool

	// mu serializes state transitions. The current session is
	// mirrored in currentPtr so reads never contend with a
	// transition in progress.
	mu         sync.Mutex
	current    *Session
	generation uint64
	lastTouch  time.Time
	closed     bool

	currentPtr atomic.Pointer[Session]

	// background tracks the fire-and-forget goroutines so Close can
	// drain them. Nothing in any caller's critical path waits on it.
	background sync.WaitGroup
}

// NewManager constructs a manager and rehydrates any persisted
// session from the store. A valid persisted session is installed
// immediately: monitors start, and listeners registered afterwards
// see it on subscription. Rehydration never starts a companion
// session and never contacts the gateway; call Verify for an explicit
// remote check.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("session: Gateway is required")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bestEffortTimeout := cfg.BestEffortTimeout
	if bestEffortTimeout <= 0 {
		bestEffortTimeout = DefaultBestEffortTimeout
	}

	m := &Manager{
		gateway:                    cfg.Gateway,
		store:                      cfg.Store,
		coordinator:                cfg.Coordinator,
		clk:                        clk,
		logger:                     logger,
		hub:                        NewHub(logger),
		touchInterval:              cfg.TouchInterval,
		bestEffortTimeout:          bestEffortTimeout,
		disableVerifyActivityReset: cfg.DisableVerifyActivityReset,
	}
	m.monitor = newActivityMonitor(clk, cfg.InactivityThreshold, m.idleSignOut, logger)
	m.watchdog = newExpiryWatchdog(clk, cfg.ExpiryPollInterval, m.checkExpiry, logger)

	m.rehydrate()
	return m, nil
}

// rehydrate installs a persisted session, if the store holds a live
// one. The store contract already discards malformed or expired
// content; the expiry re-check here guards against a store
// implementation with a different clock.
func (m *Manager) rehydrate() {
	if m.store == nil {
		return
	}

	persisted, err := m.store.Load()
	if err != nil {
		m.logger.Warn("loading persisted session failed, continuing without", "error", err)
		return
	}
	if persisted == nil {
		return
	}
	if err := persisted.Validate(); err != nil {
		m.logger.Warn("persisted session is incomplete, discarding", "error", err)
		return
	}
	now := m.clk.Now()
	if persisted.Expired(now) {
		m.logger.Info("persisted session has expired, discarding", "session", persisted.Fingerprint())
		return
	}

	m.mu.Lock()
	m.generation++
	m.current = persisted.clone()
	m.currentPtr.Store(persisted.clone())
	m.lastTouch = time.Time{}
	m.watchdog.start()
	// A fresh program start is itself evidence of activity: the
	// inactivity window begins now rather than carrying over from
	// the previous run.
	m.monitor.record(SignalVisible)
	m.hub.Publish(persisted)
	m.mu.Unlock()

	m.logger.Info("session restored",
		"user_id", persisted.User.ID,
		"username", persisted.User.Username,
		"session", persisted.Fingerprint(),
		"expires_at", persisted.ExpiresAt,
	)
}

// SignUp registers a new account and signs it in. Application-level
// rejections (*AuthError, e.g. a duplicate username) return verbatim
// with no local mutation; transport failures wrap
// ErrGatewayUnavailable. On success the returned session is installed
// as current, persisted, and broadcast, and the companion session
// starts in the background without blocking the return.
func (m *Manager) SignUp(ctx context.Context, username string, password *secret.Buffer, fullName string) error {
	generation, err := m.beginAuth()
	if err != nil {
		return err
	}

	established, err := m.gateway.Register(ctx, username, password, fullName)
	if err != nil {
		return normalizeGatewayError(err)
	}
	return m.install(established, generation)
}

// SignIn authenticates existing credentials. Same contract as SignUp.
func (m *Manager) SignIn(ctx context.Context, username string, password *secret.Buffer) error {
	generation, err := m.beginAuth()
	if err != nil {
		return err
	}

	established, err := m.gateway.Authenticate(ctx, username, password)
	if err != nil {
		return normalizeGatewayError(err)
	}
	return m.install(established, generation)
}

// beginAuth captures the generation a sign-in or sign-up observed
// before its gateway call. The result is installed only if the
// generation is unchanged when the call completes.
func (m *Manager) beginAuth() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	return m.generation, nil
}

// install makes s the current session, provided no other transition
// happened since expectedGeneration was captured. A stale result is
// discarded with ErrSuperseded: a slow sign-in must never resurrect a
// session that a concurrent sign-out already cleared.
func (m *Manager) install(s *Session, expectedGeneration uint64) error {
	if s == nil {
		return fmt.Errorf("%w: authority returned no session", ErrGatewayUnavailable)
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	if s.Expired(m.clk.Now()) {
		return fmt.Errorf("%w: authority returned an already-expired session", ErrGatewayUnavailable)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.generation != expectedGeneration {
		m.mu.Unlock()
		// The authority issued a session nobody will use. Revoke it
		// in the background so it does not linger server-side.
		orphanToken := s.Token
		m.goBestEffort("orphaned session invalidation", func(ctx context.Context) error {
			return m.gateway.Invalidate(ctx, orphanToken)
		})
		m.logger.Info("discarding stale authentication result", "session", s.Fingerprint())
		return ErrSuperseded
	}

	m.generation++
	m.current = s.clone()
	m.currentPtr.Store(s.clone())
	// The sign-in round-trip itself just touched the authority.
	m.lastTouch = m.clk.Now()

	if m.store != nil {
		if err := m.store.Save(s); err != nil {
			m.logger.Warn("persisting session failed, re-login will be required next launch", "error", err)
		}
	}

	m.watchdog.start()
	m.monitor.record(SignalVisible)
	m.hub.Publish(s)
	userID := s.User.ID
	m.mu.Unlock()

	if m.coordinator != nil {
		m.goBestEffort("companion session start", func(ctx context.Context) error {
			return m.coordinator.StartCompanionSession(ctx, userID)
		})
	}

	m.logger.Info("session established",
		"user_id", s.User.ID,
		"username", s.User.Username,
		"session", s.Fingerprint(),
		"expires_at", s.ExpiresAt,
	)
	return nil
}

// SignOut clears the session. Idempotent: with no active session it
// is a no-op. With one, it fires best-effort goroutines to revoke the
// third-party grant, end the companion conversation, and invalidate
// the token remotely, then unconditionally clears local state. The
// local teardown never waits on the downstream calls; each carries
// its own timeout and logs its own failure.
func (m *Manager) SignOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.current == nil {
		// Nothing local to clear, but the call is still a barrier
		// for in-flight authentication: a sign-out racing a slow
		// sign-in must win, so the generation advances and the late
		// result is discarded on arrival.
		m.generation++
		return
	}
	m.signOutLocked("signed out")
}

// signOutLocked runs full sign-out semantics for the active session:
// best-effort downstream cleanup plus unconditional local teardown.
// Caller holds m.mu with m.current != nil.
func (m *Manager) signOutLocked(reason string) {
	s := m.current
	userID := s.User.ID
	token := s.Token

	if m.coordinator != nil {
		m.goBestEffort("third-party grant revocation", func(ctx context.Context) error {
			return m.coordinator.RevokeThirdPartyGrant(ctx, userID)
		})
		m.goBestEffort("companion session end", func(ctx context.Context) error {
			return m.coordinator.EndCompanionSession(ctx, userID)
		})
	}
	m.goBestEffort("remote session invalidation", func(ctx context.Context) error {
		return m.gateway.Invalidate(ctx, token)
	})

	m.teardownLocked(reason)
}

// teardownLocked unconditionally clears local state: in-memory
// session, persisted record, both background timers, and a nil
// broadcast to every listener. This path must always complete
// regardless of what the best-effort goroutines do; it performs no
// network I/O and waits on nothing. Caller holds m.mu.
func (m *Manager) teardownLocked(reason string) {
	cleared := m.current
	m.current = nil
	m.currentPtr.Store(nil)
	m.generation++
	m.lastTouch = time.Time{}

	m.monitor.stop()
	m.watchdog.stop()

	if m.store != nil {
		if err := m.store.Clear(); err != nil {
			m.logger.Warn("clearing persisted session failed", "error", err)
		}
	}

	m.hub.Publish(nil)

	if cleared != nil {
		m.logger.Info("session cleared",
			"reason", reason,
			"user_id", cleared.User.ID,
			"session", cleared.Fingerprint(),
		)
	}
}

// Verify confirms the current session with the remote authority.
// With no session it returns false immediately. A negative or
// erroring response drives full sign-out semantics and returns false;
// staleness is never surfaced as an error, the nil broadcast is the
// signal. On success the inactivity clock resets (unless disabled by
// policy) and Verify returns true.
func (m *Manager) Verify(ctx context.Context) bool {
	m.mu.Lock()
	if m.closed || m.current == nil {
		m.mu.Unlock()
		return false
	}
	token := m.current.Token
	generation := m.generation
	m.mu.Unlock()

	user, err := m.gateway.Validate(ctx, token)

	m.mu.Lock()
	if m.closed || m.current == nil || m.generation != generation {
		// The session this verification was about is already gone or
		// replaced. The answer, whichever way it went, is stale.
		m.mu.Unlock()
		return false
	}

	if err != nil {
		m.logger.Info("session verification failed", "session", m.current.Fingerprint(), "error", err)
		m.signOutLocked("verification failed")
		m.mu.Unlock()
		return false
	}

	m.lastTouch = m.clk.Now()
	if !m.disableVerifyActivityReset {
		m.monitor.record(SignalVerified)
	}
	m.mu.Unlock()

	if user != nil {
		m.logger.Debug("session verified", "user_id", user.ID)
	}
	return true
}

// RecordActivity is the embedding application's bridge for user
// interaction signals. While a session is active it resets the
// inactivity clock and, rate-limited by TouchInterval, sends a
// best-effort heartbeat to the gateway so the authority's last-seen
// tracking follows real activity. With no session it is a no-op.
func (m *Manager) RecordActivity(sig Signal) {
	m.mu.Lock()
	if m.closed || m.current == nil {
		m.mu.Unlock()
		return
	}
	token := m.current.Token
	now := m.clk.Now()
	shouldTouch := m.touchInterval > 0 &&
		(m.lastTouch.IsZero() || now.Sub(m.lastTouch) >= m.touchInterval)
	if shouldTouch {
		m.lastTouch = now
	}
	m.monitor.record(sig)
	m.mu.Unlock()

	if shouldTouch {
		m.goBestEffort("activity heartbeat", func(ctx context.Context) error {
			return m.gateway.Touch(ctx, token)
		})
	}
}

// SetInactivityThreshold changes the idle window at runtime. Takes
// effect on the next activity reset; a pending idle timer keeps its
// original deadline.
func (m *Manager) SetInactivityThreshold(d time.Duration) {
	m.monitor.setThreshold(d)
}

// Subscribe registers a listener for session-state changes. The
// listener is invoked once, synchronously, with the current state
// before Subscribe returns. The returned function removes the
// registration.
func (m *Manager) Subscribe(fn Listener) (unsubscribe func()) {
	return m.hub.Subscribe(fn)
}

// CurrentSession returns a copy of the active session, or nil when
// signed out. Never blocks.
func (m *Manager) CurrentSession() *Session {
	return m.currentPtr.Load().clone()
}

// CurrentUser returns a copy of the authenticated identity, or nil
// when signed out. Never blocks.
func (m *Manager) CurrentUser() *User {
	s := m.currentPtr.Load()
	if s == nil {
		return nil
	}
	user := s.User
	return &user
}

// IsAuthenticated reports whether a session is active. Never blocks.
func (m *Manager) IsAuthenticated() bool {
	return m.currentPtr.Load() != nil
}

// Close makes the manager inert: both background timers stop, and
// Close blocks until the watchdog goroutine and every outstanding
// best-effort goroutine have drained. It does not sign out — a
// persisted session survives for the next launch. After Close,
// mutating operations return ErrClosed or no-op, and the accessors
// keep answering from the last state.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.monitor.stop()
	m.watchdog.stop()
	m.mu.Unlock()

	m.watchdog.wait()
	m.background.Wait()
}

// idleSignOut is the inactivity monitor's callback. It re-checks for
// an active session under the lock: a sign-out that raced the timer
// fire leaves nothing to do.
func (m *Manager) idleSignOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.current == nil {
		return
	}
	m.logger.Info("inactivity threshold elapsed",
		"threshold", m.monitor.currentThreshold(),
		"session", m.current.Fingerprint(),
	)
	m.signOutLocked("inactivity")
}

// checkExpiry is the watchdog's per-tick callback. Expiry observed
// locally drives full sign-out semantics, the same as any other
// termination trigger.
func (m *Manager) checkExpiry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.current == nil {
		return
	}
	now := m.clk.Now()
	if !m.current.Expired(now) {
		return
	}
	m.logger.Info("session expiry reached",
		"expires_at", m.current.ExpiresAt,
		"session", m.current.Fingerprint(),
	)
	m.signOutLocked("expired")
}

// goBestEffort runs fn on its own goroutine with its own timeout.
// Failures are logged and discarded; they never propagate to or alter
// the outcome of the operation that spawned them. Panics are
// recovered at the goroutine boundary.
func (m *Manager) goBestEffort(operation string, fn func(context.Context) error) {
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		defer func() {
			if recovered := recover(); recovered != nil {
				m.logger.Error("best-effort call panicked",
					"operation", operation,
					"panic", recovered,
					"stack", string(debug.Stack()),
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), m.bestEffortTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			m.logger.Warn("best-effort call failed",
				"operation", operation,
				"error", err,
			)
		}
	}()
}

// normalizeGatewayError maps gateway failures onto the manager's
// error contract: application-level rejections pass through verbatim
// so the caller sees the authority's own message; everything else is
// a transport failure behind ErrGatewayUnavailable.
func normalizeGatewayError(err error) error {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	return fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
}
