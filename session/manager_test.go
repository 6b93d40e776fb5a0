// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/simally/sessionkit/lib/clock"
	"github.com/simally/sessionkit/lib/secret"
	"github.com/simally/sessionkit/lib/testutil"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPassword(t *testing.T) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromString("p@ss")
	if err != nil {
		t.Fatalf("creating password buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

// fakeGateway is a scriptable AuthGateway. Error fields make the next
// matching call fail; channel fields let tests observe background
// calls; authEntered/authGate let a test hold an Authenticate call in
// flight while it changes manager state.
type fakeGateway struct {
	expiry time.Time

	registerSession *Session
	registerErr     error
	authSession     *Session
	authErr         error
	validateUser    *User
	validateErr     error
	invalidateErr   error
	touchErr        error

	authEntered chan struct{}
	authGate    chan struct{}

	invalidated chan string
	touched     chan string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		expiry:      epoch.Add(time.Hour),
		invalidated: make(chan string, 8),
		touched:     make(chan string, 8),
	}
}

func (g *fakeGateway) issue(username, fullName string) *Session {
	return &Session{
		Token:     "tok-" + username,
		ExpiresAt: g.expiry,
		User:      User{ID: "user-" + username, Username: username, FullName: fullName},
	}
}

func (g *fakeGateway) Register(_ context.Context, username string, _ *secret.Buffer, fullName string) (*Session, error) {
	if g.registerErr != nil {
		return nil, g.registerErr
	}
	if g.registerSession != nil {
		return g.registerSession.clone(), nil
	}
	return g.issue(username, fullName), nil
}

func (g *fakeGateway) Authenticate(_ context.Context, username string, _ *secret.Buffer) (*Session, error) {
	if g.authEntered != nil {
		g.authEntered <- struct{}{}
	}
	if g.authGate != nil {
		<-g.authGate
	}
	if g.authErr != nil {
		return nil, g.authErr
	}
	if g.authSession != nil {
		return g.authSession.clone(), nil
	}
	return g.issue(username, ""), nil
}

func (g *fakeGateway) Invalidate(_ context.Context, token string) error {
	g.invalidated <- token
	return g.invalidateErr
}

func (g *fakeGateway) Validate(_ context.Context, _ string) (*User, error) {
	if g.validateErr != nil {
		return nil, g.validateErr
	}
	return g.validateUser, nil
}

func (g *fakeGateway) Touch(_ context.Context, token string) error {
	g.touched <- token
	return g.touchErr
}

// fakeCoordinator records every dependent-subsystem call on a channel
// before applying its scripted outcome. With block set, calls hold
// until their context expires, for exercising the "teardown never
// waits" contract.
type fakeCoordinator struct {
	startErr  error
	endErr    error
	revokeErr error
	block     bool

	started chan string
	ended   chan string
	revoked chan string
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{
		started: make(chan string, 8),
		ended:   make(chan string, 8),
		revoked: make(chan string, 8),
	}
}

func (c *fakeCoordinator) StartCompanionSession(ctx context.Context, userID string) error {
	c.started <- userID
	if c.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return c.startErr
}

func (c *fakeCoordinator) EndCompanionSession(ctx context.Context, userID string) error {
	c.ended <- userID
	if c.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return c.endErr
}

func (c *fakeCoordinator) RevokeThirdPartyGrant(ctx context.Context, userID string) error {
	c.revoked <- userID
	if c.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return c.revokeErr
}

// fakeStore is an in-memory Store with scriptable failures.
type fakeStore struct {
	mu        sync.Mutex
	persisted *Session
	loadErr   error
	saveErr   error
	clearErr  error
	saves     int
	clears    int
}

func (s *fakeStore) Load() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.persisted.clone(), nil
}

func (s *fakeStore) Save(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.persisted = sess.clone()
	s.saves++
	return nil
}

func (s *fakeStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clearErr != nil {
		return s.clearErr
	}
	s.persisted = nil
	s.clears++
	return nil
}

func (s *fakeStore) current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persisted.clone()
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

type managerFixture struct {
	clk         *clock.FakeClock
	gateway     *fakeGateway
	store       *fakeStore
	coordinator *fakeCoordinator
	manager     *Manager
}

// newTestManager wires a manager against fakes and a fake clock
// pinned to epoch. mutate runs before construction, so tests can
// pre-seed the store or adjust policy knobs.
func newTestManager(t *testing.T, mutate func(*managerFixture, *Config)) *managerFixture {
	t.Helper()

	f := &managerFixture{
		clk:         clock.Fake(epoch),
		gateway:     newFakeGateway(),
		store:       &fakeStore{},
		coordinator: newFakeCoordinator(),
	}
	cfg := Config{
		Gateway:           f.gateway,
		Store:             f.store,
		Coordinator:       f.coordinator,
		Clock:             f.clk,
		Logger:            quietLogger(),
		BestEffortTimeout: 200 * time.Millisecond,
	}
	if mutate != nil {
		mutate(f, &cfg)
	}

	manager, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	f.manager = manager
	t.Cleanup(manager.Close)
	return f
}

func (f *managerFixture) signIn(t *testing.T, username string) {
	t.Helper()
	if err := f.manager.SignIn(context.Background(), username, testPassword(t)); err != nil {
		t.Fatalf("SignIn(%q): %v", username, err)
	}
}

// subscribeStates registers a listener that forwards every broadcast
// to a channel, and returns the channel after draining the initial
// synchronous delivery.
func (f *managerFixture) subscribeStates(t *testing.T) chan *Session {
	t.Helper()
	states := make(chan *Session, 16)
	f.manager.Subscribe(func(s *Session) { states <- s })
	testutil.RequireReceive(t, states, time.Second, "initial subscription delivery")
	return states
}

func TestNewManagerRequiresGateway(t *testing.T) {
	if _, err := NewManager(Config{}); err == nil {
		t.Fatal("expected error for missing gateway")
	}
}

func TestSignInEstablishesSession(t *testing.T) {
	f := newTestManager(t, nil)
	f.signIn(t, "alice")

	current := f.manager.CurrentSession()
	if current == nil {
		t.Fatal("CurrentSession is nil after successful sign-in")
	}
	if current.User.Username != "alice" || current.User.ID != "user-alice" {
		t.Errorf("session user = %+v, want alice", current.User)
	}
	if current.Token != "tok-alice" {
		t.Errorf("session token = %q", current.Token)
	}
	if !f.manager.IsAuthenticated() {
		t.Error("IsAuthenticated = false after sign-in")
	}
	if user := f.manager.CurrentUser(); user == nil || user.Username != "alice" {
		t.Errorf("CurrentUser = %+v, want alice", user)
	}

	// Persisted on install.
	if saved := f.store.current(); saved == nil || saved.Token != "tok-alice" {
		t.Errorf("store holds %+v, want the installed session", saved)
	}

	// Companion session starts in the background, keyed by user id.
	started := testutil.RequireReceive(t, f.coordinator.started, time.Second, "companion start")
	if started != "user-alice" {
		t.Errorf("companion started for %q, want user-alice", started)
	}
}

func TestSignUpRegistersAndSignsIn(t *testing.T) {
	f := newTestManager(t, nil)
	if err := f.manager.SignUp(context.Background(), "alice", testPassword(t), "Alice A"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	user := f.manager.CurrentUser()
	if user == nil || user.Username != "alice" {
		t.Fatalf("CurrentUser = %+v, want alice", user)
	}
	if user.FullName != "Alice A" {
		t.Errorf("FullName = %q, want %q", user.FullName, "Alice A")
	}
	testutil.RequireReceive(t, f.coordinator.started, time.Second, "companion start after register")
}

func TestSignInWrongPasswordSurfacesRejectionVerbatim(t *testing.T) {
	f := newTestManager(t, nil)
	f.gateway.authErr = &AuthError{
		Code:       CodeInvalidCredentials,
		Message:    "invalid username or password",
		StatusCode: 401,
	}

	err := f.manager.SignIn(context.Background(), "alice", testPassword(t))
	if err == nil {
		t.Fatal("expected error for rejected credentials")
	}

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error %v is not an *AuthError", err)
	}
	if authErr.Message != "invalid username or password" {
		t.Errorf("message = %q, authority's message must pass through unchanged", authErr.Message)
	}
	if !IsCredentialError(err) {
		t.Error("IsCredentialError = false for an invalid_credentials rejection")
	}

	if f.manager.CurrentSession() != nil {
		t.Error("session installed despite rejected credentials")
	}
	if f.store.saveCount() != 0 {
		t.Error("store written despite rejected credentials")
	}
}

func TestSignUpDuplicateUsername(t *testing.T) {
	f := newTestManager(t, nil)
	f.gateway.registerErr = &AuthError{Code: CodeUserExists, Message: "username is taken", StatusCode: 409}

	err := f.manager.SignUp(context.Background(), "alice", testPassword(t), "Alice A")
	if !IsAuthError(err, CodeUserExists) {
		t.Fatalf("error = %v, want user_exists rejection", err)
	}
	if f.manager.IsAuthenticated() {
		t.Error("authenticated despite failed registration")
	}
}

func TestSignInTransportErrorLeavesStateUntouched(t *testing.T) {
	f := newTestManager(t, nil)
	f.gateway.authErr = errors.New("dial tcp: connection refused")

	err := f.manager.SignIn(context.Background(), "alice", testPassword(t))
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("error = %v, want ErrGatewayUnavailable", err)
	}
	if f.manager.CurrentSession() != nil {
		t.Error("session present after transport failure")
	}
	if f.store.saveCount() != 0 {
		t.Error("store written after transport failure")
	}
}

func TestSignInRejectsExpiredSessionFromAuthority(t *testing.T) {
	f := newTestManager(t, nil)
	f.gateway.authSession = testSession("alice", epoch.Add(-time.Minute))

	err := f.manager.SignIn(context.Background(), "alice", testPassword(t))
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("error = %v, want ErrGatewayUnavailable for an expired record", err)
	}
	if f.manager.IsAuthenticated() {
		t.Error("expired session installed")
	}
}

func TestSignOutClearsEverything(t *testing.T) {
	f := newTestManager(t, nil)
	states := f.subscribeStates(t)

	f.signIn(t, "alice")
	if s := testutil.RequireReceive(t, states, time.Second, "install broadcast"); s == nil {
		t.Fatal("install broadcast s = nil, want session")
	}

	f.manager.SignOut()

	if s := testutil.RequireReceive(t, states, time.Second, "teardown broadcast"); s != nil {
		t.Fatalf("teardown broadcast = %+v, want nil", s)
	}
	if f.manager.CurrentSession() != nil {
		t.Error("CurrentSession non-nil after sign-out")
	}
	if f.manager.IsAuthenticated() {
		t.Error("IsAuthenticated after sign-out")
	}
	if f.store.current() != nil {
		t.Error("persisted session survived sign-out")
	}
	if n := f.clk.PendingCount(); n != 0 {
		t.Errorf("%d timers still pending after sign-out, want 0", n)
	}

	// All three best-effort cleanups observed.
	if got := testutil.RequireReceive(t, f.coordinator.revoked, time.Second, "grant revocation"); got != "user-alice" {
		t.Errorf("grant revoked for %q", got)
	}
	if got := testutil.RequireReceive(t, f.coordinator.ended, time.Second, "companion end"); got != "user-alice" {
		t.Errorf("companion ended for %q", got)
	}
	if got := testutil.RequireReceive(t, f.gateway.invalidated, time.Second, "remote invalidation"); got != "tok-alice" {
		t.Errorf("invalidated token %q", got)
	}
}

func TestSignOutIsIdempotent(t *testing.T) {
	f := newTestManager(t, nil)

	// With no session at all: a no-op, twice.
	f.manager.SignOut()
	f.manager.SignOut()
	if f.manager.CurrentSession() != nil {
		t.Fatal("CurrentSession non-nil after no-op sign-outs")
	}

	f.signIn(t, "alice")
	states := f.subscribeStates(t)

	f.manager.SignOut()
	if s := testutil.RequireReceive(t, states, time.Second, "teardown broadcast"); s != nil {
		t.Fatalf("broadcast = %+v, want nil", s)
	}

	// Second sign-out: no error, no second broadcast.
	f.manager.SignOut()
	testutil.RequireNoReceive(t, states, 50*time.Millisecond, "no broadcast for redundant sign-out")
	if f.manager.CurrentSession() != nil {
		t.Error("CurrentSession non-nil after repeated sign-out")
	}
}

func TestSignOutCompletesWhenBestEffortCallsFail(t *testing.T) {
	f := newTestManager(t, nil)
	f.coordinator.revokeErr = errors.New("revocation service down")
	f.coordinator.endErr = errors.New("conversation service down")
	f.gateway.invalidateErr = errors.New("authority unreachable")
	f.store.clearErr = errors.New("disk full")

	f.signIn(t, "alice")
	testutil.RequireReceive(t, f.coordinator.started, time.Second, "companion start")

	f.manager.SignOut()

	if f.manager.CurrentSession() != nil {
		t.Error("local teardown blocked by best-effort failures")
	}
	if f.manager.IsAuthenticated() {
		t.Error("still authenticated after sign-out")
	}
}

func TestSignOutDoesNotWaitForHangingDownstream(t *testing.T) {
	f := newTestManager(t, func(f *managerFixture, cfg *Config) {
		cfg.BestEffortTimeout = 50 * time.Millisecond
		f.coordinator.block = true
	})

	f.signIn(t, "alice")
	testutil.RequireReceive(t, f.coordinator.started, time.Second, "companion start attempt")

	done := make(chan struct{})
	go func() {
		f.manager.SignOut()
		close(done)
	}()
	testutil.RequireClosed(t, done, time.Second, "SignOut must return while downstream hangs")

	if f.manager.CurrentSession() != nil {
		t.Error("local state not cleared while downstream hangs")
	}
}

func TestBestEffortFailureDoesNotAlterSignIn(t *testing.T) {
	f := newTestManager(t, nil)
	f.coordinator.startErr = errors.New("companion service down")

	f.signIn(t, "alice")
	testutil.RequireReceive(t, f.coordinator.started, time.Second, "companion start attempt")

	if !f.manager.IsAuthenticated() {
		t.Error("companion failure leaked into the sign-in outcome")
	}
}

func TestInactivitySignsOutWithoutExplicitCall(t *testing.T) {
	f := newTestManager(t, func(_ *managerFixture, cfg *Config) {
		cfg.InactivityThreshold = 10 * time.Minute
	})
	f.signIn(t, "alice")

	f.clk.Advance(10 * time.Minute)

	if f.manager.CurrentSession() != nil {
		t.Fatal("session survived the inactivity threshold")
	}
	// Full sign-out semantics: downstream cleanup fires here too.
	testutil.RequireReceive(t, f.coordinator.revoked, time.Second, "grant revocation on idle sign-out")
	testutil.RequireReceive(t, f.gateway.invalidated, time.Second, "invalidation on idle sign-out")
}

func TestActivitySignalResetsIdleTimer(t *testing.T) {
	f := newTestManager(t, func(_ *managerFixture, cfg *Config) {
		cfg.InactivityThreshold = 10 * time.Minute
	})
	f.signIn(t, "alice")

	f.clk.Advance(6 * time.Minute)
	f.manager.RecordActivity(SignalKeyPress)

	// 12 minutes after sign-in, but only 6 since the key press.
	f.clk.Advance(6 * time.Minute)
	if !f.manager.IsAuthenticated() {
		t.Fatal("signed out despite recent activity")
	}

	f.clk.Advance(4 * time.Minute)
	if f.manager.IsAuthenticated() {
		t.Fatal("session survived 10 idle minutes after the last signal")
	}
}

func TestOneMinuteThresholdScenario(t *testing.T) {
	f := newTestManager(t, nil)
	f.signIn(t, "alice")

	f.manager.SetInactivityThreshold(time.Minute)
	// The new threshold applies at the next reset.
	f.manager.RecordActivity(SignalPointerMove)

	f.clk.Advance(61 * time.Second)
	if f.manager.CurrentSession() != nil {
		t.Fatal("session survived 61 idle seconds under a 1 minute threshold")
	}
}

func TestRaisedThresholdHonoredWithoutReset(t *testing.T) {
	f := newTestManager(t, func(_ *managerFixture, cfg *Config) {
		cfg.InactivityThreshold = 10 * time.Minute
	})
	f.signIn(t, "alice")

	// Raise the threshold mid-wait with no intervening activity. The
	// pending 10 minute timer fires, finds the deadline moved, and
	// watches the remainder instead of signing out early.
	f.manager.SetInactivityThreshold(40 * time.Minute)

	f.clk.Advance(10 * time.Minute)
	if !f.manager.IsAuthenticated() {
		t.Fatal("signed out at the superseded threshold")
	}

	f.clk.Advance(30 * time.Minute)
	if f.manager.IsAuthenticated() {
		t.Fatal("session survived the raised threshold")
	}
}

func TestExpiryWatchdogSignsOutMidRun(t *testing.T) {
	f := newTestManager(t, nil)
	f.gateway.expiry = epoch.Add(90 * time.Second)
	f.signIn(t, "alice")
	states := f.subscribeStates(t)

	// First poll: 60s elapsed, session still valid.
	f.clk.Advance(time.Minute)
	if !f.manager.IsAuthenticated() {
		t.Fatal("signed out before expiry")
	}

	// Second poll: 120s elapsed, past the 90s expiry. The watchdog
	// runs on its own goroutine, so wait for the broadcast.
	f.clk.Advance(time.Minute)
	if s := testutil.RequireReceive(t, states, time.Second, "expiry teardown broadcast"); s != nil {
		t.Fatalf("broadcast = %+v, want nil", s)
	}
	if f.manager.CurrentSession() != nil {
		t.Error("session survived its expiry instant")
	}
}

func TestStaleSignInDiscardedAfterSignOut(t *testing.T) {
	f := newTestManager(t, nil)
	f.gateway.authEntered = make(chan struct{}, 1)
	f.gateway.authGate = make(chan struct{})

	password := testPassword(t)
	result := make(chan error, 1)
	go func() {
		result <- f.manager.SignIn(context.Background(), "alice", password)
	}()

	testutil.RequireReceive(t, f.gateway.authEntered, time.Second, "authenticate call in flight")

	// Sign out while the sign-in is suspended at the gateway, then
	// let the gateway answer.
	f.manager.SignOut()
	close(f.gateway.authGate)

	err := testutil.RequireReceive(t, result, time.Second, "SignIn return")
	if !errors.Is(err, ErrSuperseded) {
		t.Fatalf("SignIn error = %v, want ErrSuperseded", err)
	}
	if f.manager.CurrentSession() != nil {
		t.Fatal("stale sign-in resurrected a signed-out session")
	}

	// The orphaned token is revoked in the background.
	if got := testutil.RequireReceive(t, f.gateway.invalidated, time.Second, "orphan invalidation"); got != "tok-alice" {
		t.Errorf("invalidated %q, want the orphaned token", got)
	}
}

func TestVerifyWithNoSession(t *testing.T) {
	f := newTestManager(t, nil)
	if f.manager.Verify(context.Background()) {
		t.Fatal("Verify = true with no session")
	}
}

func TestVerifyRejectionSignsOut(t *testing.T) {
	f := newTestManager(t, nil)
	f.signIn(t, "alice")
	f.gateway.validateErr = &AuthError{Code: CodeSessionInvalid, Message: "unknown token", StatusCode: 401}

	if f.manager.Verify(context.Background()) {
		t.Fatal("Verify = true for a rejected token")
	}
	if f.manager.CurrentSession() != nil {
		t.Error("session survived a rejected verification")
	}
	// Rejection drives full sign-out semantics.
	testutil.RequireReceive(t, f.gateway.invalidated, time.Second, "invalidation after rejected verify")
	testutil.RequireReceive(t, f.coordinator.ended, time.Second, "companion end after rejected verify")
}

func TestVerifyTransportErrorSignsOut(t *testing.T) {
	f := newTestManager(t, nil)
	f.signIn(t, "alice")
	f.gateway.validateErr = errors.New("dial tcp: i/o timeout")

	if f.manager.Verify(context.Background()) {
		t.Fatal("Verify = true on a transport error")
	}
	if f.manager.IsAuthenticated() {
		t.Error("session survived an unverifiable state")
	}
}

func TestVerifySuccessResetsInactivityClock(t *testing.T) {
	f := newTestManager(t, func(_ *managerFixture, cfg *Config) {
		cfg.InactivityThreshold = 10 * time.Minute
	})
	f.signIn(t, "alice")
	f.gateway.validateUser = &User{ID: "user-alice", Username: "alice"}

	f.clk.Advance(6 * time.Minute)
	if !f.manager.Verify(context.Background()) {
		t.Fatal("Verify = false for a valid session")
	}

	// Ten minutes after sign-in, six after verification: the verify
	// reset the idle clock.
	f.clk.Advance(4 * time.Minute)
	if !f.manager.IsAuthenticated() {
		t.Fatal("verification did not count as activity")
	}

	f.clk.Advance(6 * time.Minute)
	if f.manager.IsAuthenticated() {
		t.Fatal("session survived 10 idle minutes after verification")
	}
}

func TestVerifyActivityResetDisabledByPolicy(t *testing.T) {
	f := newTestManager(t, func(_ *managerFixture, cfg *Config) {
		cfg.InactivityThreshold = 10 * time.Minute
		cfg.DisableVerifyActivityReset = true
	})
	f.signIn(t, "alice")
	f.gateway.validateUser = &User{ID: "user-alice", Username: "alice"}

	f.clk.Advance(6 * time.Minute)
	if !f.manager.Verify(context.Background()) {
		t.Fatal("Verify = false for a valid session")
	}

	// With the policy disabled, the idle clock still runs from
	// sign-in: ten minutes total signs out despite the verify.
	f.clk.Advance(4 * time.Minute)
	if f.manager.IsAuthenticated() {
		t.Fatal("verify reset the idle clock despite the policy")
	}
}

func TestTouchHeartbeatRateLimited(t *testing.T) {
	f := newTestManager(t, func(_ *managerFixture, cfg *Config) {
		cfg.TouchInterval = 5 * time.Minute
	})
	f.signIn(t, "alice")

	// Sign-in itself just touched the authority, so an immediate
	// signal is within the rate limit.
	f.manager.RecordActivity(SignalKeyPress)
	testutil.RequireNoReceive(t, f.gateway.touched, 50*time.Millisecond, "heartbeat inside the rate window")

	f.clk.Advance(5 * time.Minute)
	f.manager.RecordActivity(SignalPointerMove)
	if got := testutil.RequireReceive(t, f.gateway.touched, time.Second, "heartbeat"); got != "tok-alice" {
		t.Errorf("touched token %q", got)
	}

	// Another signal right away is suppressed again.
	f.manager.RecordActivity(SignalScroll)
	testutil.RequireNoReceive(t, f.gateway.touched, 50*time.Millisecond, "second heartbeat inside the window")
}

func TestTouchHeartbeatDisabledByDefault(t *testing.T) {
	f := newTestManager(t, nil)
	f.signIn(t, "alice")

	f.clk.Advance(20 * time.Minute)
	f.manager.RecordActivity(SignalKeyPress)
	testutil.RequireNoReceive(t, f.gateway.touched, 50*time.Millisecond, "heartbeat with zero TouchInterval")
}

func TestRecordActivityWithoutSessionIsNoOp(t *testing.T) {
	f := newTestManager(t, nil)
	f.manager.RecordActivity(SignalKeyPress)
	if n := f.clk.PendingCount(); n != 0 {
		t.Fatalf("%d timers armed by activity with no session", n)
	}
}

func TestRehydrationInstallsPersistedSession(t *testing.T) {
	f := newTestManager(t, func(f *managerFixture, _ *Config) {
		f.store.persisted = testSession("alice", epoch.Add(time.Hour))
	})

	if !f.manager.IsAuthenticated() {
		t.Fatal("persisted session not restored at construction")
	}
	if user := f.manager.CurrentUser(); user == nil || user.Username != "alice" {
		t.Fatalf("CurrentUser = %+v, want alice", user)
	}

	// A late subscriber sees the restored session immediately.
	var seen *Session
	f.manager.Subscribe(func(s *Session) { seen = s })
	if seen == nil || seen.User.Username != "alice" {
		t.Errorf("late subscriber saw %+v", seen)
	}

	// Rehydration never starts a companion session.
	testutil.RequireNoReceive(t, f.coordinator.started, 50*time.Millisecond, "companion start on rehydration")
}

func TestRehydrationDiscardsExpiredSession(t *testing.T) {
	f := newTestManager(t, func(f *managerFixture, _ *Config) {
		f.store.persisted = testSession("alice", epoch.Add(-time.Minute))
	})
	if f.manager.IsAuthenticated() {
		t.Fatal("expired persisted session restored")
	}
}

func TestRehydrationToleratesStoreFailure(t *testing.T) {
	f := newTestManager(t, func(f *managerFixture, _ *Config) {
		f.store.loadErr = errors.New("corrupt store")
	})
	if f.manager.IsAuthenticated() {
		t.Fatal("authenticated despite store failure")
	}
	// The manager still works normally afterwards.
	f.signIn(t, "alice")
	if !f.manager.IsAuthenticated() {
		t.Fatal("sign-in failed after a store load failure")
	}
}

func TestRehydratedSessionExpiresUnderWatchdog(t *testing.T) {
	f := newTestManager(t, func(f *managerFixture, _ *Config) {
		f.store.persisted = testSession("alice", epoch.Add(90*time.Second))
	})
	states := f.subscribeStates(t)

	f.clk.Advance(2 * time.Minute)
	if s := testutil.RequireReceive(t, states, time.Second, "expiry teardown for restored session"); s != nil {
		t.Fatalf("broadcast = %+v, want nil", s)
	}
}

func TestAccessorsReturnIndependentCopies(t *testing.T) {
	f := newTestManager(t, nil)
	f.signIn(t, "alice")

	first := f.manager.CurrentSession()
	first.User.Username = "mallory"
	first.Token = "forged"

	second := f.manager.CurrentSession()
	if second.User.Username != "alice" || second.Token != "tok-alice" {
		t.Fatalf("manager state mutated through an accessor copy: %+v", second)
	}
}

func TestCloseStopsTimersAndRefusesMutations(t *testing.T) {
	f := newTestManager(t, nil)
	f.signIn(t, "alice")

	f.manager.Close()

	if n := f.clk.PendingCount(); n != 0 {
		t.Errorf("%d timers still pending after Close", n)
	}

	if err := f.manager.SignIn(context.Background(), "bob", testPassword(t)); !errors.Is(err, ErrClosed) {
		t.Errorf("SignIn after Close = %v, want ErrClosed", err)
	}
	if f.manager.Verify(context.Background()) {
		t.Error("Verify after Close = true, want false")
	}

	// The persisted session survives Close for the next launch.
	if f.store.current() == nil {
		t.Error("Close cleared the persisted session")
	}

	// Close is idempotent.
	f.manager.Close()
}
