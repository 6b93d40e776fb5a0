// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"time"

	"github.com/simally/sessionkit/lib/fingerprint"
	"github.com/simally/sessionkit/lib/secret"
)

// User is the authenticated identity embedded in a session.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// Session is the authenticated identity and credential, valid until a
// fixed expiry instant. The manager holds at most one live Session and
// replaces it wholesale on re-authentication; nothing mutates fields
// in place.
type Session struct {
	// Token is the opaque credential presented to the remote
	// authority on every authenticated call. Never logged; use
	// Fingerprint for log correlation.
	Token string `json:"token"`

	// ExpiresAt is the wall-clock instant after which the session is
	// invalid.
	ExpiresAt time.Time `json:"expires_at"`

	// User is the authenticated identity.
	User User `json:"user"`
}

// Validate reports whether the session has every field a live session
// requires. Expiry is checked separately with Expired, since validity
// of shape and validity in time are different questions.
func (s *Session) Validate() error {
	if s.Token == "" {
		return fmt.Errorf("session: record has no token")
	}
	if s.User.ID == "" {
		return fmt.Errorf("session: record has no user id")
	}
	if s.User.Username == "" {
		return fmt.Errorf("session: record has no username")
	}
	if s.ExpiresAt.IsZero() {
		return fmt.Errorf("session: record has no expiry")
	}
	return nil
}

// Expired reports whether the session's expiry has passed at the
// given instant.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Fingerprint returns the log-safe digest of this session's identity.
func (s *Session) Fingerprint() string {
	return fingerprint.Session(s.User.ID, s.User.Username, s.ExpiresAt.Unix())
}

// clone returns an independent copy, so callers can never reach the
// manager's internal state through a returned pointer.
func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	copied := *s
	return &copied
}

// Signal classifies the user-interaction events that count as
// activity. The embedding application bridges its UI events to
// [Manager.RecordActivity] with the matching class; SignalVerified is
// recorded by the manager itself when a successful verification is
// configured to count as activity.
type Signal int

const (
	SignalPointerPress Signal = iota
	SignalPointerMove
	SignalKeyPress
	SignalScroll
	SignalTouchStart
	// SignalVisible marks the window regaining visibility after
	// being hidden, which is itself evidence the user is present.
	SignalVisible
	SignalVerified
)

// String returns the snake_case name used in log fields.
func (s Signal) String() string {
	switch s {
	case SignalPointerPress:
		return "pointer_press"
	case SignalPointerMove:
		return "pointer_move"
	case SignalKeyPress:
		return "key_press"
	case SignalScroll:
		return "scroll"
	case SignalTouchStart:
		return "touch_start"
	case SignalVisible:
		return "visible"
	case SignalVerified:
		return "verified"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// AuthGateway is the remote authority that issues, validates, and
// invalidates sessions. The manager consumes exactly five operations;
// implementations report application-level rejections as [*AuthError]
// and anything else is treated as a transport failure.
type AuthGateway interface {
	// Register creates an account and returns its first session.
	Register(ctx context.Context, username string, password *secret.Buffer, fullName string) (*Session, error)

	// Authenticate exchanges credentials for a session.
	Authenticate(ctx context.Context, username string, password *secret.Buffer) (*Session, error)

	// Invalidate revokes the session behind the token.
	Invalidate(ctx context.Context, token string) error

	// Validate confirms the token still identifies a live session.
	Validate(ctx context.Context, token string) (*User, error)

	// Touch records an activity heartbeat against the session.
	Touch(ctx context.Context, token string) error
}

// Store persists at most one serialized session between program runs.
// Load treats malformed or expired content as absence (clearing the
// stale entry itself). The manager treats every Store error as
// log-and-continue: losing persistence degrades to re-login at next
// launch, never to a failed operation.
type Store interface {
	Load() (*Session, error)
	Save(s *Session) error
	Clear() error
}

// Coordinator manages the session's dependent subsystems: the
// companion conversation and the third-party OAuth grant. Every call
// is best-effort from the manager's point of view; implementations
// return errors for logging, and the manager guarantees none of them
// can block or alter a sign-in or sign-out.
type Coordinator interface {
	// StartCompanionSession opens the user's companion conversation.
	StartCompanionSession(ctx context.Context, userID string) error

	// EndCompanionSession tears the user's companion conversation
	// down. Absence of one is a no-op.
	EndCompanionSession(ctx context.Context, userID string) error

	// RevokeThirdPartyGrant revokes the user's third-party OAuth
	// grant.
	RevokeThirdPartyGrant(ctx context.Context, userID string) error
}
