// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"strings"
	"testing"
	"time"
)

func TestSessionValidate(t *testing.T) {
	if err := testSession("alice", epoch.Add(time.Hour)).Validate(); err != nil {
		t.Fatalf("complete session invalid: %v", err)
	}

	missingToken := testSession("alice", epoch.Add(time.Hour))
	missingToken.Token = ""
	if err := missingToken.Validate(); err == nil || !strings.Contains(err.Error(), "token") {
		t.Errorf("Validate without token = %v, want token error", err)
	}

	missingID := testSession("alice", epoch.Add(time.Hour))
	missingID.User.ID = ""
	if err := missingID.Validate(); err == nil || !strings.Contains(err.Error(), "user id") {
		t.Errorf("Validate without user id = %v, want user id error", err)
	}

	missingUsername := testSession("alice", epoch.Add(time.Hour))
	missingUsername.User.Username = ""
	if err := missingUsername.Validate(); err == nil || !strings.Contains(err.Error(), "username") {
		t.Errorf("Validate without username = %v, want username error", err)
	}

	missingExpiry := testSession("alice", time.Time{})
	if err := missingExpiry.Validate(); err == nil || !strings.Contains(err.Error(), "expiry") {
		t.Errorf("Validate without expiry = %v, want expiry error", err)
	}
}

func TestSessionExpired(t *testing.T) {
	s := testSession("alice", epoch.Add(time.Hour))

	if s.Expired(epoch) {
		t.Error("session expired an hour early")
	}
	// The expiry instant itself is already invalid.
	if !s.Expired(epoch.Add(time.Hour)) {
		t.Error("session still live at its expiry instant")
	}
	if !s.Expired(epoch.Add(2 * time.Hour)) {
		t.Error("session still live past its expiry")
	}
}

func TestSessionFingerprint(t *testing.T) {
	first := testSession("alice", epoch.Add(time.Hour))
	second := testSession("alice", epoch.Add(time.Hour))
	if first.Fingerprint() != second.Fingerprint() {
		t.Error("equal identities digest differently")
	}

	// The token is deliberately not part of the digest: a refreshed
	// token for the same identity and expiry correlates to the same
	// log lines.
	retokened := testSession("alice", epoch.Add(time.Hour))
	retokened.Token = "tok-alice-refreshed"
	if first.Fingerprint() != retokened.Fingerprint() {
		t.Error("token change altered the identity digest")
	}

	other := testSession("bob", epoch.Add(time.Hour))
	if first.Fingerprint() == other.Fingerprint() {
		t.Error("distinct users digest identically")
	}

	if digest := first.Fingerprint(); strings.Contains(digest, "alice") {
		t.Errorf("digest %q leaks the username", digest)
	}
}

func TestSignalString(t *testing.T) {
	names := map[Signal]string{
		SignalPointerPress: "pointer_press",
		SignalPointerMove:  "pointer_move",
		SignalKeyPress:     "key_press",
		SignalScroll:       "scroll",
		SignalTouchStart:   "touch_start",
		SignalVisible:      "visible",
		SignalVerified:     "verified",
	}
	for signal, want := range names {
		if got := signal.String(); got != want {
			t.Errorf("Signal(%d).String() = %q, want %q", int(signal), got, want)
		}
	}
	if got := Signal(99).String(); got != "signal(99)" {
		t.Errorf("unknown signal String() = %q, want signal(99)", got)
	}
}
