// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

// Package session owns the lifecycle of a logged-in session end to
// end: establishing it against the remote authority, persisting it
// across program restarts, broadcasting every change to registered
// listeners, and autonomously tearing it down on any of three
// independent triggers — explicit sign-out, prolonged user
// inactivity, or wall-clock expiry discovered while the program is
// running.
//
// [Manager] is the single authoritative holder of session state. It
// has exactly two states, authenticated and unauthenticated, and the
// only transitions are the ones the public operations name: SignUp,
// SignIn, and startup rehydration establish a session; SignOut, a
// failed Verify, the inactivity monitor, and the expiry watchdog
// clear it. A session is replaced wholesale or not at all — no
// consumer can ever observe a partially populated one.
//
// Two failure-isolation contracts shape the implementation. First,
// the dependent subsystems (the companion conversation and the
// third-party OAuth grant, behind [Coordinator]) are strictly
// best-effort: their calls run on their own goroutines with their own
// timeouts, their failures are logged and discarded, and local
// teardown always completes even if every one of them hangs. Second,
// results of in-flight authentication calls are generation-checked
// before installation: a sign-out completing while a sign-in is still
// on the wire wins, and the late result is discarded with
// [ErrSuperseded] rather than resurrecting a cleared session.
//
// The manager's collaborators are injected through [Config]:
// [AuthGateway] for the five remote operations, [Store] for the
// persisted record, [Coordinator] for the dependent subsystems, and a
// clock.Clock so the timers run deterministically under test.
//
// Key exports:
//
//   - [Manager] -- SignUp, SignIn, SignOut, Verify, RecordActivity,
//     Subscribe, CurrentSession, CurrentUser, IsAuthenticated,
//     SetInactivityThreshold, Close
//   - [Session], [User] -- the central entity and its identity
//   - [Hub] -- the listener registry (Subscribe delivers current
//     state immediately)
//   - [AuthGateway], [Store], [Coordinator] -- collaborator contracts
//   - [AuthError], [ErrGatewayUnavailable], [ErrSuperseded] -- the
//     error taxonomy
package session
