// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

// Package companion manages the session's dependent subsystems: the
// user's companion conversation on the external conversation service,
// and the user's third-party OAuth grant.
//
// Coordinator implements session.Coordinator. Starting a companion
// session POSTs the persona profile to the conversation service and
// tracks the returned conversation id per user; ending one stops and
// deletes the remote conversation. Every method is synchronous and
// context-bounded — the session manager is what makes these calls
// best-effort, running them off its critical path and discarding
// failures.
//
// The conversation service API key lives age-sealed on disk and is
// loaded into a secret.Buffer by LoadSealedAPIKey. It crosses into
// heap memory only at the request-header boundary.
package companion
