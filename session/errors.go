// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
)

// AuthError is a structured application-level rejection from the
// remote authority: bad credentials, a duplicate username, a token it
// no longer recognizes. Gateway implementations return it for any
// well-formed error response; everything else is a transport failure.
// Callers can use errors.As to extract the structured information:
//
//	var authErr *session.AuthError
//	if errors.As(err, &authErr) {
//	    if authErr.Code == session.CodeUserExists { ... }
//	}
type AuthError struct {
	// Code is the machine-readable error code (e.g.,
	// "invalid_credentials", "user_exists").
	Code string `json:"code"`
	// Message is the human-readable description from the authority.
	Message string `json:"message"`
	// StatusCode is the HTTP status of the response, when the gateway
	// is HTTP-backed. Zero for fakes that never touch a wire.
	StatusCode int `json:"-"`
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s: %s", e.Code, e.Message)
}

// Error codes the remote authority uses in rejection responses.
const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeUserExists         = "user_exists"
	CodeInvalidRequest     = "invalid_request"
	CodeSessionInvalid     = "session_invalid"
	CodeSessionExpired     = "session_expired"
)

// IsAuthError checks whether err is a *AuthError with the given code.
func IsAuthError(err error, code string) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Code == code
	}
	return false
}

// IsCredentialError reports whether err is a rejection of the
// caller-supplied credentials (as opposed to a stale token or a
// malformed request). SignUp and SignIn surface these verbatim so the
// UI can show the authority's own message.
func IsCredentialError(err error) bool {
	return IsAuthError(err, CodeInvalidCredentials) || IsAuthError(err, CodeUserExists)
}

// ErrGatewayUnavailable wraps transport-level failures reaching the
// remote authority: connection refused, timeout, a malformed response
// body. The caller should suggest trying again; local session state is
// untouched when SignUp or SignIn return it.
var ErrGatewayUnavailable = errors.New("session: cannot reach the authentication service, try again")

// ErrSuperseded is returned by a SignUp or SignIn whose gateway call
// succeeded but whose result was discarded because the manager's state
// changed while the call was in flight (a sign-out, or a newer
// sign-in). The final state is whatever the newer transition
// established; the slow result is dropped, never installed.
var ErrSuperseded = errors.New("session: result discarded, state changed while the call was in flight")

// ErrClosed is returned by mutating operations on a manager whose
// Close has been called.
var ErrClosed = errors.New("session: manager is closed")
