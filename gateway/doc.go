// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway is the HTTP client for the SimAlly authentication
// service. It implements session.AuthGateway over the service's JSON
// protocol: register, login, logout, validate, and touch, with session
// tokens carried as Bearer credentials.
//
// Error handling follows the session package's taxonomy. A non-2xx
// response carrying the service's {"code", "message"} error shape
// becomes a *session.AuthError, preserving the service's own wording
// for the caller; connection failures, timeouts, and responses that do
// not speak the protocol surface as plain wrapped errors, which the
// session manager classifies as transport failures.
//
// Passwords enter as *secret.Buffer and are stringified only at the
// JSON serialization boundary. Logs carry token fingerprints, never
// token material.
package gateway
