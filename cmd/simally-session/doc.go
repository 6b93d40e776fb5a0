// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

// Simally-session manages the local SimAlly session from the command
// line: account registration and sign-in against the authentication
// gateway, sign-out with dependent-subsystem teardown, inspection of
// the persisted session, and the key material for the sealed
// companion API key. Subcommands: register, login, logout, status,
// verify, watch, keygen, seal-key, version.
//
// Exit codes: 0 on success, 1 on failure (including an invalid
// session from verify), 2 on usage errors.
package main
