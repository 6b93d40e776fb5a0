// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists the session between program runs.
//
// Two implementations of session.Store share the same contract and the
// same atomic file mechanics (write to a temporary file, fsync, rename,
// sync the parent directory): FileStore keeps the record as plaintext
// JSON, SealedStore encrypts it at rest with XChaCha20-Poly1305 under a
// key derived from a per-machine key file.
//
// Both stores treat malformed, incomplete, expired, or undecryptable
// content as absence: Load reports no session, removes the stale file,
// and never surfaces the condition as an error. A session store is a
// convenience cache, not an authority — the worst outcome of losing it
// is a re-login.
//
// The package also manages the machine's long-lived key material: the
// random 32-byte sealing key for SealedStore and the age X25519
// identity used to unseal the companion service's API key.
package store
