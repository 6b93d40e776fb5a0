// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

// Package fingerprint derives short, log-safe digests of credential
// material.
//
// Access tokens never appear in logs; every log line that needs to
// correlate activity for a token or session uses a BLAKE3 keyed
// digest instead. Keyed hashing with per-domain keys ([Token] vs
// [Session]) keeps the digests non-reversible and prevents
// cross-domain collisions. Session digests hash the deterministic
// CBOR encoding of the identity fields (lib/codec), so equal sessions
// digest identically across processes and restarts.
package fingerprint
