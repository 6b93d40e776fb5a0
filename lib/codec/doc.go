// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides deterministic CBOR encoding.
//
// [Marshal] uses Core Deterministic Encoding, so equal values always
// produce identical bytes. lib/fingerprint relies on this when
// deriving stable digests of session identity for log correlation.
// [Unmarshal] is the matching decoder.
//
// Consumers import only this package, never fxamacker/cbor directly.
package codec
