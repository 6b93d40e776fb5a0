// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption and decryption for SimAlly
// credentials at rest. It wraps filippo.io/age for the specific
// operations the session kit needs: generate x25519 machine
// identities, encrypt a credential to one or more recipients, and
// decrypt with the machine's private key.
//
// Ciphertext is base64-encoded for storage in plain-text key files.
// Callers pass plaintext []byte to [Encrypt] and receive a base64
// string; [Decrypt] accepts a base64 string and returns plaintext.
// Private keys and decrypted plaintext are returned as [secret.Buffer]
// values backed by mmap memory outside the Go heap (locked against
// swap, excluded from core dumps, zeroed on Close).
//
// Key exports:
//
//   - [GenerateKeypair] -- new age x25519 keypair in a secret.Buffer
//   - [Encrypt] -- encrypt to age public key recipients
//   - [Decrypt] -- decrypt with a secret.Buffer private key
//   - [Recipient] -- re-derive the public key from a private key
//   - [ParsePublicKey] -- recipient key validation
//
// Used by store.LoadOrCreateIdentity (the machine identity file),
// companion.LoadSealedAPIKey (unsealing the conversation service API
// key), and the seal-key CLI command (sealing one).
//
// Depends on lib/secret for secure memory allocation.
package sealed
