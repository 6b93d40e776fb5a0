// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

package fingerprint

import (
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/simally/sessionkit/lib/codec"
)

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Separate keys
// per input domain guarantee a token digest can never collide with a
// session digest for related inputs. The bytes are readable ASCII,
// zero-padded, so the keys are inspectable in a debugger without
// weakening the construction.
type domainKey [32]byte

var (
	tokenDomainKey = domainKey{
		's', 'i', 'm', 'a', 'l', 'l', 'y', '.', 'f', 'p', '.',
		't', 'o', 'k', 'e', 'n', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	sessionDomainKey = domainKey{
		's', 'i', 'm', 'a', 'l', 'l', 'y', '.', 'f', 'p', '.',
		's', 'e', 's', 's', 'i', 'o', 'n', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// printedLength is the number of hex characters in a rendered
// fingerprint. 16 characters (8 bytes) is short enough for log lines
// and long enough that accidental collisions are not a practical
// concern for correlation.
const printedLength = 16

// Token returns the log-safe digest of an access token. The digest
// identifies the token across log lines without exposing any part of
// the credential itself.
func Token(token string) string {
	return keyed(tokenDomainKey, []byte(token))
}

// Session returns the log-safe digest of a session's identity. The
// input is the deterministic CBOR encoding of the identifying fields,
// so logically equal sessions always carry the same digest.
func Session(userID, username string, expiresAtUnix int64) string {
	encoded, err := codec.Marshal(map[string]any{
		"id":       userID,
		"username": username,
		"expires":  expiresAtUnix,
	})
	if err != nil {
		// Marshal of a flat string/int map cannot fail; keep the
		// signature clean for log call sites.
		panic("fingerprint: encoding session identity: " + err.Error())
	}
	return keyed(sessionDomainKey, encoded)
}

func keyed(key domainKey, data []byte) string {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("fingerprint: keyed hasher: " + err.Error())
	}
	hasher.Write(data)
	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum)[:printedLength]
}
