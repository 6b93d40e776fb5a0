// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

package companion

import (
	"fmt"
	"os"
	"strings"

	"github.com/simally/sessionkit/lib/sealed"
	"github.com/simally/sessionkit/lib/secret"
)

// LoadSealedAPIKey reads an age-sealed API key file and decrypts it
// with the machine identity. The file holds the base64 ciphertext
// produced by the seal-key command; the plaintext key never touches
// disk.
//
// The identity buffer is borrowed, not closed. The caller must Close
// the returned buffer when the key is no longer needed.
func LoadSealedAPIKey(path string, identity *secret.Buffer) (*secret.Buffer, error) {
	if identity == nil {
		return nil, fmt.Errorf("companion: machine identity is required to unseal %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("companion: reading sealed API key %s: %w", path, err)
	}

	key, err := sealed.Decrypt(strings.TrimSpace(string(data)), identity)
	if err != nil {
		return nil, fmt.Errorf("companion: unsealing API key %s: %w", path, err)
	}
	return key, nil
}
