// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/simally/sessionkit/lib/sealed"
	"github.com/simally/sessionkit/lib/secret"
)

// LoadOrCreateIdentity loads the machine's age x25519 identity from
// path, generating and persisting a fresh one (mode 0600, atomic
// write) on first use. The private key is returned in a secret.Buffer
// the caller must Close; the second return is the corresponding
// recipient (public key, age1... format), safe to display and seal to.
func LoadOrCreateIdentity(path string) (*secret.Buffer, string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		trimmed := bytes.TrimSpace(data)
		// NewFromBytes zeros trimmed, which aliases data.
		privateKey, err := secret.NewFromBytes(trimmed)
		if err != nil {
			return nil, "", fmt.Errorf("store: protecting identity: %w", err)
		}
		recipient, err := sealed.Recipient(privateKey)
		if err != nil {
			privateKey.Close()
			return nil, "", fmt.Errorf("store: identity file %s: %w", path, err)
		}
		return privateKey, recipient, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("store: reading identity: %w", err)
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return nil, "", fmt.Errorf("store: generating identity: %w", err)
	}

	// The file copy is conventional age format: the key line plus a
	// trailing newline. Zero the transient heap copy after writing.
	content := append([]byte(nil), keypair.PrivateKey.Bytes()...)
	content = append(content, '\n')
	writeErr := writeFileAtomic(path, content)
	secret.Zero(content)
	if writeErr != nil {
		keypair.Close()
		return nil, "", fmt.Errorf("store: writing identity %s: %w", path, writeErr)
	}

	return keypair.PrivateKey, keypair.PublicKey, nil
}
