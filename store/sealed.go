// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/simally/sessionkit/lib/clock"
	"github.com/simally/sessionkit/lib/secret"
	"github.com/simally/sessionkit/session"
)

// sealedVersion is the format version byte leading every sealed file.
// It is bound into the AEAD as associated data, so a future format
// change can never be rolled back by editing the byte.
const sealedVersion byte = 0x01

// machineKeySize is the size of the random per-machine key file the
// sealing key is derived from.
const machineKeySize = 32

// sealedKeyInfo is the HKDF info string binding derived keys to this
// store's purpose. A machine key reused by another component cannot
// yield the same AEAD key.
const sealedKeyInfo = "simally.store.session.v1"

// SealedStore persists the session encrypted at rest. The on-disk
// layout is version byte, then the 24-byte XChaCha20-Poly1305 nonce,
// then ciphertext and tag. The AEAD key is derived from a 32-byte
// machine key file via HKDF-SHA256; the key file is generated on first
// use with mode 0600.
//
// Undecryptable or tampered content gets the same treatment as
// malformed plaintext in FileStore: Load reports no session and
// removes the file.
type SealedStore struct {
	path   string
	clk    clock.Clock
	logger *slog.Logger
	aead   cipher.AEAD
}

var _ session.Store = (*SealedStore)(nil)

// NewSealedStore creates a sealed store at path, keyed from the
// machine key file at keyPath (created on first use). clk may be nil
// for the real clock; logger may be nil for slog.Default().
func NewSealedStore(path, keyPath string, clk clock.Clock, logger *slog.Logger) (*SealedStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if keyPath == "" {
		return nil, fmt.Errorf("store: machine key path is required")
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}

	machineKey, err := loadOrCreateMachineKey(keyPath)
	if err != nil {
		return nil, err
	}
	defer secret.Zero(machineKey)

	derived := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, machineKey, nil, []byte(sealedKeyInfo)), derived); err != nil {
		return nil, fmt.Errorf("store: deriving sealing key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return nil, fmt.Errorf("store: creating cipher: %w", err)
	}
	// The cipher holds its own expanded copy of the key material.
	secret.Zero(derived)

	return &SealedStore{path: path, clk: clk, logger: logger, aead: aead}, nil
}

// Load reads and decrypts the persisted session. Absent file, failed
// decryption, or stale plaintext all mean no session; the latter two
// remove the file.
func (s *SealedStore) Load() (*session.Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: reading %s: %w", s.path, err)
	}

	plaintext, err := s.open(data)
	if err != nil {
		s.logger.Info("discarding sealed session", "path", s.path, "reason", err)
		removeQuietly(s.path, s.logger)
		return nil, nil
	}
	defer secret.Zero(plaintext)

	record, err := parseRecord(plaintext, s.clk.Now())
	if err != nil {
		s.logger.Info("discarding persisted session", "path", s.path, "reason", err)
		removeQuietly(s.path, s.logger)
		return nil, nil
	}
	return record, nil
}

// Save encrypts and atomically replaces the persisted session.
func (s *SealedStore) Save(record *session.Session) error {
	plaintext, err := encodeRecord(record)
	if err != nil {
		return err
	}
	defer secret.Zero(plaintext)

	sealedData, err := s.seal(plaintext)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, sealedData); err != nil {
		return fmt.Errorf("store: writing %s: %w", s.path, err)
	}
	return nil
}

// Clear removes the persisted session. Absence is not an error.
func (s *SealedStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("store: removing %s: %w", s.path, err)
	}
	return nil
}

func (s *SealedStore) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("store: generating nonce: %w", err)
	}

	sealedData := make([]byte, 0, 1+len(nonce)+len(plaintext)+chacha20poly1305.Overhead)
	sealedData = append(sealedData, sealedVersion)
	sealedData = append(sealedData, nonce...)
	return s.aead.Seal(sealedData, nonce, plaintext, []byte{sealedVersion}), nil
}

func (s *SealedStore) open(sealedData []byte) ([]byte, error) {
	if len(sealedData) < 1+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("sealed content truncated (%d bytes)", len(sealedData))
	}
	version := sealedData[0]
	if version != sealedVersion {
		return nil, fmt.Errorf("unsupported sealed format version %d", version)
	}
	nonce := sealedData[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := sealedData[1+chacha20poly1305.NonceSizeX:]

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte{version})
	if err != nil {
		// Wrong machine key or tampered content; AEAD reports both the
		// same way.
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// loadOrCreateMachineKey reads the 32-byte machine key, generating and
// persisting a fresh random one on first use. The caller owns the
// returned bytes and must zero them.
func loadOrCreateMachineKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != machineKeySize {
			return nil, fmt.Errorf("store: machine key %s is %d bytes, want %d", path, len(data), machineKeySize)
		}
		return data, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("store: reading machine key: %w", err)
	}

	key := make([]byte, machineKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("store: generating machine key: %w", err)
	}
	if err := writeFileAtomic(path, key); err != nil {
		secret.Zero(key)
		return nil, fmt.Errorf("store: writing machine key %s: %w", path, err)
	}
	return key, nil
}
