// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/simally/sessionkit/lib/clock"
	"github.com/simally/sessionkit/session"
)

// DefaultPath resolves the session file location: $SIMALLY_SESSION_FILE
// when set, otherwise session.json under the user's configuration
// directory (XDG-aware via os.UserConfigDir).
func DefaultPath() (string, error) {
	if path := os.Getenv("SIMALLY_SESSION_FILE"); path != "" {
		return path, nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("store: resolving config directory: %w", err)
	}
	return filepath.Join(configDir, "simally", "session.json"), nil
}

// FileStore persists the session as a plaintext JSON file, mode 0600
// in a 0700 parent directory.
type FileStore struct {
	path   string
	clk    clock.Clock
	logger *slog.Logger
}

var _ session.Store = (*FileStore)(nil)

// NewFileStore creates a store at the given path. clk may be nil for
// the real clock; logger may be nil for slog.Default().
func NewFileStore(path string, clk clock.Clock, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, clk: clk, logger: logger}, nil
}

// Load reads the persisted session. An absent file means no session.
// Malformed, incomplete, or expired content also means no session: the
// stale file is removed and the condition logged, never returned as an
// error.
func (s *FileStore) Load() (*session.Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: reading %s: %w", s.path, err)
	}

	record, err := parseRecord(data, s.clk.Now())
	if err != nil {
		s.logger.Info("discarding persisted session", "path", s.path, "reason", err)
		removeQuietly(s.path, s.logger)
		return nil, nil
	}
	return record, nil
}

// Save atomically replaces the persisted session.
func (s *FileStore) Save(record *session.Session) error {
	data, err := encodeRecord(record)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("store: writing %s: %w", s.path, err)
	}
	return nil
}

// Clear removes the persisted session. Absence is not an error.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("store: removing %s: %w", s.path, err)
	}
	return nil
}

// encodeRecord validates and serializes a session for persistence.
// Refusing to write an incomplete record keeps the load-side contract
// simple: anything on disk was once a fully valid session.
func encodeRecord(record *session.Session) ([]byte, error) {
	if record == nil {
		return nil, fmt.Errorf("store: cannot save a nil session")
	}
	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("store: refusing to save: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("store: encoding session: %w", err)
	}
	return append(data, '\n'), nil
}

// parseRecord decodes persisted session JSON and checks shape and
// expiry. The returned error describes why the content is stale;
// callers treat any error as "no session" and remove the file.
func parseRecord(data []byte, now time.Time) (*session.Session, error) {
	var record session.Session
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("malformed content: %w", err)
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	if record.Expired(now) {
		return nil, fmt.Errorf("expired at %s", record.ExpiresAt.Format(time.RFC3339))
	}
	return &record, nil
}

func removeQuietly(path string, logger *slog.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("removing stale session file failed", "path", path, "error", err)
	}
}

// writeFileAtomic writes data to path so readers never observe a
// partial file: create the parent directory (0700), write a temporary
// file (0600) alongside the target, fsync, rename into place, and sync
// the parent directory so the rename survives power loss.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}

	// Write, sync, close — in that order. If any step fails, remove
	// the temporary file and report the first error.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming into place: %w", err)
	}

	// Sync the parent directory so the rename is durable across a
	// power loss between the rename and the OS flushing directory
	// metadata.
	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}

	return nil
}
