// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides channel assertion helpers shared by the
// session kit's tests.
//
// The manager spawns best-effort work on background goroutines, so
// tests observe it through channels on fake collaborators. These
// helpers wrap the select-with-timeout pattern so a broken test hangs
// for a bounded valve interval instead of forever.
package testutil
