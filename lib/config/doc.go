// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the session
// kit.
//
// Configuration comes from a single file named by either the
// SIMALLY_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no ~/.config discovery and no automatic
// search; [LoadOrDefault] covers tools that should run on plain
// defaults when no file is named. This keeps configuration
// deterministic and auditable.
//
// The file supports environment sections (development, production)
// that override base values when [Config].Environment matches, and
// ${VAR} / ${VAR:-default} expansion on path fields after loading.
// No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- sections for gateway, companion, session, logging
//   - [Default] -- development defaults
//   - [Load], [LoadFile], [LoadOrDefault] -- the entry points
//
// This package depends on no other sessionkit packages.
package config
