// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for passwords, API
// keys, and other credential material handled by the session kit.
//
// [Buffer] allocates memory outside the Go heap via
// mmap(MAP_ANONYMOUS), locks it into RAM via mlock so it cannot reach
// swap, and marks it MADV_DONTDUMP so it never lands in a core dump.
// Close zeros, unlocks, and unmaps; afterwards any read panics.
//
// Passwords enter the kit as Buffers (terminal prompt or
// [ReadFromPath]) and stay in protected memory until the single JSON
// encode that sends them to the authentication service. [Zero] cleans
// up the transient heap copies that boundary creates.
//
// Depends on golang.org/x/sys/unix only.
package secret
