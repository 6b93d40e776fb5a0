// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable clock so the session kit's
// timers are deterministic under test.
//
// The kit has two timer-driven behaviors: the inactivity monitor arms
// a one-shot callback after each interaction signal, and the expiry
// watchdog polls on a fixed interval. Both would be untestable against
// the real time package (a 30 minute idle timeout cannot run in a unit
// test), so both take a [Clock].
//
// Production code passes [Real]. Tests pass [Fake] and call
// [FakeClock.Advance] to fire deadlines deterministically, then
// [FakeClock.PendingCount] to assert teardown cancelled what it armed.
//
// Key exports:
//
//   - [Clock] -- Now, AfterFunc, NewTicker
//   - [Real] -- time package passthrough
//   - [Fake] -- deterministic clock with Advance and PendingCount
package clock
