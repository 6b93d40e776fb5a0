// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/simally/sessionkit/lib/clock"
)

// DefaultInactivityThreshold is how long the user may go without any
// tracked interaction signal before the session is signed out.
const DefaultInactivityThreshold = 30 * time.Minute

// activityMonitor watches for prolonged absence of user interaction.
// Every recorded signal stamps lastActivity and re-arms a one-shot
// timer; if the timer fires with no intervening signal, onIdle runs.
//
// The threshold is read at arm time, so setThreshold takes effect on
// the next reset rather than rescheduling a pending timer. Each arm
// carries a sequence number; a fire whose sequence is stale (a newer
// signal re-armed, or stop ran) is discarded, which resolves the race
// between a reset and a nearly simultaneous fire to a no-op.
type activityMonitor struct {
	clk    clock.Clock
	logger *slog.Logger

	// onIdle runs outside the monitor's lock when the idle deadline
	// passes. The manager wires its inactivity sign-out path here.
	onIdle func()

	mu           sync.Mutex
	threshold    time.Duration
	lastActivity time.Time
	timer        *clock.Timer
	armSeq       uint64
}

func newActivityMonitor(clk clock.Clock, threshold time.Duration, onIdle func(), logger *slog.Logger) *activityMonitor {
	if threshold <= 0 {
		threshold = DefaultInactivityThreshold
	}
	return &activityMonitor{
		clk:       clk,
		logger:    logger,
		onIdle:    onIdle,
		threshold: threshold,
	}
}

// record notes an interaction signal: it stamps the activity instant,
// cancels any pending idle timer, and arms a fresh one for
// now + threshold.
func (m *activityMonitor) record(sig Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastActivity = m.clk.Now()
	m.armLocked(m.threshold)

	m.logger.Debug("activity recorded", "signal", sig.String())
}

// armLocked schedules the idle timer d from now, superseding any
// pending one. Caller holds m.mu.
func (m *activityMonitor) armLocked(d time.Duration) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.armSeq++
	seq := m.armSeq
	m.timer = m.clk.AfterFunc(d, func() { m.fire(seq) })
}

// fire is the idle timer callback. It re-checks the idle condition
// under the lock before acting: a signal recorded between the timer
// firing and this callback acquiring the lock bumps armSeq, and the
// stale fire does nothing. A fire that finds the deadline moved out
// (the threshold was raised mid-wait) re-arms for the remainder, so
// a raised threshold cannot leave the monitor dead.
func (m *activityMonitor) fire(seq uint64) {
	defer func() {
		if recovered := recover(); recovered != nil {
			m.logger.Error("inactivity timer callback panicked",
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
		}
	}()

	m.mu.Lock()
	if seq != m.armSeq {
		m.mu.Unlock()
		return
	}
	m.timer = nil

	elapsed := m.clk.Now().Sub(m.lastActivity)
	if remaining := m.threshold - elapsed; remaining > 0 {
		m.armLocked(remaining)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	// onIdle runs without the monitor lock: the sign-out path it
	// triggers calls back into stop.
	m.onIdle()
}

// setThreshold changes the idle threshold. Takes effect on the next
// reset; a pending timer keeps its original deadline (though a fire
// against a raised threshold re-arms for the difference rather than
// signing out early).
func (m *activityMonitor) setThreshold(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threshold = d
}

// currentThreshold returns the active idle threshold.
func (m *activityMonitor) currentThreshold() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold
}

// lastActivityAt returns the most recent recorded activity instant,
// or the zero time when nothing has been recorded.
func (m *activityMonitor) lastActivityAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// stop cancels any pending idle timer and invalidates in-flight
// fires. A callback already past the timer layer re-checks armSeq
// and discards itself, so a late fire cannot act on a cleared
// session.
func (m *activityMonitor) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.armSeq++
	m.lastActivity = time.Time{}
}
