// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations the session kit performs:
// reading the current instant, scheduling a one-shot callback, and
// running a periodic ticker. Production code injects Real(); tests
// inject Fake() and drive time explicitly.
//
// Any function that would call time.Now, time.AfterFunc, or
// time.NewTicker takes a Clock (or lives on a struct with a Clock
// field) instead of reaching for the time package directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for duration d, then calls f in its own
	// goroutine (real clock) or on the advancing goroutine (fake).
	// The returned Timer cancels the pending call with Stop.
	// If d <= 0, f runs immediately.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering ticks on C at the given
	// interval. Panics if d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a scheduled one-shot callback created by AfterFunc.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the timer from firing. Returns true if the call
// stopped the timer, false if it already fired or was stopped.
// Stop does not wait for a callback already in flight to return.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Ticker delivers periodic ticks on C. The channel has capacity 1,
// matching time.Ticker: a consumer that falls behind loses ticks
// rather than queueing them.
type Ticker struct {
	// C delivers ticks. Never closed; use Stop and abandon it.
	C <-chan time.Time

	stopFunc func()
}

// Stop turns the ticker off. No ticks are delivered after Stop
// returns. Stop does not close C.
func (t *Ticker) Stop() { t.stopFunc() }
