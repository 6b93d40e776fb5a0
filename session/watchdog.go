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

// DefaultExpiryPollInterval is how often the watchdog compares the
// session's expiry instant against the wall clock.
const DefaultExpiryPollInterval = time.Minute

// expiryWatchdog polls for a session outliving its expiry instant
// while the program is running. A session opened for thirty minutes
// can expire mid-use without any further network call happening; the
// watchdog catches that case. The poll is deliberately coarse:
// detection latency up to one interval is part of the contract, since
// the remote authority is the actual source of truth and rejects
// stale tokens on the next call anyway.
type expiryWatchdog struct {
	clk      clock.Clock
	logger   *slog.Logger
	interval time.Duration

	// check runs on every tick. The manager wires its expiry check
	// here; the callback itself decides whether anything is due.
	check func()

	mu     sync.Mutex
	ticker *clock.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newExpiryWatchdog(clk clock.Clock, interval time.Duration, check func(), logger *slog.Logger) *expiryWatchdog {
	if interval <= 0 {
		interval = DefaultExpiryPollInterval
	}
	return &expiryWatchdog{
		clk:      clk,
		logger:   logger,
		interval: interval,
		check:    check,
	}
}

// start launches the poll goroutine. A watchdog that is already
// running keeps running; re-authentication does not restart the loop.
func (w *expiryWatchdog) start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ticker != nil {
		return
	}

	ticker := w.clk.NewTicker(w.interval)
	stopCh := make(chan struct{})
	w.ticker = ticker
	w.stopCh = stopCh

	w.wg.Add(1)
	go w.run(ticker, stopCh)
}

func (w *expiryWatchdog) run(ticker *clock.Ticker, stopCh chan struct{}) {
	defer w.wg.Done()
	for {
		select {
		case <-ticker.C:
			w.tick()
		case <-stopCh:
			return
		}
	}
}

// tick runs one poll with panic isolation: a single bad check must
// not silently disable the watchdog for the rest of the session.
func (w *expiryWatchdog) tick() {
	defer func() {
		if recovered := recover(); recovered != nil {
			w.logger.Error("expiry watchdog tick panicked",
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
		}
	}()
	w.check()
}

// stop cancels the ticker and signals the poll goroutine to exit.
// It does not wait: stop is called from the teardown path, which may
// itself be running on the poll goroutine (a tick that discovered
// expiry). Use wait for teardown hygiene from an outside goroutine.
func (w *expiryWatchdog) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ticker == nil {
		return
	}
	w.ticker.Stop()
	w.ticker = nil
	close(w.stopCh)
	w.stopCh = nil
}

// wait blocks until the poll goroutine has exited. Must not be called
// from the poll goroutine itself.
func (w *expiryWatchdog) wait() {
	w.wg.Wait()
}
