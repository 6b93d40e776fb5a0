// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Listener receives the current session whenever it changes. A nil
// argument means signed out. Listeners run synchronously on the
// goroutine that triggered the change and must return promptly; they
// must not call Subscribe, Unsubscribe, or any mutating manager
// operation from inside the callback. The lock-free accessors
// (CurrentSession, CurrentUser, IsAuthenticated) are safe to call.
type Listener func(*Session)

// Hub is the observer registry broadcasting session-state changes.
// It is the only interface through which the rest of the program
// should observe session state; polling the accessors misses
// transitions.
type Hub struct {
	mu        sync.Mutex
	logger    *slog.Logger
	current   *Session
	listeners []*hubEntry
}

// hubEntry wraps a listener so unsubscription can find it by
// identity even when the same function value is registered twice.
type hubEntry struct {
	fn Listener
}

// NewHub creates an empty hub with no current session. The manager
// owns one; standalone use is possible for tests and adapters.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger}
}

// Subscribe registers fn and synchronously invokes it once with the
// current session before returning, so a late subscriber sees correct
// state without a separate fetch. The returned function removes the
// registration; calling it more than once is harmless.
func (h *Hub) Subscribe(fn Listener) (unsubscribe func()) {
	entry := &hubEntry{fn: fn}

	h.mu.Lock()
	h.listeners = append(h.listeners, entry)
	snapshot := h.current.clone()
	h.mu.Unlock()

	// The initial delivery happens outside the lock but before
	// Subscribe returns, preserving the "invoked once, synchronously"
	// contract. A Publish racing with this call delivers to the new
	// listener only if it captured the list after the append, so the
	// listener observes a coherent sequence either way.
	h.deliver(entry, snapshot)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, candidate := range h.listeners {
				if candidate == entry {
					h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish records s as the current state and invokes every registered
// listener synchronously, in registration order. Each listener gets
// its own defensive copy. A panicking listener is recovered and
// logged; delivery continues to the rest.
func (h *Hub) Publish(s *Session) {
	h.mu.Lock()
	h.current = s.clone()
	recipients := make([]*hubEntry, len(h.listeners))
	copy(recipients, h.listeners)
	h.mu.Unlock()

	for _, entry := range recipients {
		h.deliver(entry, s.clone())
	}
}

// Current returns a copy of the last published session, or nil.
func (h *Hub) Current() *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current.clone()
}

// deliver invokes one listener with panic isolation. One broken
// consumer must not prevent delivery to the others.
func (h *Hub) deliver(entry *hubEntry, s *Session) {
	defer func() {
		if recovered := recover(); recovered != nil {
			h.logger.Error("session listener panicked",
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
		}
	}()
	entry.fn(s)
}
