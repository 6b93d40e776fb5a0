// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNow(t *testing.T) {
	clk := Fake(epoch)
	if got := clk.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	clk.Advance(90 * time.Second)
	want := epoch.Add(90 * time.Second)
	if got := clk.Now(); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeAfterFuncFiresOnAdvance(t *testing.T) {
	clk := Fake(epoch)
	var fired atomic.Bool
	clk.AfterFunc(3*time.Second, func() { fired.Store(true) })

	clk.Advance(2 * time.Second)
	if fired.Load() {
		t.Fatal("callback fired before its deadline")
	}

	clk.Advance(time.Second)
	if !fired.Load() {
		t.Fatal("callback did not fire at its deadline")
	}
}

func TestFakeAfterFuncZeroRunsImmediately(t *testing.T) {
	clk := Fake(epoch)
	ran := false
	clk.AfterFunc(0, func() { ran = true })
	if !ran {
		t.Fatal("AfterFunc(0) should run before returning")
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	clk := Fake(epoch)
	var fired atomic.Bool
	timer := clk.AfterFunc(time.Minute, func() { fired.Store(true) })

	if !timer.Stop() {
		t.Fatal("Stop on a pending timer should return true")
	}
	clk.Advance(2 * time.Minute)
	if fired.Load() {
		t.Fatal("stopped timer fired anyway")
	}
	if timer.Stop() {
		t.Fatal("second Stop should return false")
	}
}

func TestFakeAfterFuncStopAfterFire(t *testing.T) {
	clk := Fake(epoch)
	timer := clk.AfterFunc(time.Second, func() {})
	clk.Advance(time.Second)
	if timer.Stop() {
		t.Fatal("Stop after firing should return false")
	}
}

func TestFakeAfterFuncOrder(t *testing.T) {
	clk := Fake(epoch)
	var order []int
	clk.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	clk.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	clk.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	clk.Advance(5 * time.Second)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("fire order = %v, want [1 2 3]", order)
	}
}

func TestFakeCallbackMaySchedule(t *testing.T) {
	clk := Fake(epoch)
	var second atomic.Bool
	clk.AfterFunc(time.Second, func() {
		clk.AfterFunc(time.Second, func() { second.Store(true) })
	})

	// Both deadlines fall inside one Advance window, so the callback
	// scheduled from within the first callback fires too.
	clk.Advance(2 * time.Second)
	if !second.Load() {
		t.Fatal("callback scheduled from a callback did not fire")
	}
}

func TestFakeCallbackMayStopTimers(t *testing.T) {
	clk := Fake(epoch)
	var victimFired atomic.Bool
	victim := clk.AfterFunc(time.Hour, func() { victimFired.Store(true) })
	clk.AfterFunc(time.Second, func() { victim.Stop() })

	clk.Advance(2 * time.Hour)
	if victimFired.Load() {
		t.Fatal("timer stopped from inside a callback still fired")
	}
}

func TestFakeTicker(t *testing.T) {
	clk := Fake(epoch)
	ticker := clk.NewTicker(time.Minute)
	defer ticker.Stop()

	select {
	case <-ticker.C:
		t.Fatal("tick before any Advance")
	default:
	}

	clk.Advance(time.Minute)
	select {
	case <-ticker.C:
	default:
		t.Fatal("no tick after one interval")
	}

	clk.Advance(time.Minute)
	select {
	case <-ticker.C:
	default:
		t.Fatal("no tick after the second interval")
	}
}

func TestFakeTickerDropsWhenFull(t *testing.T) {
	clk := Fake(epoch)
	ticker := clk.NewTicker(time.Minute)
	defer ticker.Stop()

	// Three intervals with nobody draining: capacity 1, so exactly
	// one tick is waiting.
	clk.Advance(3 * time.Minute)

	<-ticker.C
	select {
	case <-ticker.C:
		t.Fatal("more than one tick queued on a capacity-1 channel")
	default:
	}
}

func TestFakeTickerStop(t *testing.T) {
	clk := Fake(epoch)
	ticker := clk.NewTicker(time.Minute)
	ticker.Stop()

	clk.Advance(10 * time.Minute)
	select {
	case <-ticker.C:
		t.Fatal("tick delivered after Stop")
	default:
	}
}

func TestFakeTickerNonPositivePanics(t *testing.T) {
	clk := Fake(epoch)
	defer func() {
		if recover() == nil {
			t.Fatal("NewTicker(0) should panic")
		}
	}()
	clk.NewTicker(0)
}

func TestFakePendingCount(t *testing.T) {
	clk := Fake(epoch)
	if got := clk.PendingCount(); got != 0 {
		t.Fatalf("PendingCount() = %d, want 0", got)
	}

	timer := clk.AfterFunc(time.Minute, func() {})
	ticker := clk.NewTicker(time.Minute)
	if got := clk.PendingCount(); got != 2 {
		t.Fatalf("PendingCount() = %d, want 2", got)
	}

	timer.Stop()
	ticker.Stop()
	if got := clk.PendingCount(); got != 0 {
		t.Fatalf("PendingCount() after stops = %d, want 0", got)
	}
}

func TestFakeConcurrentUse(t *testing.T) {
	clk := Fake(epoch)
	var wg sync.WaitGroup
	var fired atomic.Int64

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clk.AfterFunc(time.Second, func() { fired.Add(1) })
		}()
	}
	wg.Wait()

	clk.Advance(time.Second)
	if got := fired.Load(); got != 20 {
		t.Fatalf("fired = %d, want 20", got)
	}
}

func TestRealClockBasics(t *testing.T) {
	clk := Real()
	before := time.Now()
	now := clk.Now()
	if now.Before(before.Add(-time.Minute)) {
		t.Fatalf("Real Now() = %v, way before wall clock %v", now, before)
	}

	done := make(chan struct{})
	clk.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("real AfterFunc never fired")
	}

	ticker := clk.NewTicker(time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C:
	case <-time.After(5 * time.Second):
		t.Fatal("real ticker never ticked")
	}
}
