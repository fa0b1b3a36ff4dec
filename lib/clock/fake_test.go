// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowMovesOnlyOnAdvance(t *testing.T) {
	fake := Fake(epoch)
	if got := fake.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	fake.Advance(90 * time.Second)
	if got, want := fake.Now(), epoch.Add(90*time.Second); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeTimerFiresAtDeadline(t *testing.T) {
	fake := Fake(epoch)
	timer := fake.NewTimer(5 * time.Second)

	fake.Advance(4 * time.Second)
	select {
	case <-timer.C:
		t.Fatal("timer fired one second early")
	default:
	}

	fake.Advance(time.Second)
	select {
	case fired := <-timer.C:
		if want := epoch.Add(5 * time.Second); !fired.Equal(want) {
			t.Errorf("fired at %v, want %v", fired, want)
		}
	default:
		t.Fatal("timer did not fire at its deadline")
	}
	if fake.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d after firing, want 0", fake.PendingCount())
	}
}

func TestFakeNonPositiveDurationFiresImmediately(t *testing.T) {
	fake := Fake(epoch)
	for _, d := range []time.Duration{0, -time.Second} {
		select {
		case <-fake.After(d):
		default:
			t.Errorf("After(%v) did not fire immediately", d)
		}
	}
}

func TestFakeStopPreventsFiring(t *testing.T) {
	fake := Fake(epoch)
	timer := fake.NewTimer(time.Second)
	if !timer.Stop() {
		t.Fatal("Stop() on a pending timer returned false")
	}
	if timer.Stop() {
		t.Error("second Stop() returned true")
	}
	fake.Advance(time.Hour)
	select {
	case <-timer.C:
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	fake := Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-fake.After(time.Minute)
		close(done)
	}()

	fake.WaitForTimers(1)
	fake.Advance(time.Minute)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("goroutine did not observe the timer")
	}
}
