// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source used by the bus.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed. A
	// non-positive d fires immediately.
	After(d time.Duration) <-chan time.Time

	// NewTimer returns a one-shot timer firing after d. Callers that
	// may abandon the wait should Stop it to release the timer.
	NewTimer(d time.Duration) *Timer
}

// Timer is a one-shot timer. C receives exactly once unless Stop wins.
type Timer struct {
	C <-chan time.Time

	stop func() bool
}

// Stop cancels the timer. It reports whether the timer was still
// pending.
func (t *Timer) Stop() bool { return t.stop() }
