// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations used by session pumps and the
// document store. Production code injects Real(); tests inject Fake()
// and drive heartbeat windows deterministically.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0, the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. The returned Timer's C
	// field is nil. If d <= 0, f runs immediately (in a new goroutine
	// for Real, synchronously for Fake).
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTimer returns a Timer that delivers one value on C once d
	// has elapsed. Reset rearms it and discards any undelivered
	// value, so a loop can use one Timer as a sliding idle deadline.
	NewTimer(d time.Duration) *Timer
}

// Timer represents a scheduled event. C is nil for AfterFunc timers.
type Timer struct {
	// C delivers the fire time. Buffered with capacity 1.
	C <-chan time.Time

	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop prevents the Timer from firing. Returns true if the call stops
// the timer, false if it had already fired or been stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Reset rearms the timer to fire after d. Returns true if the timer
// was active before the reset.
func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }
