// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock set to initial. Time stands still until
// Advance is called.
//
// FakeClock is safe for concurrent use by multiple goroutines.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.waitersChanged = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a deterministic Clock for testing. Pending timers fire
// only when Advance moves the clock past their deadline.
//
// AfterFunc callbacks run synchronously inside Advance in deadline
// order. A callback must not call Advance.
type FakeClock struct {
	mu             sync.Mutex
	current        time.Time
	waiters        []*fakeWaiter
	waitersChanged *sync.Cond
}

type fakeWaiter struct {
	deadline time.Time

	// Exactly one of channel or callback is set.
	channel  chan time.Time
	callback func()

	stopped bool
	fired   bool
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.addLocked(&fakeWaiter{deadline: c.current.Add(d), channel: channel})
	return channel
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{
			stopFunc:  func() bool { return false },
			resetFunc: func(time.Duration) bool { return false },
		}
	}

	c.mu.Lock()
	waiter := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.addLocked(waiter)
	c.mu.Unlock()

	return c.timerFor(waiter, nil)
}

func (c *FakeClock) NewTimer(d time.Duration) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	waiter := &fakeWaiter{deadline: c.current.Add(d), channel: channel}
	if d <= 0 {
		channel <- c.current
		waiter.fired = true
	} else {
		c.addLocked(waiter)
	}
	return c.timerFor(waiter, channel)
}

// timerFor builds the Stop/Reset closures shared by AfterFunc and
// NewTimer. Reset drains channel so the owner never observes a value
// from the previous arming.
func (c *FakeClock) timerFor(waiter *fakeWaiter, channel chan time.Time) *Timer {
	return &Timer{
		C: channel,
		stopFunc: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if waiter.stopped || waiter.fired {
				return false
			}
			waiter.stopped = true
			c.waitersChanged.Broadcast()
			return true
		},
		resetFunc: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if channel != nil {
				select {
				case <-channel:
				default:
				}
			}
			wasActive := !waiter.stopped && !waiter.fired
			waiter.deadline = c.current.Add(d)
			waiter.stopped = false
			waiter.fired = false
			if !c.containsLocked(waiter) {
				c.waiters = append(c.waiters, waiter)
			}
			c.waitersChanged.Broadcast()
			return wasActive
		},
	}
}

func (c *FakeClock) containsLocked(waiter *fakeWaiter) bool {
	for _, existing := range c.waiters {
		if existing == waiter {
			return true
		}
	}
	return false
}

func (c *FakeClock) addLocked(waiter *fakeWaiter) {
	c.waiters = append(c.waiters, waiter)
	c.waitersChanged.Broadcast()
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline is not after the new time. Channel sends happen under the
// clock's lock and never block, so a concurrent Reset cannot observe a
// stale value. AfterFunc callbacks run afterwards in deadline order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		callbacks := c.fireExpired(target)
		if len(callbacks) == 0 {
			return
		}
		sort.Slice(callbacks, func(i, j int) bool {
			return callbacks[i].deadline.Before(callbacks[j].deadline)
		})
		for _, waiter := range callbacks {
			waiter.callback()
		}
	}
}

// fireExpired delivers expired channel waiters and returns the expired
// callback waiters for the caller to run without the lock held.
func (c *FakeClock) fireExpired(target time.Time) []*fakeWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	var callbacks, remaining []*fakeWaiter
	for _, waiter := range c.waiters {
		switch {
		case waiter.stopped || waiter.fired:
		case waiter.deadline.After(target):
			remaining = append(remaining, waiter)
		case waiter.callback != nil:
			waiter.fired = true
			callbacks = append(callbacks, waiter)
		default:
			waiter.fired = true
			select {
			case waiter.channel <- target:
			default:
			}
		}
	}
	c.waiters = remaining
	return callbacks
}

// WaitForTimers blocks until at least n timers are pending. Call it
// before Advance so the goroutine under test has armed its deadline:
//
//	go pump.Run(ctx)
//	fakeClock.WaitForTimers(1)
//	fakeClock.Advance(5 * time.Second)
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingCountLocked() < n {
		c.waitersChanged.Wait()
	}
}

// PendingCount returns the number of armed, unfired timers.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingCountLocked()
}

func (c *FakeClock) pendingCountLocked() int {
	count := 0
	for _, waiter := range c.waiters {
		if !waiter.stopped && !waiter.fired {
			count++
		}
	}
	return count
}
