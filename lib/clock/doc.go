// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Session pumps measure their heartbeat window through a Clock, so
// tests can expire an idle connection without sleeping:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	hub := conduct.NewHub(conduct.HubConfig{Clock: c, ...})
//	// ... start a pump ...
//	c.WaitForTimers(1)
//	c.Advance(5 * time.Second)
//
// Production code uses Real().
package clock
