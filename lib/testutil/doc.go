// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireClosed] and [RequireNoReceive] wrap the
// select-with-timeout pattern so that tests never block forever on a
// pump that failed to deliver. They are the only place tests use real
// wall-clock timeouts; protocol timing is driven by lib/clock.Fake.
//
// [Logger] routes slog output through t.Log so pump lifecycle events
// show up next to the failing assertion.
package testutil
