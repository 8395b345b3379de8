// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers for tandem binaries. Fatal
// is the one place a binary writes to stderr without the structured
// logger, which may not exist yet when configuration fails to load.
package process
