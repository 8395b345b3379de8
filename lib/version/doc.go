// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for tandem binaries.
//
// [GitCommit], [GitDirty] and [BuildTime] are injected at build time:
//
//	go build -ldflags "-X github.com/bureau-foundation/tandem/lib/version.GitCommit=$(git rev-parse --short HEAD)" ./cmd/tandem-server
//
// Without them the commit and dirty flag come from the VCS stamp the go
// command embeds, and a build outside a checkout reports "unknown".
// [Current] is printed by --version and logged at server startup.
package version
