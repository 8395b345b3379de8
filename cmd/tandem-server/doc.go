// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Tandem-server pairs a document owner (the leader) with one follower
// per document and relays their edits over websockets.
//
// Configuration comes from the file named by --config or TANDEM_CONFIG,
// falling back to built-in defaults. On first start the server creates
// its root directory, the SQLite document database and a token signing
// key.
//
// Identity tokens are minted offline:
//
//	tandem-server --mint-token alice
//
// prints a bearer token for "alice" signed with the configured key and
// exits. The server stops gracefully on SIGINT or SIGTERM.
package main
