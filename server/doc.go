// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package server is the HTTP surface of tandem: a small JSON API over
// the document store and three websocket endpoints.
//
//	/api/conduct/{id}  leader; the caller must own the document
//	/api/attend/{id}   follower; no identity required
//	/api/edit/{id}     solo editing by the owner
//
// Identity is a bearer token minted by lib/identity, sent either in
// the Authorization header or as the token query parameter.
// Authorization decisions are made here, before a connection is handed
// to the conduct hub.
//
// [HTTPServer] owns the listener and graceful shutdown. Every request
// context derives from the Serve context, so cancelling it also ends
// the session pumps running on hijacked connections.
package server
