// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries framed messages between a session
// participant and the server.
//
// [Conn] is the frame-level duplex connection the session pumps are
// written against: one reader goroutine calls ReadMessage, one writer
// goroutine calls WriteMessage, and Close may be called from anywhere
// to unblock both. Three message types exist: binary frames carrying
// one CBOR item, text frames carrying the liveness tokens, and close
// frames.
//
// [WebSocketConn] adapts a gorilla/websocket connection. [Upgrader]
// accepts browser connections with an origin allow-list and [Dial]
// opens client connections (used by tests and tooling).
//
// [Pipe] returns two connected in-memory ends for tests that drive a
// pump without a network.
package transport
