// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package conduct pairs a leader connection and a follower connection
// into one live session and relays patches between them.
//
// # Pairing
//
// Either role may arrive first. The [Registry] maps a session id to a
// [Session] whose status is one of [WaitingForLeader],
// [WaitingForFollower] or [Established]. The first arrival creates the
// session's two signal queues, keeps its own ends and parks the ends
// for the opposite role in the registry. The second arrival takes the
// parked ends and marks the session established. Each registry update
// runs with exclusive access to its key ([Registry.Update]), so two
// racing arrivals can never create two sessions under one id. Any
// other arrival (a second leader, a third connection) fails with
// [ErrProtocolViolation] and leaves the registry unchanged.
//
// # Signals
//
// Each direction of a session is a bounded FIFO queue of [Signal]
// values: presence, patch and kill. The receiving participant closes
// its [Inbox] when it stops consuming; from then on the peer's
// [Outbox.Send] fails with [ErrChannelClosed].
//
// # Pump
//
// [Participant.Run] drives one connection. It sends the initial
// document as {"blob": ...}, announces presence to the peer, relays
// peer signals to the client ({"presence": 0}, {"patch": ...}, or a
// close frame for kill), and dispatches inbound binary frames to the
// role:
//
//   - a leader frame {"blob": ..., "patch": ...} is persisted through
//     the [Store], then the patch, if any, goes to the follower;
//   - a follower frame {"patch": ...} goes to the leader.
//
// Text frame "ping" is answered with "pong"; other text is ignored.
// Frames that fail to decode are logged and dropped. A close frame, a
// transport error, a storage failure or a heartbeat window (5 seconds
// by default) without inbound traffic ends the connection.
//
// Teardown runs exactly once, in this order: the participant stops
// consuming its queue, its registry entry is removed (only if it still
// belongs to the same rendezvous), the connection is closed, and a kill
// signal is sent to the peer in the background. Because the entry is
// gone before anyone can observe the departure, a client that
// reconnects immediately always starts a fresh rendezvous.
//
// [Hub.Edit] runs the unpaired solo editing connection, which shares
// the pump's liveness and storage handling.
package conduct
