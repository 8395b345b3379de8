// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conduct

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/tandem/transport"
)

// Participant is one paired connection: its session, its role and the
// queue ends it owns. A Participant runs at most once.
type Participant struct {
	hub          *Hub
	sessionID    string
	role         Role
	epoch        uint64
	outbox       *Outbox
	inbox        *Inbox
	connectionID string
	logger       *slog.Logger

	pump         func(ctx context.Context, conn transport.Conn, payload []byte) error
	started      atomic.Bool
	teardownOnce sync.Once
}

// SessionID returns the session this participant joined.
func (p *Participant) SessionID() string { return p.sessionID }

// Role returns the participant's role.
func (p *Participant) Role() Role { return p.role }

// ConnectionID returns the random id attached to this connection's
// log records.
func (p *Participant) ConnectionID() string { return p.connectionID }

// Send delivers signal to the peer's queue.
func (p *Participant) Send(ctx context.Context, signal Signal) error {
	return p.outbox.Send(ctx, signal)
}

// Run drives conn until the connection or its peer ends the session,
// then tears down. payload is sent to the client as the initial blob.
// Run takes ownership of conn and always closes it. The returned error
// says why the pump stopped; it is informational, since teardown has
// already happened.
func (p *Participant) Run(ctx context.Context, conn transport.Conn, payload []byte) error {
	if !p.started.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	return p.pump(ctx, conn, payload)
}

// Abandon releases a participant that will never run, for example
// because the websocket upgrade failed after pairing.
func (p *Participant) Abandon() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.teardown(nil)
}

func (p *Participant) start(ctx context.Context, conn transport.Conn, payload []byte) *Pump {
	pump := &Pump{done: make(chan struct{})}
	go func() {
		defer close(pump.done)
		p.Run(ctx, conn, payload)
	}()
	return pump
}

// teardown releases everything the participant holds, in a fixed
// order: stop consuming the own queue, free the registry slot, close
// the connection, then notify the peer. The slot is free before the
// client or its peer can observe the departure, so a reconnect never
// meets this session's stale state. Runs once.
func (p *Participant) teardown(conn transport.Conn) {
	p.teardownOnce.Do(func() {
		p.inbox.Close()
		if p.hub.registry.release(p.sessionID, p.epoch) {
			p.logger.Debug("session released", "epoch", p.epoch)
		}
		if conn != nil {
			if err := conn.Close(); err != nil {
				p.logger.Debug("closing connection", "error", err)
			}
		}
		go p.notifyPeer()
	})
}

// notifyPeer sends the kill signal. Best effort: the peer may already
// be gone, which is the common case when it initiated the teardown.
func (p *Participant) notifyPeer() {
	ctx, cancel := context.WithTimeout(context.Background(), p.hub.config.KillTimeout)
	defer cancel()
	if err := p.outbox.Send(ctx, Kill()); err != nil {
		p.logger.Debug("kill not delivered to peer", "error", err)
	}
}
