// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conduct

import (
	"context"
	"fmt"
	"sync"
)

// SignalKind discriminates session-control messages.
type SignalKind uint8

const (
	// SignalPresence announces that the peer's connection is live.
	SignalPresence SignalKind = iota + 1

	// SignalPatch carries an opaque incremental update, relayed
	// verbatim.
	SignalPatch

	// SignalKill announces that the peer is terminating. The receiver
	// finishes what is already queued and then closes.
	SignalKill
)

func (k SignalKind) String() string {
	switch k {
	case SignalPresence:
		return "presence"
	case SignalPatch:
		return "patch"
	case SignalKill:
		return "kill"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Signal is one message on a signal queue. Patch is set only for
// SignalPatch.
type Signal struct {
	Kind  SignalKind
	Patch []byte
}

// Presence returns a presence signal.
func Presence() Signal { return Signal{Kind: SignalPresence} }

// Patch returns a patch signal carrying data.
func Patch(data []byte) Signal { return Signal{Kind: SignalPatch, Patch: data} }

// Kill returns a kill signal.
func Kill() Signal { return Signal{Kind: SignalKill} }

// signalQueue is one direction of a channel pair. The channel is never
// closed; instead the receiving side closes done when it stops
// consuming, which turns every pending and future send into
// ErrChannelClosed.
type signalQueue struct {
	signals  chan Signal
	done     chan struct{}
	doneOnce sync.Once
}

func newSignalQueue(capacity int) *signalQueue {
	return &signalQueue{
		signals: make(chan Signal, capacity),
		done:    make(chan struct{}),
	}
}

// Outbox is the sending end of a signal queue, owned by one role.
type Outbox struct {
	queue *signalQueue
}

// Send enqueues signal, waiting for space while the queue is full.
// Returns ErrChannelClosed once the receiver is gone, or ctx.Err() if
// ctx ends first.
func (o *Outbox) Send(ctx context.Context, signal Signal) error {
	select {
	case <-o.queue.done:
		return ErrChannelClosed
	default:
	}
	// Room in the queue wins over a cancelled ctx.
	select {
	case o.queue.signals <- signal:
		return nil
	default:
	}
	select {
	case o.queue.signals <- signal:
		return nil
	case <-o.queue.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inbox is the receiving end of a signal queue, owned by one role.
type Inbox struct {
	queue *signalQueue
}

// Signals returns the channel signals arrive on, in send order.
func (i *Inbox) Signals() <-chan Signal {
	return i.queue.signals
}

// Close marks the receiver as gone. Idempotent.
func (i *Inbox) Close() {
	i.queue.doneOnce.Do(func() { close(i.queue.done) })
}

// Ends are the two queue ends one role holds: Outbox sends to the
// peer, Inbox receives from it.
type Ends struct {
	Outbox *Outbox
	Inbox  *Inbox
}

// newChannelPair creates both queues of a session at once and returns
// the ends for each role, cross-wired so the leader's Outbox feeds the
// follower's Inbox and vice versa.
func newChannelPair(capacity int) (leader, follower Ends) {
	toFollower := newSignalQueue(capacity)
	toLeader := newSignalQueue(capacity)
	leader = Ends{Outbox: &Outbox{queue: toFollower}, Inbox: &Inbox{queue: toLeader}}
	follower = Ends{Outbox: &Outbox{queue: toLeader}, Inbox: &Inbox{queue: toFollower}}
	return leader, follower
}
