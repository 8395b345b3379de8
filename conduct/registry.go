// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conduct

import (
	"fmt"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Status is the pairing state of a session.
type Status uint8

const (
	// WaitingForLeader: a follower arrived first and holds its ends;
	// the pending ends belong to the leader that has yet to arrive.
	WaitingForLeader Status = iota + 1

	// WaitingForFollower: the symmetric case, a leader arrived first.
	WaitingForFollower

	// Established: both roles have rendezvoused. The entry stays until
	// the first participant tears down, so a third arrival is rejected.
	Established
)

func (s Status) String() string {
	switch s {
	case WaitingForLeader:
		return "waiting-for-leader"
	case WaitingForFollower:
		return "waiting-for-follower"
	case Established:
		return "established"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Session is the registry value for one session id. Values are
// immutable; transitions install a new Session.
type Session struct {
	Status Status

	// Epoch identifies one rendezvous across its transitions. A new
	// rendezvous under the same id gets a new epoch.
	Epoch uint64

	// pending holds the ends for the role that has not arrived yet.
	// Nil once Established.
	pending *Ends
}

// Entry is the view of one registry slot inside Update: either Vacant
// or Occupied with a Session.
type Entry struct {
	Session  Session
	Occupied bool
}

// Vacant returns an empty entry. Returning it from an Update function
// deletes the slot.
func Vacant() Entry { return Entry{} }

// Occupied returns an entry holding session.
func Occupied(session Session) Entry { return Entry{Session: session, Occupied: true} }

// Registry maps session ids to pairing state. Every operation on a key
// is linearizable; operations on different keys do not contend.
type Registry struct {
	sessions *xsync.MapOf[string, Session]
	epochs   atomic.Uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: xsync.NewMapOf[string, Session]()}
}

// Update runs fn with exclusive access to the slot for id and installs
// what fn returns. If fn returns an error the slot is left unchanged
// and the error is returned. fn must not call back into the registry.
func (r *Registry) Update(id string, fn func(Entry) (Entry, error)) error {
	var fnErr error
	r.sessions.Compute(id, func(current Session, loaded bool) (Session, bool) {
		next, err := fn(Entry{Session: current, Occupied: loaded})
		if err != nil {
			fnErr = err
			return current, !loaded
		}
		return next.Session, !next.Occupied
	})
	return fnErr
}

// Remove deletes the slot for id unconditionally. Ends still pending
// for an absent role are released, so the waiting participant's sends
// fail with ErrChannelClosed instead of filling an orphaned queue.
func (r *Registry) Remove(id string) {
	r.sessions.Compute(id, func(current Session, loaded bool) (Session, bool) {
		if loaded {
			current.releasePending()
		}
		return current, true
	})
}

// release deletes the slot for id only if it still belongs to epoch.
// Reports whether it deleted anything.
func (r *Registry) release(id string, epoch uint64) bool {
	removed := false
	r.sessions.Compute(id, func(current Session, loaded bool) (Session, bool) {
		if !loaded {
			return current, true
		}
		if current.Epoch != epoch {
			return current, false
		}
		current.releasePending()
		removed = true
		return current, true
	})
	return removed
}

// Lookup returns the session for id, if any.
func (r *Registry) Lookup(id string) (Session, bool) {
	return r.sessions.Load(id)
}

// Len returns the number of sessions, waiting or established.
func (r *Registry) Len() int {
	return r.sessions.Size()
}

func (r *Registry) nextEpoch() uint64 {
	return r.epochs.Add(1)
}

func (s Session) releasePending() {
	if s.pending != nil {
		s.pending.Inbox.Close()
	}
}

// rendezvous is the pairing state machine shared by both roles. On a
// vacant slot it creates the channel pair, parks the opposite role's
// ends and returns this role's ends. On a slot where the opposite role
// is waiting it takes the parked ends and marks the session
// established. Anything else is a protocol violation.
func (r *Registry) rendezvous(id string, role Role, capacity int) (Ends, uint64, error) {
	var ends Ends
	var epoch uint64
	err := r.Update(id, func(entry Entry) (Entry, error) {
		if !entry.Occupied {
			leader, follower := newChannelPair(capacity)
			epoch = r.nextEpoch()
			session := Session{Epoch: epoch}
			if role == Leader {
				ends, session.Status, session.pending = leader, WaitingForFollower, &follower
			} else {
				ends, session.Status, session.pending = follower, WaitingForLeader, &leader
			}
			return Occupied(session), nil
		}

		current := entry.Session
		if current.Status != role.awaitedBy() || current.pending == nil {
			return entry, fmt.Errorf("%w: %s joining session %q in state %s",
				ErrProtocolViolation, role, id, current.Status)
		}
		ends, epoch = *current.pending, current.Epoch
		return Occupied(Session{Status: Established, Epoch: current.Epoch}), nil
	})
	return ends, epoch, err
}
