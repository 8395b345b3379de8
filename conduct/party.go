// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conduct

import (
	"context"
	"errors"
	"fmt"
)

// Role is one of the two fixed sides of a session.
type Role uint8

const (
	// Leader drives the session and owns persistence of the document.
	Leader Role = iota + 1

	// Follower proposes patches; it never writes to storage.
	Follower
)

func (r Role) String() string {
	switch r {
	case Leader:
		return "leader"
	case Follower:
		return "follower"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}

// awaitedBy returns the waiting status this role completes.
func (r Role) awaitedBy() Status {
	if r == Leader {
		return WaitingForLeader
	}
	return WaitingForFollower
}

// Inbound is implemented by the per-role message types decoded from
// binary frames. Validate rejects frames that decoded but lack the
// fields the role requires.
type Inbound interface {
	Validate() error
}

// Party is the per-role strategy plugged into the shared pump: which
// role it is and what one decoded inbound message does.
type Party[M Inbound] interface {
	Role() Role
	OnMessage(ctx context.Context, participant *Participant, message M) error
}

// LeaderMessage is what a leader sends after every local edit: the
// full document and, when the edit produced one, the patch to relay.
type LeaderMessage struct {
	Blob  []byte `cbor:"blob"`
	Patch []byte `cbor:"patch,omitempty"`
}

func (m LeaderMessage) Validate() error {
	if m.Blob == nil {
		return errors.New("leader message: blob is required")
	}
	return nil
}

// FollowerMessage carries a patch proposed by the follower.
type FollowerMessage struct {
	Patch []byte `cbor:"patch"`
}

func (m FollowerMessage) Validate() error {
	if m.Patch == nil {
		return errors.New("follower message: patch is required")
	}
	return nil
}

// Store is the storage collaborator used by the leader role.
type Store interface {
	Update(ctx context.Context, id string, blob []byte) error
}

type leaderParty struct {
	store Store
}

func (leaderParty) Role() Role { return Leader }

// OnMessage persists the document first so the relayed patch never
// gets ahead of storage. The write ignores cancellation: an update
// that was received is stored even if the connection ends meanwhile.
// Only the relay waits on ctx.
func (l leaderParty) OnMessage(ctx context.Context, participant *Participant, message LeaderMessage) error {
	if err := l.store.Update(context.WithoutCancel(ctx), participant.SessionID(), message.Blob); err != nil {
		return &StoreError{SessionID: participant.SessionID(), Err: err}
	}
	if message.Patch == nil {
		return nil
	}
	return participant.Send(ctx, Patch(message.Patch))
}

type followerParty struct{}

func (followerParty) Role() Role { return Follower }

func (followerParty) OnMessage(ctx context.Context, participant *Participant, message FollowerMessage) error {
	return participant.Send(ctx, Patch(message.Patch))
}
