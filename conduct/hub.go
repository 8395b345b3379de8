// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conduct

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/tandem/lib/clock"
	"github.com/bureau-foundation/tandem/transport"
)

// HubConfig configures a Hub. Store is required; zero values elsewhere
// take the defaults noted on each field.
type HubConfig struct {
	// Store persists leader updates and solo edits.
	Store Store

	// Clock drives heartbeat windows. Defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Heartbeat is the longest inbound silence a connection survives.
	// Default 5s.
	Heartbeat time.Duration

	// SignalCapacity bounds each direction of a session's signal
	// queues. Default 16.
	SignalCapacity int

	// MailboxCapacity bounds the frames queued for one connection's
	// writer. Default 16.
	MailboxCapacity int

	// StoreFailureLimit is how many consecutive storage failures end a
	// leader or editor connection. Default 1.
	StoreFailureLimit int

	// EditIdleTimeout is the longest inbound silence a solo edit
	// connection survives. Zero, the default, disables it: edit
	// clients are not required to ping.
	EditIdleTimeout time.Duration

	// KillTimeout bounds the best-effort kill notification sent to the
	// peer after a connection ends. Default 5s.
	KillTimeout time.Duration
}

func (c HubConfig) withDefaults() HubConfig {
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 5 * time.Second
	}
	if c.SignalCapacity <= 0 {
		c.SignalCapacity = 16
	}
	if c.MailboxCapacity <= 0 {
		c.MailboxCapacity = 16
	}
	if c.StoreFailureLimit <= 0 {
		c.StoreFailureLimit = 1
	}
	if c.KillTimeout <= 0 {
		c.KillTimeout = 5 * time.Second
	}
	return c
}

// Hub pairs leader and follower connections and runs their pumps. One
// Hub serves every session of a process.
type Hub struct {
	config   HubConfig
	registry *Registry
	leader   leaderParty
	follower followerParty
	logger   *slog.Logger
}

// NewHub creates a Hub with an empty registry.
func NewHub(config HubConfig) (*Hub, error) {
	if config.Store == nil {
		return nil, errors.New("conduct: HubConfig.Store is required")
	}
	config = config.withDefaults()
	return &Hub{
		config:   config,
		registry: NewRegistry(),
		leader:   leaderParty{store: config.Store},
		logger:   config.Logger,
	}, nil
}

// Registry exposes the session registry for diagnostics and for
// callers that need to force-remove a session.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// JoinLeader pairs a leader connection for session id. The returned
// Participant must be either Run or Abandoned.
func (h *Hub) JoinLeader(id string) (*Participant, error) {
	return join(h, id, h.leader)
}

// JoinFollower pairs a follower connection for session id.
func (h *Hub) JoinFollower(id string) (*Participant, error) {
	return join(h, id, h.follower)
}

// AcceptLeader pairs conn as the leader of session id and starts its
// pump. On error nothing was started and conn is untouched.
func (h *Hub) AcceptLeader(ctx context.Context, id string, conn transport.Conn, payload []byte) (*Pump, error) {
	participant, err := h.JoinLeader(id)
	if err != nil {
		return nil, err
	}
	return participant.start(ctx, conn, payload), nil
}

// AcceptFollower pairs conn as the follower of session id and starts
// its pump.
func (h *Hub) AcceptFollower(ctx context.Context, id string, conn transport.Conn, payload []byte) (*Pump, error) {
	participant, err := h.JoinFollower(id)
	if err != nil {
		return nil, err
	}
	return participant.start(ctx, conn, payload), nil
}

func join[M Inbound](h *Hub, id string, party Party[M]) (*Participant, error) {
	role := party.Role()
	ends, epoch, err := h.registry.rendezvous(id, role, h.config.SignalCapacity)
	if err != nil {
		h.logger.Error("session pairing rejected",
			"session_id", id,
			"role", role.String(),
			"error", err,
		)
		return nil, err
	}

	participant := &Participant{
		hub:          h,
		sessionID:    id,
		role:         role,
		epoch:        epoch,
		outbox:       ends.Outbox,
		inbox:        ends.Inbox,
		connectionID: uuid.NewString(),
	}
	participant.logger = h.logger.With(
		"session_id", id,
		"role", role.String(),
		"connection_id", participant.connectionID,
	)
	participant.pump = func(ctx context.Context, conn transport.Conn, payload []byte) error {
		return runPump(ctx, participant, party, conn, payload)
	}
	participant.logger.Debug("session joined", "epoch", epoch)
	return participant, nil
}

// Pump is a running connection pump started by AcceptLeader or
// AcceptFollower.
type Pump struct {
	done chan struct{}
}

// Done is closed when the pump has exited and torn down.
func (p *Pump) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the pump exits or ctx ends.
func (p *Pump) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("conduct: waiting for pump: %w", ctx.Err())
	}
}
