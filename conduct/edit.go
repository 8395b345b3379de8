// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conduct

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/tandem/transport"
)

// Edit runs a solo editing connection for document id. There is no
// pairing and no registry entry. The client first receives the stored
// document as a raw binary frame (not wrapped in a client message);
// every binary frame it sends replaces the stored document. Ping is
// answered as in the paired pump, but editors are not required to
// send it: the connection only idles out when HubConfig.EditIdleTimeout
// is set. Edit takes ownership of conn and closes it before returning.
func (h *Hub) Edit(ctx context.Context, id string, conn transport.Conn, payload []byte) error {
	logger := h.logger.With(
		"session_id", id,
		"role", "editor",
		"connection_id", uuid.NewString(),
	)
	logger.Info("edit connection started")

	group, groupCtx := errgroup.WithContext(ctx)
	stopClose := context.AfterFunc(groupCtx, func() { conn.Close() })
	defer stopClose()

	mailbox := make(chan transport.Message, h.config.MailboxCapacity)
	mailbox <- transport.Binary(payload)
	frames := make(chan transport.Message)

	store := h.config.Store
	receiver := &inbound{
		clock:             h.config.Clock,
		heartbeat:         h.config.EditIdleTimeout,
		storeFailureLimit: h.config.StoreFailureLimit,
		logger:            logger,
		frames:            frames,
		mailbox:           mailbox,
		handle: func(ctx context.Context, data []byte) error {
			// A received edit is saved even if the connection drops
			// while the write is in flight.
			if err := store.Update(context.WithoutCancel(ctx), id, data); err != nil {
				return &StoreError{SessionID: id, Err: err}
			}
			return nil
		},
	}

	group.Go(recovered(logger, "reader", func() error {
		return readLoop(groupCtx, conn, frames)
	}))
	group.Go(recovered(logger, "writer", func() error {
		return writeLoop(groupCtx, conn, mailbox)
	}))
	group.Go(recovered(logger, "inbound", func() error {
		return receiver.run(groupCtx)
	}))

	err := group.Wait()
	conn.Close()
	logExit(logger, "edit connection ended", err)
	return err
}
