// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conduct

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/tandem/lib/clock"
	"github.com/bureau-foundation/tandem/lib/codec"
	"github.com/bureau-foundation/tandem/lib/netutil"
	"github.com/bureau-foundation/tandem/transport"
)

// runPump is the connection pump shared by both roles. The initial
// blob is queued before anything else so the client always sees it
// first. Five goroutines then run under one errgroup: the reader pulls
// frames off conn, the writer drains the mailbox into conn, the
// announcer tells the peer we are here, the signal forwarder relays
// the peer's queue into the mailbox, and the inbound loop dispatches
// frames. The reader and the inbound loop report every exit as an
// error, so either one ending cancels the others. Teardown starts as
// soon as the group context is cancelled.
func runPump[M Inbound](ctx context.Context, p *Participant, party Party[M], conn transport.Conn, payload []byte) error {
	p.logger.Info("session connection started")

	blob, err := encodeBlob(payload)
	if err != nil {
		p.teardown(conn)
		err = fmt.Errorf("encoding initial blob: %w", err)
		logExit(p.logger, "session connection ended", err)
		return err
	}
	mailbox := make(chan transport.Message, p.hub.config.MailboxCapacity)
	mailbox <- blob
	frames := make(chan transport.Message)

	group, groupCtx := errgroup.WithContext(ctx)
	stopTeardown := context.AfterFunc(groupCtx, func() { p.teardown(conn) })
	defer stopTeardown()

	receiver := &inbound{
		clock:             p.hub.config.Clock,
		heartbeat:         p.hub.config.Heartbeat,
		storeFailureLimit: p.hub.config.StoreFailureLimit,
		logger:            p.logger,
		frames:            frames,
		mailbox:           mailbox,
		handle:            partyHandler(p, party),
	}

	group.Go(recovered(p.logger, "reader", func() error {
		return readLoop(groupCtx, conn, frames)
	}))
	group.Go(recovered(p.logger, "writer", func() error {
		return writeLoop(groupCtx, conn, mailbox)
	}))
	group.Go(recovered(p.logger, "announcer", func() error {
		return p.announce(groupCtx)
	}))
	group.Go(recovered(p.logger, "signals", func() error {
		return p.forwardSignals(groupCtx, mailbox)
	}))
	group.Go(recovered(p.logger, "inbound", func() error {
		return receiver.run(groupCtx)
	}))

	err = group.Wait()
	p.teardown(conn)
	logExit(p.logger, "session connection ended", err)
	return err
}

// announce sends presence to the peer. If the peer is already gone the
// session is over.
func (p *Participant) announce(ctx context.Context) error {
	if err := p.outbox.Send(ctx, Presence()); errors.Is(err, ErrChannelClosed) {
		return err
	}
	return nil
}

// forwardSignals relays the peer's signals to the client in order. A
// kill is forwarded as a close frame and ends the forwarder; the
// writer ends the pump once that frame is written.
func (p *Participant) forwardSignals(ctx context.Context, mailbox chan<- transport.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case signal := <-p.inbox.Signals():
			frame, err := EncodeSignal(signal)
			if err != nil {
				p.logger.Error("dropping signal that failed to encode",
					"signal", signal.Kind.String(),
					"error", err,
				)
				continue
			}
			if err := enqueue(ctx, mailbox, frame); err != nil {
				return nil
			}
			if signal.Kind == SignalKill {
				return nil
			}
		}
	}
}

func writeLoop(ctx context.Context, conn transport.Conn, mailbox <-chan transport.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-mailbox:
			if err := conn.WriteMessage(frame); err != nil {
				return fmt.Errorf("writing %s frame: %w", frame.Type, err)
			}
			if frame.Type == transport.CloseMessage {
				return errPeerKilled
			}
		}
	}
}

// binaryHandler applies one binary frame. Returning a *StoreError
// counts toward the store failure limit; any other error ends the
// connection.
type binaryHandler func(ctx context.Context, data []byte) error

// partyHandler decodes frames as the role's message type. Frames that
// fail to decode are logged and dropped without ending the connection.
func partyHandler[M Inbound](p *Participant, party Party[M]) binaryHandler {
	return func(ctx context.Context, data []byte) error {
		message, err := decodeInbound[M](data)
		if err != nil {
			p.logger.Warn("dropping undecodable frame",
				"error", err,
				"frame", diagnose(data),
			)
			return nil
		}
		return party.OnMessage(ctx, p, message)
	}
}

// inbound consumes the frames of one connection. heartbeat is the
// longest silence the connection survives; zero disables the deadline.
type inbound struct {
	clock             clock.Clock
	heartbeat         time.Duration
	storeFailureLimit int
	logger            *slog.Logger
	frames            <-chan transport.Message
	mailbox           chan<- transport.Message
	handle            binaryHandler
}

// run dispatches frames until the connection ends. Any inbound frame,
// including an ignored one, counts as liveness.
func (in *inbound) run(ctx context.Context) error {
	var timer *clock.Timer
	var deadline <-chan time.Time
	if in.heartbeat > 0 {
		timer = in.clock.NewTimer(in.heartbeat)
		defer timer.Stop()
		deadline = timer.C
	}

	storeFailures := 0
	for {
		var frame transport.Message
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return errHeartbeatTimeout
		case frame = <-in.frames:
		}
		if timer != nil {
			timer.Reset(in.heartbeat)
		}

		switch frame.Type {
		case transport.CloseMessage:
			return errClosedByClient

		case transport.TextMessage:
			if string(frame.Data) != PingToken {
				in.logger.Debug("ignoring text frame", "length", len(frame.Data))
				continue
			}
			if err := enqueue(ctx, in.mailbox, transport.Text(PongToken)); err != nil {
				return err
			}

		case transport.BinaryMessage:
			err := in.dispatch(ctx, deadline, frame.Data)
			var storeErr *StoreError
			switch {
			case err == nil:
				storeFailures = 0
			case errors.As(err, &storeErr):
				storeFailures++
				in.logger.Error("storing update failed",
					"error", err,
					"consecutive_failures", storeFailures,
				)
				if storeFailures >= in.storeFailureLimit {
					return err
				}
			default:
				return err
			}
		}
	}
}

// dispatch runs the handler under the heartbeat deadline. A handler
// still blocked when the window closes, usually on a peer queue that
// nobody drains, is cancelled and the connection ends. No frames are
// read while a handler runs, so the window measures that wait too.
func (in *inbound) dispatch(ctx context.Context, deadline <-chan time.Time, data []byte) error {
	if deadline == nil {
		return in.handle(ctx, data)
	}
	dispatchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	finished := make(chan struct{})
	expired := make(chan bool, 1)
	go func() {
		select {
		case <-deadline:
			cancel()
			expired <- true
		case <-finished:
			expired <- false
		}
	}()

	var err error
	func() {
		defer close(finished)
		err = in.handle(dispatchCtx, data)
	}()
	if <-expired {
		return errHeartbeatTimeout
	}
	return err
}

// readLoop is the connection's single reader. A read error ends the
// pump even while the inbound loop is busy, which is what unblocks a
// handler waiting on a full peer queue after the client hung up.
// Errors caused by teardown closing conn are not reported.
func readLoop(ctx context.Context, conn transport.Conn, frames chan<- transport.Message) error {
	for {
		message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading frame: %w", err)
		}
		select {
		case frames <- message:
		case <-ctx.Done():
			return nil
		}
	}
}

func enqueue(ctx context.Context, mailbox chan<- transport.Message, frame transport.Message) error {
	select {
	case mailbox <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recovered converts a panic in a pump goroutine into an error so the
// group cancels and teardown still runs.
func recovered(logger *slog.Logger, name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("pump goroutine panicked",
					"goroutine", name,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				err = fmt.Errorf("conduct: %s goroutine panicked: %v", name, r)
			}
		}()
		return fn()
	}
}

// logExit reports why a connection ended at a level matching how
// surprising the reason is.
func logExit(logger *slog.Logger, message string, err error) {
	switch {
	case err == nil,
		errors.Is(err, errClosedByClient),
		errors.Is(err, errPeerKilled),
		errors.Is(err, ErrChannelClosed),
		errors.Is(err, context.Canceled):
		logger.Info(message, "reason", reason(err))
	case netutil.IsExpectedCloseError(err):
		logger.Debug(message, "reason", err.Error())
	case errors.Is(err, errHeartbeatTimeout):
		logger.Warn(message, "reason", err.Error())
	default:
		logger.Error(message, "error", err)
	}
}

func reason(err error) string {
	if err == nil {
		return "done"
	}
	return err.Error()
}

func diagnose(data []byte) string {
	const limit = 256
	notation, err := codec.Diagnose(data)
	if err != nil {
		notation = fmt.Sprintf("%d bytes, not CBOR", len(data))
	}
	if len(notation) > limit {
		notation = notation[:limit] + "..."
	}
	return notation
}
