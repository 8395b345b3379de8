// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"io"
	"net"
	"sync"
)

// pipeBuffer is how many frames may be in flight in each direction
// before WriteMessage blocks.
const pipeBuffer = 64

// Pipe returns two connected in-memory Conns. Frames written to one
// are read from the other in order. After one end is closed, the other
// end still reads the frames already in flight and then gets io.EOF;
// its writes fail with io.ErrClosedPipe. Operations on a closed end
// return net.ErrClosed.
func Pipe() (*PipeConn, *PipeConn) {
	aToB := make(chan Message, pipeBuffer)
	bToA := make(chan Message, pipeBuffer)
	aClosed := make(chan struct{})
	bClosed := make(chan struct{})

	a := &PipeConn{inbound: bToA, outbound: aToB, closed: aClosed, peerClosed: bClosed}
	b := &PipeConn{inbound: aToB, outbound: bToA, closed: bClosed, peerClosed: aClosed}
	return a, b
}

// PipeConn is one end of a Pipe.
type PipeConn struct {
	inbound    <-chan Message
	outbound   chan<- Message
	closed     chan struct{}
	peerClosed <-chan struct{}
	closeOnce  sync.Once
}

var _ Conn = (*PipeConn)(nil)

func (p *PipeConn) ReadMessage() (Message, error) {
	select {
	case <-p.closed:
		return Message{}, net.ErrClosed
	default:
	}

	select {
	case message := <-p.inbound:
		return message, nil
	case <-p.closed:
		return Message{}, net.ErrClosed
	case <-p.peerClosed:
		// Deliver anything written before the peer closed.
		select {
		case message := <-p.inbound:
			return message, nil
		default:
			return Message{}, io.EOF
		}
	}
}

func (p *PipeConn) WriteMessage(message Message) error {
	select {
	case <-p.closed:
		return net.ErrClosed
	case <-p.peerClosed:
		return io.ErrClosedPipe
	default:
	}

	data := append([]byte(nil), message.Data...)
	select {
	case p.outbound <- Message{Type: message.Type, Data: data}:
		return nil
	case <-p.closed:
		return net.ErrClosed
	case <-p.peerClosed:
		return io.ErrClosedPipe
	}
}

func (p *PipeConn) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

// Closed is closed once Close has been called on this end. Tests use
// it to observe server-side teardown.
func (p *PipeConn) Closed() <-chan struct{} {
	return p.closed
}
