// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"

	"github.com/gorilla/websocket"
	"golang.org/x/sys/unix"
)

// IsExpectedCloseError reports whether err is a normal end of a peer
// connection: EOF, a locally closed connection, broken pipe, connection
// reset, or a websocket close frame with a normal, going-away or
// no-status code. Browsers produce all of these when a tab is closed.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return true
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno == unix.EPIPE || errno == unix.ECONNRESET || errno == unix.ECONNABORTED
	}
	return false
}
