// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conduct

import (
	"errors"
	"fmt"
)

// ErrChannelClosed is returned when a signal is sent to a peer whose
// pump has stopped consuming. It means the session is ending; callers
// stop the connection without reporting an error to the user.
var ErrChannelClosed = errors.New("conduct: peer signal channel closed")

// ErrProtocolViolation is returned by Join when the registry holds a
// state the arriving role cannot pair with: a second connection for a
// role that is already waiting, or a third connection for a session
// that is already established. The registry is left untouched.
var ErrProtocolViolation = errors.New("conduct: protocol violation")

// StoreError wraps a failure of the storage collaborator while
// applying a leader update. The underlying error is preserved for
// errors.Is and errors.As.
type StoreError struct {
	SessionID string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("conduct: storing session %q: %v", e.SessionID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Pump exit reasons. Every exit of the inbound loop is reported as an
// error so the errgroup cancels the remaining pump goroutines.
var (
	errHeartbeatTimeout = errors.New("no inbound traffic within heartbeat window")
	errClosedByClient   = errors.New("client sent close frame")
	errPeerKilled       = errors.New("peer ended the session")
	errAlreadyRunning   = errors.New("conduct: participant already running")
)
