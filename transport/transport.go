// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "fmt"

// MessageType identifies the kind of frame carried by a Message.
type MessageType int

const (
	// TextMessage frames carry UTF-8 control tokens ("ping"/"pong").
	TextMessage MessageType = iota + 1

	// BinaryMessage frames carry one encoded protocol message.
	BinaryMessage

	// CloseMessage announces that the sender is done. After reading
	// one, the next ReadMessage returns an error.
	CloseMessage
)

func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	case CloseMessage:
		return "close"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Message is one frame.
type Message struct {
	Type MessageType
	Data []byte
}

// Text returns a text frame.
func Text(s string) Message { return Message{Type: TextMessage, Data: []byte(s)} }

// Binary returns a binary frame.
func Binary(data []byte) Message { return Message{Type: BinaryMessage, Data: data} }

// Close returns a close frame.
func Close() Message { return Message{Type: CloseMessage} }

// Conn is a message-oriented duplex connection. ReadMessage and
// WriteMessage may each be called from one goroutine at a time; Close
// is safe to call concurrently with both and more than once.
type Conn interface {
	// ReadMessage blocks for the next frame. A close frame from the
	// peer is returned as a CloseMessage with a nil error.
	ReadMessage() (Message, error)

	// WriteMessage sends one frame. Writing a CloseMessage sends a
	// normal-closure close frame; the connection should be closed
	// afterwards.
	WriteMessage(Message) error

	// Close releases the connection and unblocks pending calls.
	Close() error
}
