// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig tunes a WebSocketConn.
type WebSocketConfig struct {
	// MaxMessageBytes caps inbound frame size. Zero means 16 MB.
	MaxMessageBytes int64

	// WriteTimeout bounds every frame write so a stalled browser cannot
	// pin the writer goroutine. Zero means 10 seconds.
	WriteTimeout time.Duration
}

func (c WebSocketConfig) withDefaults() WebSocketConfig {
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 16 << 20
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// WebSocketConn adapts *websocket.Conn to Conn.
type WebSocketConn struct {
	conn   *websocket.Conn
	config WebSocketConfig
}

var _ Conn = (*WebSocketConn)(nil)

// NewWebSocketConn wraps an established gorilla connection.
func NewWebSocketConn(conn *websocket.Conn, config WebSocketConfig) *WebSocketConn {
	config = config.withDefaults()
	conn.SetReadLimit(config.MaxMessageBytes)
	return &WebSocketConn{conn: conn, config: config}
}

func (c *WebSocketConn) ReadMessage() (Message, error) {
	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return Close(), nil
		}
		return Message{}, err
	}
	switch messageType {
	case websocket.TextMessage:
		return Message{Type: TextMessage, Data: data}, nil
	case websocket.BinaryMessage:
		return Message{Type: BinaryMessage, Data: data}, nil
	default:
		return Message{}, fmt.Errorf("transport: unexpected websocket message type %d", messageType)
	}
}

func (c *WebSocketConn) WriteMessage(message Message) error {
	deadline := time.Now().Add(c.config.WriteTimeout)
	switch message.Type {
	case TextMessage:
		c.conn.SetWriteDeadline(deadline)
		return c.conn.WriteMessage(websocket.TextMessage, message.Data)
	case BinaryMessage:
		c.conn.SetWriteDeadline(deadline)
		return c.conn.WriteMessage(websocket.BinaryMessage, message.Data)
	case CloseMessage:
		return c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	default:
		return fmt.Errorf("transport: cannot write %s frame", message.Type)
	}
}

func (c *WebSocketConn) Close() error {
	return c.conn.Close()
}

// UpgraderConfig configures an Upgrader.
type UpgraderConfig struct {
	// AllowedOrigins lists the Origin header values accepted from
	// browsers. Empty or ["*"] accepts any origin. Requests without an
	// Origin header (non-browser clients) are always accepted.
	AllowedOrigins []string

	// Conn is applied to every upgraded connection.
	Conn WebSocketConfig
}

// Upgrader turns HTTP requests into WebSocketConns.
type Upgrader struct {
	upgrader websocket.Upgrader
	config   WebSocketConfig
}

// NewUpgrader builds an Upgrader with origin checking.
func NewUpgrader(config UpgraderConfig) *Upgrader {
	allowAll := len(config.AllowedOrigins) == 0 ||
		(len(config.AllowedOrigins) == 1 && config.AllowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(config.AllowedOrigins))
	for _, origin := range config.AllowedOrigins {
		originSet[origin] = true
	}

	return &Upgrader{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return originSet[origin]
			},
		},
		config: config.Conn.withDefaults(),
	}
}

// Upgrade completes the websocket handshake. On failure the upgrader
// has already written an HTTP error response.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*WebSocketConn, error) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: upgrade: %w", err)
	}
	return NewWebSocketConn(conn, u.config), nil
}

// Dial opens a client websocket connection to url ("ws://" or
// "wss://"). On a failed handshake the returned error includes the
// HTTP status.
func Dial(ctx context.Context, url string, header http.Header) (*WebSocketConn, error) {
	conn, response, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if response != nil {
			return nil, &HandshakeError{StatusCode: response.StatusCode, err: err}
		}
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	return NewWebSocketConn(conn, WebSocketConfig{}), nil
}

// HandshakeError reports a websocket handshake rejected by the server.
type HandshakeError struct {
	StatusCode int
	err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("transport: handshake rejected with HTTP %d: %v", e.StatusCode, e.err)
}

func (e *HandshakeError) Unwrap() error { return e.err }
