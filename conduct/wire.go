// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conduct

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/tandem/lib/codec"
	"github.com/bureau-foundation/tandem/transport"
)

// Liveness tokens exchanged as text frames. A client sends PingToken
// at least once per heartbeat window; the server answers PongToken.
const (
	PingToken = "ping"
	PongToken = "pong"
)

// ClientMessageKind names the single key of an outbound frame map.
type ClientMessageKind string

const (
	// KindBlob carries the full document, sent once on connect.
	KindBlob ClientMessageKind = "blob"

	// KindPresence announces the peer. Its value is always 0.
	KindPresence ClientMessageKind = "presence"

	// KindPatch carries a relayed patch.
	KindPatch ClientMessageKind = "patch"
)

// ClientMessage is one binary frame sent to a participant. On the
// wire it is a CBOR map with exactly one key:
//
//	{"blob": h'...'}   initial document
//	{"presence": 0}    the peer is connected
//	{"patch": h'...'}  a patch from the peer
type ClientMessage struct {
	Kind ClientMessageKind
	Data []byte
}

// MarshalCBOR encodes the single-key map. Nil data is encoded as an
// empty byte string so clients never see null.
func (m ClientMessage) MarshalCBOR() ([]byte, error) {
	switch m.Kind {
	case KindPresence:
		return codec.Marshal(map[string]uint8{string(KindPresence): 0})
	case KindBlob, KindPatch:
		data := m.Data
		if data == nil {
			data = []byte{}
		}
		return codec.Marshal(map[string][]byte{string(m.Kind): data})
	default:
		return nil, fmt.Errorf("conduct: unknown client message kind %q", m.Kind)
	}
}

// UnmarshalCBOR decodes a single-key frame map.
func (m *ClientMessage) UnmarshalCBOR(data []byte) error {
	var fields map[string]codec.RawMessage
	if err := codec.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 1 {
		return fmt.Errorf("conduct: client message has %d keys, want 1", len(fields))
	}
	for key, raw := range fields {
		kind := ClientMessageKind(key)
		switch kind {
		case KindPresence:
			*m = ClientMessage{Kind: kind}
			return nil
		case KindBlob, KindPatch:
			var payload []byte
			if err := codec.Unmarshal(raw, &payload); err != nil {
				return fmt.Errorf("conduct: %s payload: %w", kind, err)
			}
			*m = ClientMessage{Kind: kind, Data: payload}
			return nil
		default:
			return fmt.Errorf("conduct: unknown client message kind %q", key)
		}
	}
	return errors.New("unreachable")
}

// DecodeClientMessage parses a binary frame received from the server.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var message ClientMessage
	err := codec.Unmarshal(data, &message)
	return message, err
}

// EncodeSignal maps a signal to its frame: presence and patch become
// binary frames, kill becomes a close frame.
func EncodeSignal(signal Signal) (transport.Message, error) {
	switch signal.Kind {
	case SignalPresence:
		return encodeClientMessage(ClientMessage{Kind: KindPresence})
	case SignalPatch:
		return encodeClientMessage(ClientMessage{Kind: KindPatch, Data: signal.Patch})
	case SignalKill:
		return transport.Close(), nil
	default:
		return transport.Message{}, fmt.Errorf("conduct: cannot encode %s signal", signal.Kind)
	}
}

// encodeBlob frames the initial document.
func encodeBlob(blob []byte) (transport.Message, error) {
	return encodeClientMessage(ClientMessage{Kind: KindBlob, Data: blob})
}

func encodeClientMessage(message ClientMessage) (transport.Message, error) {
	data, err := codec.Marshal(message)
	if err != nil {
		return transport.Message{}, err
	}
	return transport.Binary(data), nil
}

// decodeInbound parses a binary frame as the role's message type.
func decodeInbound[M Inbound](data []byte) (M, error) {
	var message M
	if err := codec.Unmarshal(data, &message); err != nil {
		return message, err
	}
	if err := message.Validate(); err != nil {
		return message, err
	}
	return message, nil
}
