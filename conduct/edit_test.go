// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conduct

import (
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/tandem/lib/testutil"
	"github.com/bureau-foundation/tandem/transport"
)

func startEdit(t *testing.T, hub *Hub, id string, payload []byte) (*testClient, <-chan error) {
	t.Helper()
	server, client := transport.Pipe()
	result := make(chan error, 1)
	go func() { result <- hub.Edit(t.Context(), id, server, payload) }()
	return newTestClient(t, client), result
}

func TestEditSavesEveryFrame(t *testing.T) {
	store := newMemoryStore()
	hub, _ := newTestHub(t, store, nil)
	editor, result := startEdit(t, hub, "doc", []byte("raw document"))

	// The initial document is sent as is, not wrapped in a message map.
	if frame := editor.read(); frame.Type != transport.BinaryMessage || string(frame.Data) != "raw document" {
		t.Fatalf("first frame = %s %q", frame.Type, frame.Data)
	}

	editor.sendFrame(transport.Binary([]byte("v2")))
	store.expectUpdate(t, "doc", "v2")
	editor.sendFrame(transport.Text(PingToken))
	editor.expectText(PongToken)
	editor.sendFrame(transport.Binary([]byte("v3")))
	store.expectUpdate(t, "doc", "v3")

	if hub.Registry().Len() != 0 {
		t.Fatal("edit connection created a registry entry")
	}

	editor.sendFrame(transport.Close())
	err := testutil.RequireReceive(t, result, testTimeout, "Edit return")
	if !errors.Is(err, errClosedByClient) {
		t.Fatalf("Edit = %v, want errClosedByClient", err)
	}
	editor.expectHangup()
}

func TestEditStoreFailure(t *testing.T) {
	store := newMemoryStore()
	store.failWith(func([]byte) error { return errors.New("read-only") })
	hub, _ := newTestHub(t, store, nil)
	editor, result := startEdit(t, hub, "doc", nil)
	editor.read()

	editor.sendFrame(transport.Binary([]byte("v2")))
	err := testutil.RequireReceive(t, result, testTimeout, "Edit return")
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.SessionID != "doc" {
		t.Fatalf("Edit = %v, want *StoreError for doc", err)
	}
	editor.expectHangup()
}

func TestEditIdleTimeout(t *testing.T) {
	idle := 30 * time.Second
	hub, fakeClock := newTestHub(t, newMemoryStore(), func(config *HubConfig) {
		config.EditIdleTimeout = idle
	})
	editor, result := startEdit(t, hub, "doc", nil)
	editor.read()

	fakeClock.WaitForTimers(1)
	fakeClock.Advance(idle)
	err := testutil.RequireReceive(t, result, testTimeout, "Edit return")
	if !errors.Is(err, errHeartbeatTimeout) {
		t.Fatalf("Edit = %v, want errHeartbeatTimeout", err)
	}
	editor.expectHangup()
}

// Editors do not ping, so by default an idle editor is kept for as
// long as its connection stays open.
func TestIdleEditorOutlivesHeartbeat(t *testing.T) {
	store := newMemoryStore()
	hub, fakeClock := newTestHub(t, store, nil)
	editor, result := startEdit(t, hub, "doc", nil)
	editor.read()

	fakeClock.Advance(3 * hub.config.Heartbeat)
	testutil.RequireNoReceive(t, result, 50*time.Millisecond, "Edit returned while the editor was idle")

	editor.sendFrame(transport.Text(PingToken))
	editor.expectText(PongToken)
	editor.sendFrame(transport.Binary([]byte("late")))
	store.expectUpdate(t, "doc", "late")

	editor.conn.Close()
	err := testutil.RequireReceive(t, result, testTimeout, "Edit return")
	if err == nil || errors.Is(err, errHeartbeatTimeout) {
		t.Fatalf("Edit = %v, want a read error", err)
	}
}
