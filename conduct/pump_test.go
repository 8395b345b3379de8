// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conduct

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/tandem/lib/clock"
	"github.com/bureau-foundation/tandem/lib/codec"
	"github.com/bureau-foundation/tandem/lib/testutil"
	"github.com/bureau-foundation/tandem/transport"
)

const testTimeout = 5 * time.Second

type storeUpdate struct {
	id   string
	blob []byte
}

// memoryStore records every successful update. fail, when set, is
// consulted first and may return an error or panic.
type memoryStore struct {
	updates chan storeUpdate

	mu   sync.Mutex
	fail func(blob []byte) error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{updates: make(chan storeUpdate, 64)}
}

func (s *memoryStore) Update(ctx context.Context, id string, blob []byte) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		if err := fail(blob); err != nil {
			return err
		}
	}
	s.updates <- storeUpdate{id: id, blob: append([]byte(nil), blob...)}
	return nil
}

func (s *memoryStore) failWith(fail func(blob []byte) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *memoryStore) expectUpdate(t *testing.T, id, blob string) {
	t.Helper()
	update := testutil.RequireReceive(t, s.updates, testTimeout, "waiting for store update")
	if update.id != id || string(update.blob) != blob {
		t.Fatalf("store update = %s %q, want %s %q", update.id, update.blob, id, blob)
	}
}

// newTestHub returns a hub on a fake clock, so heartbeat windows only
// expire when a test advances time.
func newTestHub(t *testing.T, store Store, adjust func(*HubConfig)) (*Hub, *clock.FakeClock) {
	t.Helper()
	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	config := HubConfig{
		Store:  store,
		Clock:  fakeClock,
		Logger: testutil.Logger(t),
	}
	if adjust != nil {
		adjust(&config)
	}
	hub, err := NewHub(config)
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	return hub, fakeClock
}

// testClient is the client end of a pipe whose server end runs a pump.
// All frames the server writes are collected by one reader goroutine;
// frames is closed once the server hangs up.
type testClient struct {
	t      *testing.T
	conn   *transport.PipeConn
	frames chan transport.Message
}

func newTestClient(t *testing.T, conn *transport.PipeConn) *testClient {
	client := &testClient{t: t, conn: conn, frames: make(chan transport.Message, 64)}
	go func() {
		defer close(client.frames)
		for {
			frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			client.frames <- frame
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return client
}

func (c *testClient) read() transport.Message {
	c.t.Helper()
	return testutil.RequireReceive(c.t, c.frames, testTimeout, "waiting for server frame")
}

func (c *testClient) expectMessage(kind ClientMessageKind) []byte {
	c.t.Helper()
	frame := c.read()
	if frame.Type != transport.BinaryMessage {
		c.t.Fatalf("frame type = %s, want binary %s message", frame.Type, kind)
	}
	message, err := DecodeClientMessage(frame.Data)
	if err != nil {
		c.t.Fatalf("DecodeClientMessage(%x): %v", frame.Data, err)
	}
	if message.Kind != kind {
		c.t.Fatalf("message kind = %s, want %s", message.Kind, kind)
	}
	return message.Data
}

func (c *testClient) expectPatch(want []byte) {
	c.t.Helper()
	if got := c.expectMessage(KindPatch); !bytes.Equal(got, want) {
		c.t.Fatalf("patch = %x, want %x", got, want)
	}
}

func (c *testClient) expectText(want string) {
	c.t.Helper()
	frame := c.read()
	if frame.Type != transport.TextMessage || string(frame.Data) != want {
		c.t.Fatalf("frame = %s %q, want text %q", frame.Type, frame.Data, want)
	}
}

func (c *testClient) expectCloseFrame() {
	c.t.Helper()
	if frame := c.read(); frame.Type != transport.CloseMessage {
		c.t.Fatalf("frame type = %s, want close", frame.Type)
	}
}

// expectHangup waits for the server to close the connection. Only a
// trailing close frame may arrive before it does.
func (c *testClient) expectHangup() {
	c.t.Helper()
	deadline := time.After(testTimeout) //nolint:realclock test hang prevention
	for {
		select {
		case frame, ok := <-c.frames:
			if !ok {
				return
			}
			if frame.Type != transport.CloseMessage {
				c.t.Fatalf("unexpected %s frame before hangup", frame.Type)
			}
		case <-deadline:
			c.t.Fatalf("server did not hang up within %v", testTimeout)
		}
	}
}

func (c *testClient) expectNothing() {
	c.t.Helper()
	testutil.RequireNoReceive(c.t, c.frames, 50*time.Millisecond, "expected no frame")
}

func (c *testClient) send(message any) {
	c.t.Helper()
	data, err := codec.Marshal(message)
	if err != nil {
		c.t.Fatalf("Marshal: %v", err)
	}
	c.sendFrame(transport.Binary(data))
}

func (c *testClient) sendFrame(frame transport.Message) {
	c.t.Helper()
	if err := c.conn.WriteMessage(frame); err != nil {
		c.t.Fatalf("WriteMessage(%s): %v", frame.Type, err)
	}
}

func accept(t *testing.T, hub *Hub, role Role, id string, payload []byte) (*testClient, *Pump) {
	t.Helper()
	server, client := transport.Pipe()
	var pump *Pump
	var err error
	if role == Leader {
		pump, err = hub.AcceptLeader(t.Context(), id, server, payload)
	} else {
		pump, err = hub.AcceptFollower(t.Context(), id, server, payload)
	}
	if err != nil {
		t.Fatalf("Accept%s(%q): %v", role, id, err)
	}
	return newTestClient(t, client), pump
}

// pair connects a leader and then a follower and consumes the greeting
// frames on both.
func pair(t *testing.T, hub *Hub, id string, payload []byte) (leader, follower *testClient, leaderPump, followerPump *Pump) {
	t.Helper()
	leader, leaderPump = accept(t, hub, Leader, id, payload)
	follower, followerPump = accept(t, hub, Follower, id, payload)
	for _, client := range []*testClient{leader, follower} {
		if got := client.expectMessage(KindBlob); !bytes.Equal(got, payload) {
			t.Fatalf("blob = %q, want %q", got, payload)
		}
		client.expectMessage(KindPresence)
	}
	return leader, follower, leaderPump, followerPump
}

func expectStatus(t *testing.T, hub *Hub, id string, want Status) Session {
	t.Helper()
	session, ok := hub.Registry().Lookup(id)
	if !ok {
		t.Fatalf("session %q not in registry, want %s", id, want)
	}
	if session.Status != want {
		t.Fatalf("session %q status = %s, want %s", id, session.Status, want)
	}
	return session
}

func expectEmptyRegistry(t *testing.T, hub *Hub) {
	t.Helper()
	if n := hub.Registry().Len(); n != 0 {
		t.Fatalf("registry holds %d sessions, want 0", n)
	}
}

func TestPairingEitherOrder(t *testing.T) {
	tests := []struct {
		name        string
		first       Role
		second      Role
		firstStatus Status
	}{
		{"leader first", Leader, Follower, WaitingForFollower},
		{"follower first", Follower, Leader, WaitingForLeader},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			hub, _ := newTestHub(t, newMemoryStore(), nil)
			payload := []byte("document P")

			first, _ := accept(t, hub, test.first, "s1", payload)
			if got := first.expectMessage(KindBlob); string(got) != "document P" {
				t.Fatalf("first blob = %q", got)
			}
			expectStatus(t, hub, "s1", test.firstStatus)
			first.expectNothing()

			second, _ := accept(t, hub, test.second, "s1", payload)
			if got := second.expectMessage(KindBlob); string(got) != "document P" {
				t.Fatalf("second blob = %q", got)
			}
			second.expectMessage(KindPresence)
			first.expectMessage(KindPresence)
			expectStatus(t, hub, "s1", Established)
		})
	}
}

func TestPatchRelay(t *testing.T) {
	store := newMemoryStore()
	hub, _ := newTestHub(t, store, nil)
	leader, follower, _, _ := pair(t, hub, "doc", []byte("v1"))

	for i := range 20 {
		follower.send(FollowerMessage{Patch: []byte{byte(i)}})
	}
	for i := range 20 {
		leader.expectPatch([]byte{byte(i)})
	}

	leader.send(LeaderMessage{Blob: []byte("v2"), Patch: []byte("delta")})
	store.expectUpdate(t, "doc", "v2")
	follower.expectPatch([]byte("delta"))

	// A leader update without a patch is stored but not relayed.
	leader.send(LeaderMessage{Blob: []byte("v3")})
	store.expectUpdate(t, "doc", "v3")
	follower.expectNothing()

	// Empty patches are relayed, not mistaken for absent ones.
	follower.send(FollowerMessage{Patch: []byte{}})
	leader.expectPatch([]byte{})
}

func TestFollowerCloseEndsSession(t *testing.T) {
	store := newMemoryStore()
	hub, _ := newTestHub(t, store, nil)
	leader, follower, leaderPump, followerPump := pair(t, hub, "doc", []byte("v1"))

	follower.sendFrame(transport.Close())
	follower.expectHangup()
	testutil.RequireClosed(t, followerPump.Done(), testTimeout, "follower pump exit")

	// The follower's teardown released the slot before the leader was
	// told to go.
	leader.expectCloseFrame()
	if session, ok := hub.Registry().Lookup("doc"); ok {
		t.Fatalf("session still registered as %s when the leader got its close frame", session.Status)
	}
	leader.expectHangup()
	testutil.RequireClosed(t, leaderPump.Done(), testTimeout, "leader pump exit")

	expectEmptyRegistry(t, hub)
	if len(store.updates) != 0 {
		t.Errorf("store received %d updates, want 0", len(store.updates))
	}
}

func TestLeaderDisconnectAfterEdit(t *testing.T) {
	store := newMemoryStore()
	hub, _ := newTestHub(t, store, nil)
	leader, follower, leaderPump, followerPump := pair(t, hub, "s1", []byte("P"))

	follower.send(FollowerMessage{Patch: []byte{1, 2}})
	leader.expectPatch([]byte{1, 2})

	leader.send(LeaderMessage{Blob: []byte("Q")})
	store.expectUpdate(t, "s1", "Q")

	leader.conn.Close()
	testutil.RequireClosed(t, leaderPump.Done(), testTimeout, "leader pump exit")

	follower.expectCloseFrame()
	follower.expectHangup()
	testutil.RequireClosed(t, followerPump.Done(), testTimeout, "follower pump exit")
	expectEmptyRegistry(t, hub)
}

func TestHeartbeatTimeout(t *testing.T) {
	hub, fakeClock := newTestHub(t, newMemoryStore(), nil)
	leader, pump := accept(t, hub, Leader, "doc", []byte("v1"))
	leader.expectMessage(KindBlob)
	fakeClock.WaitForTimers(1)

	fakeClock.Advance(4 * time.Second)
	leader.sendFrame(transport.Text(PingToken))
	leader.expectText(PongToken)

	// The ping restarted the window at t=4s, so t=8s is still inside it.
	fakeClock.Advance(4 * time.Second)
	testutil.RequireNoReceive(t, pump.Done(), 50*time.Millisecond, "pump ended inside the heartbeat window")

	fakeClock.Advance(time.Second)
	testutil.RequireClosed(t, pump.Done(), testTimeout, "pump exit after heartbeat timeout")
	leader.expectHangup()
	expectEmptyRegistry(t, hub)
}

// waitParked waits until the parked inbox of a waiting session holds n
// signals.
func waitParked(t *testing.T, hub *Hub, id string, n int) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for {
		session := expectStatus(t, hub, id, WaitingForFollower)
		if len(session.pending.Inbox.Signals()) == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("parked inbox of %q holds %d signals, want %d",
				id, len(session.pending.Inbox.Signals()), n)
		}
		time.Sleep(time.Millisecond)
	}
}

// overfillWaitingLeader connects a leader with no follower and sends
// count patches. The first SignalCapacity-1 fit behind the presence
// signal; the next one leaves the leader blocked relaying it.
func overfillWaitingLeader(t *testing.T, hub *Hub, store *memoryStore, count int) (*testClient, *Pump) {
	t.Helper()
	leader, pump := accept(t, hub, Leader, "doc", []byte("v"))
	leader.expectMessage(KindBlob)
	waitParked(t, hub, "doc", 1)

	for i := range count {
		leader.send(LeaderMessage{Blob: []byte("v" + strconv.Itoa(i)), Patch: []byte{byte(i)}})
	}
	// Each update is stored before its patch is relayed, so the last
	// stored update is the one whose relay is stuck.
	for i := range hub.config.SignalCapacity {
		store.expectUpdate(t, "doc", "v"+strconv.Itoa(i))
	}
	waitParked(t, hub, "doc", hub.config.SignalCapacity)
	return leader, pump
}

func expectRejoin(t *testing.T, hub *Hub) {
	t.Helper()
	expectEmptyRegistry(t, hub)
	leader, pump := accept(t, hub, Leader, "doc", []byte("again"))
	if got := leader.expectMessage(KindBlob); string(got) != "again" {
		t.Fatalf("rejoined blob = %q, want %q", got, "again")
	}
	expectStatus(t, hub, "doc", WaitingForFollower)
	leader.sendFrame(transport.Close())
	testutil.RequireClosed(t, pump.Done(), testTimeout, "rejoined pump exit")
}

func TestBlockedLeaderHangupReleasesSlot(t *testing.T) {
	store := newMemoryStore()
	hub, _ := newTestHub(t, store, nil)
	leader, pump := overfillWaitingLeader(t, hub, store, hub.config.SignalCapacity)
	testutil.RequireNoReceive(t, pump.Done(), 50*time.Millisecond, "pump ended before the hangup")

	leader.conn.Close()
	testutil.RequireClosed(t, pump.Done(), testTimeout, "pump exit after hangup")
	leader.expectHangup()
	expectRejoin(t, hub)
}

func TestBlockedLeaderHeartbeatReleasesSlot(t *testing.T) {
	store := newMemoryStore()
	hub, fakeClock := newTestHub(t, store, nil)
	// More frames than fit, so the reader is also stuck handing one
	// over and cannot notice anything on the connection.
	leader, pump := overfillWaitingLeader(t, hub, store, hub.config.SignalCapacity+4)
	fakeClock.WaitForTimers(1)

	fakeClock.Advance(hub.config.Heartbeat)
	testutil.RequireClosed(t, pump.Done(), testTimeout, "pump exit after heartbeat timeout")
	leader.expectHangup()
	expectRejoin(t, hub)
}

func TestUnknownTextIsIgnored(t *testing.T) {
	hub, fakeClock := newTestHub(t, newMemoryStore(), nil)
	leader, pump := accept(t, hub, Leader, "doc", []byte("v1"))
	leader.expectMessage(KindBlob)
	fakeClock.WaitForTimers(1)

	fakeClock.Advance(3 * time.Second)
	leader.sendFrame(transport.Text("hello"))
	leader.sendFrame(transport.Text(PingToken))
	leader.expectText(PongToken)
	leader.expectNothing()

	fakeClock.Advance(4 * time.Second)
	testutil.RequireNoReceive(t, pump.Done(), 50*time.Millisecond, "pump ended after ignored text")
}

func TestReconnectAfterTeardown(t *testing.T) {
	hub, _ := newTestHub(t, newMemoryStore(), nil)
	leader, _, leaderPump, followerPump := pair(t, hub, "doc", []byte("v1"))
	first := expectStatus(t, hub, "doc", Established)

	leader.conn.Close()
	testutil.RequireClosed(t, leaderPump.Done(), testTimeout, "leader pump exit")
	testutil.RequireClosed(t, followerPump.Done(), testTimeout, "follower pump exit")
	expectEmptyRegistry(t, hub)

	leader, follower, _, _ := pair(t, hub, "doc", []byte("v2"))
	second := expectStatus(t, hub, "doc", Established)
	if second.Epoch == first.Epoch {
		t.Fatalf("reconnected session reused epoch %d", first.Epoch)
	}
	follower.send(FollowerMessage{Patch: []byte("after")})
	leader.expectPatch([]byte("after"))
}

func TestUndecodableFramesAreDropped(t *testing.T) {
	hub, _ := newTestHub(t, newMemoryStore(), nil)
	leader, follower, _, _ := pair(t, hub, "doc", []byte("v1"))

	follower.sendFrame(transport.Binary([]byte{0xFF, 0xFE}))
	follower.send(map[string]int{"cursor": 3})
	follower.send(FollowerMessage{Patch: []byte("kept")})

	leader.expectPatch([]byte("kept"))
	leader.expectNothing()
}

func TestLeaderWithoutBlobIsDropped(t *testing.T) {
	store := newMemoryStore()
	hub, _ := newTestHub(t, store, nil)
	leader, follower, _, _ := pair(t, hub, "doc", []byte("v1"))

	leader.send(map[string][]byte{"patch": []byte("orphan")})
	leader.send(LeaderMessage{Blob: []byte("v2"), Patch: []byte("real")})

	store.expectUpdate(t, "doc", "v2")
	follower.expectPatch([]byte("real"))
}

func TestProtocolViolations(t *testing.T) {
	hub, _ := newTestHub(t, newMemoryStore(), nil)
	accept(t, hub, Leader, "doc", nil)
	waiting := expectStatus(t, hub, "doc", WaitingForFollower)

	if _, err := hub.JoinLeader("doc"); !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("second JoinLeader = %v, want ErrProtocolViolation", err)
	}
	if after := expectStatus(t, hub, "doc", WaitingForFollower); after.Epoch != waiting.Epoch {
		t.Fatalf("rejected join changed epoch %d -> %d", waiting.Epoch, after.Epoch)
	}

	accept(t, hub, Follower, "doc", nil)
	expectStatus(t, hub, "doc", Established)
	for _, joinRole := range []func(string) (*Participant, error){hub.JoinLeader, hub.JoinFollower} {
		if _, err := joinRole("doc"); !errors.Is(err, ErrProtocolViolation) {
			t.Fatalf("join on established session = %v, want ErrProtocolViolation", err)
		}
	}
	expectStatus(t, hub, "doc", Established)
}

func TestStoreFailureEndsLeader(t *testing.T) {
	store := newMemoryStore()
	store.failWith(func([]byte) error { return errors.New("disk full") })
	hub, _ := newTestHub(t, store, nil)
	leader, follower, leaderPump, followerPump := pair(t, hub, "doc", []byte("v1"))

	leader.send(LeaderMessage{Blob: []byte("v2"), Patch: []byte("lost")})
	leader.expectHangup()
	testutil.RequireClosed(t, leaderPump.Done(), testTimeout, "leader pump exit")

	// The patch never reaches the follower; the kill does.
	follower.expectCloseFrame()
	testutil.RequireClosed(t, followerPump.Done(), testTimeout, "follower pump exit")
	expectEmptyRegistry(t, hub)
}

func TestStoreFailureLimit(t *testing.T) {
	store := newMemoryStore()
	var calls int
	store.failWith(func([]byte) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})
	hub, _ := newTestHub(t, store, func(config *HubConfig) { config.StoreFailureLimit = 2 })
	leader, follower, leaderPump, _ := pair(t, hub, "doc", []byte("v1"))

	leader.send(LeaderMessage{Blob: []byte("v2"), Patch: []byte("first")})
	leader.send(LeaderMessage{Blob: []byte("v3"), Patch: []byte("second")})

	store.expectUpdate(t, "doc", "v3")
	follower.expectPatch([]byte("second"))
	testutil.RequireNoReceive(t, leaderPump.Done(), 50*time.Millisecond, "leader ended below the failure limit")
}

func TestPanicInStoreTearsDown(t *testing.T) {
	store := newMemoryStore()
	store.failWith(func([]byte) error { panic("corrupt index") })
	hub, _ := newTestHub(t, store, nil)
	leader, follower, leaderPump, _ := pair(t, hub, "doc", []byte("v1"))

	leader.send(LeaderMessage{Blob: []byte("v2")})
	testutil.RequireClosed(t, leaderPump.Done(), testTimeout, "leader pump exit after panic")
	leader.expectHangup()
	follower.expectCloseFrame()
	expectEmptyRegistry(t, hub)
}

func TestContextCancelEndsPump(t *testing.T) {
	hub, _ := newTestHub(t, newMemoryStore(), nil)
	server, clientConn := transport.Pipe()
	ctx, cancel := context.WithCancel(t.Context())
	pump, err := hub.AcceptLeader(ctx, "doc", server, []byte("v1"))
	if err != nil {
		t.Fatalf("AcceptLeader: %v", err)
	}
	client := newTestClient(t, clientConn)
	client.expectMessage(KindBlob)

	cancel()
	testutil.RequireClosed(t, pump.Done(), testTimeout, "pump exit after cancel")
	client.expectHangup()
	expectEmptyRegistry(t, hub)
}

func TestAbandonReleasesSlot(t *testing.T) {
	hub, _ := newTestHub(t, newMemoryStore(), nil)
	participant, err := hub.JoinLeader("doc")
	if err != nil {
		t.Fatalf("JoinLeader: %v", err)
	}
	participant.Abandon()
	expectEmptyRegistry(t, hub)

	server, _ := transport.Pipe()
	if err := participant.Run(t.Context(), server, nil); !errors.Is(err, errAlreadyRunning) {
		t.Fatalf("Run after Abandon = %v, want errAlreadyRunning", err)
	}

	if _, err := hub.JoinFollower("doc"); err != nil {
		t.Fatalf("JoinFollower after Abandon: %v", err)
	}
	expectStatus(t, hub, "doc", WaitingForLeader)
}

func TestStaleTeardownKeepsNewerSession(t *testing.T) {
	hub, _ := newTestHub(t, newMemoryStore(), nil)
	stale, err := hub.JoinLeader("doc")
	if err != nil {
		t.Fatalf("JoinLeader: %v", err)
	}
	hub.Registry().Remove("doc")

	fresh, err := hub.JoinLeader("doc")
	if err != nil {
		t.Fatalf("JoinLeader after Remove: %v", err)
	}
	stale.Abandon()

	session := expectStatus(t, hub, "doc", WaitingForFollower)
	if session.Epoch != fresh.epoch {
		t.Fatalf("registry epoch = %d, want the fresh participant's %d", session.Epoch, fresh.epoch)
	}
}

func TestLeaderWaitingWhenFollowerAbandons(t *testing.T) {
	hub, _ := newTestHub(t, newMemoryStore(), nil)
	leader, leaderPump := accept(t, hub, Leader, "doc", []byte("v1"))
	leader.expectMessage(KindBlob)

	follower, err := hub.JoinFollower("doc")
	if err != nil {
		t.Fatalf("JoinFollower: %v", err)
	}
	follower.Abandon()

	// An abandoned follower never announced itself; its teardown kill
	// still ends the leader.
	leader.expectCloseFrame()
	testutil.RequireClosed(t, leaderPump.Done(), testTimeout, "leader pump exit")
	expectEmptyRegistry(t, hub)
}

func TestNewHubRequiresStore(t *testing.T) {
	if _, err := NewHub(HubConfig{}); err == nil {
		t.Fatal("NewHub without a Store succeeded")
	}
}
