package websocket

import (
	"testing"
	"time"
)

func newTestManager(maxConnPerSession int) *Manager {
	return NewManager(maxConnPerSession, time.Second, time.Second, time.Second)
}

func testClient(id, deviceID, sessionID string, buffer int) *Client {
	return &Client{
		ID:        id,
		ActorID:   "actor-" + id,
		DeviceID:  deviceID,
		SessionID: sessionID,
		Send:      make(chan []byte, buffer),
	}
}

func TestManager_RegisterClient_ConnectionCap(t *testing.T) {
	m := newTestManager(1)

	first := testClient("a", "d1", "s1", 4)
	second := testClient("b", "d2", "s1", 4)

	if err := m.RegisterClient(first); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := m.RegisterClient(second); err != ErrSessionFull {
		t.Errorf("expected ErrSessionFull at the cap, got %v", err)
	}

	if got := m.SessionConnections("s1"); got != 1 {
		t.Errorf("expected 1 connection, got %d", got)
	}

	// A rejected client's channel stays open; no pumps ever start for
	// it, so a later inbound send must not panic.
	select {
	case second.Send <- []byte("x"):
	default:
		t.Error("rejected client's send channel should remain usable")
	}

	// Another session is unaffected by the cap.
	other := testClient("c", "d3", "s2", 4)
	if err := m.RegisterClient(other); err != nil {
		t.Errorf("registration in another session: %v", err)
	}
}

func TestManager_BroadcastToSession_ExcludesOriginDevice(t *testing.T) {
	m := newTestManager(8)

	origin := testClient("a", "d1", "s1", 4)
	peer := testClient("b", "d2", "s1", 4)
	outside := testClient("c", "d3", "s2", 4)

	m.RegisterClient(origin)
	m.RegisterClient(peer)
	m.RegisterClient(outside)

	msg, _ := NewMessage(TypeOperation, nil)
	if err := m.BroadcastToSession("s1", msg, "d1"); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if len(origin.Send) != 0 {
		t.Error("origin device must not receive its own broadcast")
	}
	if len(peer.Send) != 1 {
		t.Errorf("expected peer to receive the broadcast, got %d messages", len(peer.Send))
	}
	if len(outside.Send) != 0 {
		t.Error("clients of other sessions must not receive the broadcast")
	}
}

func TestManager_BroadcastToSession_FullBufferDoesNotBlock(t *testing.T) {
	m := newTestManager(8)
	go m.Run()

	stuck := testClient("a", "d1", "s1", 0)
	m.RegisterClient(stuck)

	msg, _ := NewMessage(TypeOperation, nil)

	done := make(chan struct{})
	go func() {
		m.BroadcastToSession("s1", msg, "")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a client with a full buffer")
	}

	// The stuck client gets evicted rather than stalling the hub.
	deadline := time.After(time.Second)
	for m.SessionConnections("s1") != 0 {
		select {
		case <-deadline:
			t.Fatal("expected the stuck client to be unregistered")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
