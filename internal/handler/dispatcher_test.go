package handler

import (
	"encoding/json"
	"testing"
	"time"

	"zotalk/config"
	"zotalk/internal/call"
	"zotalk/internal/domain"
	"zotalk/internal/presence"
	"zotalk/internal/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct{}

func (memStore) SetOnline(string, time.Time) error  { return nil }
func (memStore) SetOffline(string, time.Time) error { return nil }

func newTestDispatcher(ringTimeout, grace time.Duration) (*Dispatcher, *ws.Registry) {
	registry := ws.NewRegistry()
	tracker := presence.NewTracker(memStore{}, registry, time.Minute, grace, time.Minute)
	coordinator := call.NewCoordinator(registry, ringTimeout)
	ice := []config.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}}
	return NewDispatcher(registry, tracker, coordinator, ice), registry
}

func connect(d *Dispatcher, id, userID string) *ws.Conn {
	c := ws.NewConn(id, userID, 32)
	d.HandleConnect(c)
	return c
}

func event(t *testing.T, typ string, payload interface{}) ws.Event {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return ws.Event{Type: typ, Payload: body}
}

// next drains queued events until one of the given type arrives.
func next(t *testing.T, c *ws.Conn, typ string) map[string]interface{} {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case data := <-c.Send:
			var evt ws.Event
			require.NoError(t, json.Unmarshal(data, &evt))
			if evt.Type != typ {
				continue
			}
			var payload map[string]interface{}
			if len(evt.Payload) > 0 {
				require.NoError(t, json.Unmarshal(evt.Payload, &payload))
			}
			return payload
		case <-deadline:
			t.Fatalf("no %s event arrived", typ)
			return nil
		}
	}
}

func assertNone(t *testing.T, c *ws.Conn, typ string) {
	t.Helper()
	for {
		select {
		case data := <-c.Send:
			var evt ws.Event
			require.NoError(t, json.Unmarshal(data, &evt))
			require.NotEqual(t, typ, evt.Type)
		default:
			return
		}
	}
}

func TestConnectSendsIceServersFirst(t *testing.T) {
	d, _ := newTestDispatcher(time.Minute, time.Second)
	c := connect(d, "c1", "alice")

	select {
	case data := <-c.Send:
		var evt ws.Event
		require.NoError(t, json.Unmarshal(data, &evt))
		assert.Equal(t, domain.EvtIceServers, evt.Type)
		var servers []config.ICEServer
		require.NoError(t, json.Unmarshal(evt.Payload, &servers))
		require.Len(t, servers, 1)
		assert.Equal(t, []string{"stun:stun.example.com:3478"}, servers[0].URLs)
	default:
		t.Fatal("expected ice-servers greeting")
	}
}

func TestConnectBroadcastsOnlineStatus(t *testing.T) {
	d, _ := newTestDispatcher(time.Minute, time.Second)
	observer := connect(d, "c1", "alice")
	connect(d, "c2", "bob")

	// The observer sees its own online broadcast first; wait for bob's.
	payload := next(t, observer, domain.EvtUserStatusChange)
	for payload["userId"] != "bob" {
		payload = next(t, observer, domain.EvtUserStatusChange)
	}
	assert.Equal(t, domain.PresenceOnline, payload["status"])
}

func TestCallFlowEndToEnd(t *testing.T) {
	d, _ := newTestDispatcher(time.Minute, time.Second)
	alice := connect(d, "c1", "alice")
	bob := connect(d, "c2", "bob")

	d.HandleEvent(alice, event(t, domain.EvtCallUser, map[string]interface{}{
		"to": "bob", "from": "alice", "fromName": "Alice", "fromAvatar": "a.png",
		"offer": "sdp-offer",
	}))
	incoming := next(t, bob, domain.EvtIncomingCall)
	assert.Equal(t, "alice", incoming["from"])
	assert.Equal(t, "Alice", incoming["fromName"])
	assert.Equal(t, "sdp-offer", incoming["offer"])
	require.NotEmpty(t, incoming["callId"])

	d.HandleEvent(bob, event(t, domain.EvtAcceptCall, map[string]interface{}{
		"to": "alice", "from": "bob", "answer": "sdp-answer",
	}))
	accepted := next(t, alice, domain.EvtCallAccepted)
	assert.Equal(t, "bob", accepted["from"])
	assert.Equal(t, "sdp-answer", accepted["answer"])

	d.HandleEvent(bob, event(t, domain.EvtIceCandidate, map[string]interface{}{
		"candidate": map[string]interface{}{"sdpMid": "0"}, "to": "alice",
	}))
	candidate := next(t, alice, domain.EvtIceCandidate)
	assert.Equal(t, "bob", candidate["from"])

	d.HandleEvent(alice, event(t, domain.EvtEndCall, map[string]interface{}{
		"to": "alice", "from": "bob",
	}))
	ended := next(t, bob, domain.EvtCallEnded)
	assert.Equal(t, "alice", ended["from"])
}

func TestAnonymousConnectionCannotCall(t *testing.T) {
	d, _ := newTestDispatcher(time.Minute, time.Second)
	anon := connect(d, "c1", "")
	bob := connect(d, "c2", "bob")

	d.HandleEvent(anon, event(t, domain.EvtCallUser, map[string]interface{}{
		"to": "bob", "offer": "sdp",
	}))
	assertNone(t, bob, domain.EvtIncomingCall)
}

func TestDisconnectTearsDownRingingCall(t *testing.T) {
	d, _ := newTestDispatcher(time.Minute, 50*time.Millisecond)
	alice := connect(d, "c1", "alice")
	bob := connect(d, "c2", "bob")

	d.HandleEvent(alice, event(t, domain.EvtCallUser, map[string]interface{}{
		"to": "bob", "offer": "sdp",
	}))
	next(t, bob, domain.EvtIncomingCall)

	d.HandleDisconnect(alice)
	ended := next(t, bob, domain.EvtCallEnded)
	assert.Equal(t, "alice", ended["from"])
	assert.Equal(t, domain.ReasonDisconnect, ended["reason"])

	// The presence grace period then commits offline.
	payload := next(t, bob, domain.EvtUserStatusChange)
	for payload["userId"] != "alice" || payload["status"] != domain.PresenceOffline {
		payload = next(t, bob, domain.EvtUserStatusChange)
	}
}

func TestSecondDeviceKeepsUserConnected(t *testing.T) {
	d, registry := newTestDispatcher(time.Minute, 20*time.Millisecond)
	phone := connect(d, "c1", "alice")
	connect(d, "c2", "alice")
	bob := connect(d, "c3", "bob")

	d.HandleEvent(phone, event(t, domain.EvtCallUser, map[string]interface{}{
		"to": "bob", "offer": "sdp",
	}))
	next(t, bob, domain.EvtIncomingCall)

	// Dropping one of two devices must not end the call or flap presence.
	d.HandleDisconnect(phone)
	time.Sleep(80 * time.Millisecond)
	assertNone(t, bob, domain.EvtCallEnded)
	assert.Equal(t, 1, registry.ConnectionCount("alice"))
}

func TestTypingRelayedWithinRoom(t *testing.T) {
	d, _ := newTestDispatcher(time.Minute, time.Second)
	alice := connect(d, "c1", "alice")
	bob := connect(d, "c2", "bob")

	d.HandleEvent(alice, event(t, domain.EvtJoinRoom, map[string]interface{}{"conversationId": "42"}))
	d.HandleEvent(bob, event(t, domain.EvtJoinRoom, map[string]interface{}{"conversationId": "42"}))

	d.HandleEvent(alice, event(t, domain.EvtTyping, map[string]interface{}{
		"conversationId": "42", "typing": true,
	}))
	typing := next(t, bob, domain.EvtTyping)
	assert.Equal(t, "alice", typing["from"])
	assert.Equal(t, true, typing["typing"])
	assertNone(t, alice, domain.EvtTyping)

	d.HandleEvent(bob, event(t, domain.EvtLeaveRoom, map[string]interface{}{"conversationId": "42"}))
	d.HandleEvent(alice, event(t, domain.EvtTyping, map[string]interface{}{
		"conversationId": "42", "typing": false,
	}))
	assertNone(t, bob, domain.EvtTyping)
}

func TestMalformedPayloadDoesNotPanic(t *testing.T) {
	d, _ := newTestDispatcher(time.Minute, time.Second)
	alice := connect(d, "c1", "alice")

	assert.NotPanics(t, func() {
		d.HandleEvent(alice, ws.Event{Type: domain.EvtCallUser, Payload: json.RawMessage(`{"to":`)})
		d.HandleEvent(alice, ws.Event{Type: "no-such-event", Payload: json.RawMessage(`{}`)})
	})
}

func TestHeartbeatKeepsUserOnlineThroughDisconnectGrace(t *testing.T) {
	d, _ := newTestDispatcher(time.Minute, 60*time.Millisecond)
	observer := connect(d, "c0", "watcher")
	alice := connect(d, "c1", "alice")

	d.HandleDisconnect(alice)

	// Reconnect inside the grace window; the offline broadcast must
	// never fire.
	reconnected := connect(d, "c2", "alice")
	d.HandleEvent(reconnected, ws.Event{Type: domain.EvtHeartbeat})

	time.Sleep(150 * time.Millisecond)
	for {
		select {
		case data := <-observer.Send:
			var evt ws.Event
			require.NoError(t, json.Unmarshal(data, &evt))
			if evt.Type == domain.EvtUserStatusChange {
				var payload map[string]interface{}
				require.NoError(t, json.Unmarshal(evt.Payload, &payload))
				if payload["userId"] == "alice" {
					assert.Equal(t, domain.PresenceOnline, payload["status"])
				}
			}
		default:
			return
		}
	}
}
