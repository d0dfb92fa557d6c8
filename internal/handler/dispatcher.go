package handler

import (
	"encoding/json"
	"log"

	"zotalk/config"
	"zotalk/internal/call"
	"zotalk/internal/domain"
	"zotalk/internal/presence"
	"zotalk/internal/ws"
)

// Dispatcher routes inbound connection events to the registry, the
// presence tracker and the call coordinator. It has no transport
// dependency so event routing is testable without a live socket.
type Dispatcher struct {
	registry   *ws.Registry
	tracker    *presence.Tracker
	calls      *call.Coordinator
	iceServers []config.ICEServer
}

func NewDispatcher(registry *ws.Registry, tracker *presence.Tracker, calls *call.Coordinator, iceServers []config.ICEServer) *Dispatcher {
	return &Dispatcher{registry: registry, tracker: tracker, calls: calls, iceServers: iceServers}
}

// HandleConnect wires a fresh connection in: registry membership, the
// user's inbox channel, a first heartbeat, and the one-time ice-servers
// greeting.
func (d *Dispatcher) HandleConnect(c *ws.Conn) {
	d.registry.Register(c)
	d.registry.SendToConn(c, domain.EvtIceServers, d.iceServers)
	if c.UserID != "" {
		d.registry.Join(c, domain.UserChannel(c.UserID))
		d.tracker.RecordHeartbeat(c.UserID)
	}
}

// HandleDisconnect unregisters the connection; when it was the user's
// last one, tears down their calls synchronously and schedules the
// presence grace check.
func (d *Dispatcher) HandleDisconnect(c *ws.Conn) {
	remaining := d.registry.Unregister(c)
	if c.UserID != "" && remaining == 0 {
		d.calls.HandleDisconnect(c.UserID)
		d.tracker.HandleDisconnect(c.UserID)
	}
	c.Close()
}

// HandleEvent routes one inbound event. Panics are caught here so a
// malformed event can never take down the read loop.
func (d *Dispatcher) HandleEvent(c *ws.Conn, evt ws.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[dispatch] panic handling %s from %s: %v", evt.Type, c.ID, r)
		}
	}()
	switch evt.Type {
	case domain.EvtHeartbeat:
		d.tracker.RecordHeartbeat(c.UserID)
	case domain.EvtCallUser:
		var p struct {
			Offer      json.RawMessage `json:"offer"`
			To         string          `json:"to"`
			From       string          `json:"from"`
			FromName   string          `json:"fromName"`
			FromAvatar string          `json:"fromAvatar"`
		}
		if !decode(evt, &p) || c.UserID == "" || p.To == "" {
			return
		}
		d.calls.Initiate(c.UserID, p.To, p.Offer, call.Meta{Name: p.FromName, Avatar: p.FromAvatar})
	case domain.EvtAcceptCall:
		var p struct {
			To     string          `json:"to"`
			From   string          `json:"from"`
			Answer json.RawMessage `json:"answer"`
		}
		if !decode(evt, &p) {
			return
		}
		d.calls.Accept(p.To, p.From, p.Answer)
	case domain.EvtRejectCall:
		var p struct {
			To     string `json:"to"`
			From   string `json:"from"`
			Reason string `json:"reason"`
		}
		if !decode(evt, &p) {
			return
		}
		d.calls.Reject(p.To, p.From, p.Reason)
	case domain.EvtEndCall:
		var p struct {
			To   string `json:"to"`
			From string `json:"from"`
		}
		if !decode(evt, &p) {
			return
		}
		d.calls.End(c.UserID, p.To, p.From)
	case domain.EvtIceCandidate:
		var p struct {
			Candidate json.RawMessage `json:"candidate"`
			To        string          `json:"to"`
		}
		if !decode(evt, &p) || p.To == "" {
			return
		}
		d.calls.RelayIce(c.UserID, p.To, p.Candidate)
	case domain.EvtJoinRoom:
		var p struct {
			ConversationID string `json:"conversationId"`
		}
		if !decode(evt, &p) || p.ConversationID == "" {
			return
		}
		d.registry.Join(c, domain.ConversationChannel(p.ConversationID))
	case domain.EvtLeaveRoom:
		var p struct {
			ConversationID string `json:"conversationId"`
		}
		if !decode(evt, &p) || p.ConversationID == "" {
			return
		}
		d.registry.Leave(c, domain.ConversationChannel(p.ConversationID))
	case domain.EvtTyping:
		var p struct {
			ConversationID string `json:"conversationId"`
			Typing         bool   `json:"typing"`
		}
		if !decode(evt, &p) || p.ConversationID == "" || c.UserID == "" {
			return
		}
		d.registry.SendToChannel(domain.ConversationChannel(p.ConversationID), c, domain.EvtTyping, map[string]interface{}{
			"conversationId": p.ConversationID,
			"from":           c.UserID,
			"typing":         p.Typing,
		})
	default:
		log.Printf("[dispatch] unknown event %q from %s", evt.Type, c.ID)
	}
}

func decode(evt ws.Event, dst interface{}) bool {
	if err := json.Unmarshal(evt.Payload, dst); err != nil {
		log.Printf("[dispatch] bad %s payload: %v", evt.Type, err)
		return false
	}
	return true
}
