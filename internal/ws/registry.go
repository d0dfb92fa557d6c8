package ws

import (
	"encoding/json"
	"log"
	"sync"
)

// Event is the wire envelope for every message in either direction.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func marshalEvent(event string, payload interface{}) ([]byte, bool) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[ws] marshal %s payload: %v", event, err)
		return nil, false
	}
	data, err := json.Marshal(Event{Type: event, Payload: body})
	if err != nil {
		log.Printf("[ws] marshal %s envelope: %v", event, err)
		return nil, false
	}
	return data, true
}

// Conn represents a single live transport connection with user context.
// UserID is empty for anonymous connections.
type Conn struct {
	ID     string
	UserID string
	Send   chan []byte

	mu     sync.Mutex
	closed bool
}

func NewConn(id, userID string, buffer int) *Conn {
	return &Conn{ID: id, UserID: userID, Send: make(chan []byte, buffer)}
}

// Close shuts the send channel exactly once; safe to call repeatedly.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

func (c *Conn) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- data:
	default:
		// Slow consumer; drop rather than block the sender.
	}
}

// Registry maintains the user identity <-> connection mapping and the
// channel (room) memberships, and exposes the directed-send primitives.
// A user may own multiple concurrent connections (phone + web).
type Registry struct {
	mu       sync.RWMutex
	conns    map[*Conn]struct{}
	byUser   map[string]map[*Conn]struct{}
	channels map[string]map[*Conn]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:    make(map[*Conn]struct{}),
		byUser:   make(map[string]map[*Conn]struct{}),
		channels: make(map[string]map[*Conn]struct{}),
	}
}

// Register associates a connection with its user identity. Idempotent.
// Connections without an identity are still tracked for broadcasts.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = struct{}{}
	if c.UserID == "" {
		return
	}
	if r.byUser[c.UserID] == nil {
		r.byUser[c.UserID] = make(map[*Conn]struct{})
	}
	r.byUser[c.UserID][c] = struct{}{}
}

// Unregister removes the connection from every mapping it was part of
// and reports how many connections remain for its user identity.
func (r *Registry) Unregister(c *Conn) (remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
	for name, members := range r.channels {
		delete(members, c)
		if len(members) == 0 {
			delete(r.channels, name)
		}
	}
	if c.UserID == "" {
		return 0
	}
	if m := r.byUser[c.UserID]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(r.byUser, c.UserID)
		} else {
			return len(m)
		}
	}
	return 0
}

// ConnectionCount reports live connections for a user identity.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// Join adds the connection to a named channel.
func (r *Registry) Join(c *Conn, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channels[channel] == nil {
		r.channels[channel] = make(map[*Conn]struct{})
	}
	r.channels[channel][c] = struct{}{}
}

// Leave removes the connection from a named channel.
func (r *Registry) Leave(c *Conn, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members := r.channels[channel]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(r.channels, channel)
		}
	}
}

// SendToConn delivers the event to one specific connection.
func (r *Registry) SendToConn(c *Conn, event string, payload interface{}) {
	data, ok := marshalEvent(event, payload)
	if !ok {
		return
	}
	c.enqueue(data)
}

// SendToUser delivers the event to every live connection of the user.
// A user with no live connection is a silent no-op, and a nil registry
// (startup race) logs and drops instead of panicking.
func (r *Registry) SendToUser(userID, event string, payload interface{}) {
	if r == nil {
		log.Printf("[ws] registry not ready, dropping %s for %s", event, userID)
		return
	}
	data, ok := marshalEvent(event, payload)
	if !ok {
		return
	}
	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.byUser[userID]))
	for c := range r.byUser[userID] {
		targets = append(targets, c)
	}
	r.mu.RUnlock()
	for _, c := range targets {
		c.enqueue(data)
	}
}

// BroadcastAll delivers the event to every live connection.
func (r *Registry) BroadcastAll(event string, payload interface{}) {
	if r == nil {
		log.Printf("[ws] registry not ready, dropping broadcast %s", event)
		return
	}
	data, ok := marshalEvent(event, payload)
	if !ok {
		return
	}
	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()
	for _, c := range targets {
		c.enqueue(data)
	}
}

// SendToChannel delivers the event to every channel member except from.
func (r *Registry) SendToChannel(channel string, from *Conn, event string, payload interface{}) {
	if r == nil {
		log.Printf("[ws] registry not ready, dropping %s for channel %s", event, channel)
		return
	}
	data, ok := marshalEvent(event, payload)
	if !ok {
		return
	}
	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.channels[channel]))
	for c := range r.channels[channel] {
		if c != from {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()
	for _, c := range targets {
		c.enqueue(data)
	}
}
