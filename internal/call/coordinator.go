package call

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"zotalk/internal/domain"
)

// Sender delivers an event to every live connection of a user.
type Sender interface {
	SendToUser(userID, event string, payload interface{})
}

// Session is one call attempt between two identities. The zero state
// is ringing; ended sessions are removed from the table, never kept.
type Session struct {
	ID        string
	Caller    string
	Callee    string
	Offer     json.RawMessage
	State     string
	CreatedAt time.Time

	timer *time.Timer
}

// Meta is the caller's display metadata, embedded in the initiate
// payload by the client; the coordinator never looks it up.
type Meta struct {
	Name   string
	Avatar string
}

// Coordinator owns the call-session table and negotiates at most one
// call per identity pair at a time: ringing -> active -> ended, where
// ringing can short-circuit to ended via timeout, reject or disconnect.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]*Session

	sender      Sender
	ringTimeout time.Duration
}

func NewCoordinator(sender Sender, ringTimeout time.Duration) *Coordinator {
	return &Coordinator{
		sessions:    make(map[string]*Session),
		sender:      sender,
		ringTimeout: ringTimeout,
	}
}

// findByPair returns the live session for the unordered pair {a, b}.
// Caller/callee roles are normalized away: {A,B} and {B,A} are the
// same logical call. Caller must hold c.mu.
func (c *Coordinator) findByPair(a, b string) *Session {
	for _, s := range c.sessions {
		if (s.Caller == a && s.Callee == b) || (s.Caller == b && s.Callee == a) {
			return s
		}
	}
	return nil
}

// sessionID combines both identities with a monotonic timestamp so two
// rapid successive calls between the same pair never collide.
func sessionID(caller, callee string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%d", caller, callee, at.UnixNano())
}

// Initiate handles call-user from self. An in-flight call for the pair
// answers busy; otherwise a ringing session is created, the expiry
// timer armed, and the offer delivered to the callee. If the callee is
// offline the event is dropped by the registry and the caller learns
// of failure through the ring timeout.
func (c *Coordinator) Initiate(self, to string, offer json.RawMessage, meta Meta) {
	c.mu.Lock()
	if existing := c.findByPair(self, to); existing != nil {
		c.mu.Unlock()
		log.Printf("[call] %s -> %s busy (session %s)", self, to, existing.ID)
		c.sender.SendToUser(self, domain.EvtCallBusy, map[string]interface{}{"from": to})
		return
	}
	now := time.Now()
	s := &Session{
		ID:        sessionID(self, to, now),
		Caller:    self,
		Callee:    to,
		Offer:     offer,
		State:     domain.CallStateRinging,
		CreatedAt: now,
	}
	id := s.ID
	s.timer = time.AfterFunc(c.ringTimeout, func() { c.expire(id) })
	c.sessions[id] = s
	c.mu.Unlock()
	log.Printf("[call] %s -> %s ringing (session %s)", self, to, id)
	c.sender.SendToUser(to, domain.EvtIncomingCall, map[string]interface{}{
		"from":       self,
		"fromName":   meta.Name,
		"fromAvatar": meta.Avatar,
		"offer":      offer,
		"callId":     id,
	})
}

// Accept handles accept-call. to/from carry the original caller and
// callee roles; the pair lookup is role-agnostic. A stale accept (the
// call already timed out or ended) answers call-error to both parties
// since either side's view may be out of date.
func (c *Coordinator) Accept(to, from string, answer json.RawMessage) {
	c.mu.Lock()
	s := c.findByPair(to, from)
	if s == nil {
		c.mu.Unlock()
		payload := map[string]interface{}{"error": "call no longer exists"}
		c.sender.SendToUser(to, domain.EvtCallError, payload)
		c.sender.SendToUser(from, domain.EvtCallError, payload)
		return
	}
	if s.State == domain.CallStateActive {
		c.mu.Unlock()
		return
	}
	s.timer.Stop()
	s.State = domain.CallStateActive
	caller, callee := s.Caller, s.Callee
	c.mu.Unlock()
	log.Printf("[call] %s <-> %s active (session %s)", caller, callee, s.ID)
	c.sender.SendToUser(caller, domain.EvtCallAccepted, map[string]interface{}{
		"answer": answer,
		"from":   callee,
	})
}

// Reject handles reject-call. A missing session is a silent no-op: the
// call already ended through another path.
func (c *Coordinator) Reject(to, from, reason string) {
	if reason == "" {
		reason = domain.ReasonUserRejected
	}
	c.mu.Lock()
	s := c.findByPair(to, from)
	if s == nil {
		c.mu.Unlock()
		return
	}
	s.timer.Stop()
	delete(c.sessions, s.ID)
	caller, callee := s.Caller, s.Callee
	c.mu.Unlock()
	log.Printf("[call] %s -> %s rejected: %s (session %s)", callee, caller, reason, s.ID)
	c.sender.SendToUser(caller, domain.EvtCallRejected, map[string]interface{}{
		"from":   callee,
		"reason": reason,
	})
}

// End handles end-call from self; the counterparty gets call-ended.
// A missing session is a no-op.
func (c *Coordinator) End(self, to, from string) {
	c.mu.Lock()
	s := c.findByPair(to, from)
	if s == nil {
		c.mu.Unlock()
		return
	}
	s.timer.Stop()
	delete(c.sessions, s.ID)
	other := s.Caller
	if other == self {
		other = s.Callee
	}
	c.mu.Unlock()
	log.Printf("[call] %s ended session %s", self, s.ID)
	c.sender.SendToUser(other, domain.EvtCallEnded, map[string]interface{}{"from": self})
}

// RelayIce forwards an ICE candidate to the target, tagged with the
// sender's identity. Stateless: candidates may arrive before or after
// session transitions, so no session is consulted.
func (c *Coordinator) RelayIce(self, to string, candidate json.RawMessage) {
	c.sender.SendToUser(to, domain.EvtIceCandidate, map[string]interface{}{
		"candidate": candidate,
		"from":      self,
	})
}

// HandleDisconnect tears down every session the user is part of and
// notifies each counterparty. Runs synchronously in the disconnect
// path; dropped calls must not linger behind a grace period.
func (c *Coordinator) HandleDisconnect(userID string) {
	if userID == "" {
		return
	}
	c.mu.Lock()
	var notify []string
	for id, s := range c.sessions {
		if s.Caller != userID && s.Callee != userID {
			continue
		}
		s.timer.Stop()
		delete(c.sessions, id)
		other := s.Caller
		if other == userID {
			other = s.Callee
		}
		notify = append(notify, other)
	}
	c.mu.Unlock()
	for _, other := range notify {
		c.sender.SendToUser(other, domain.EvtCallEnded, map[string]interface{}{
			"from":   userID,
			"reason": domain.ReasonDisconnect,
		})
	}
}

// expire fires when the ring timer elapses. The session may have been
// accepted, rejected or torn down in the meantime; the re-check under
// the lock makes a raced timer a no-op.
func (c *Coordinator) expire(id string) {
	c.mu.Lock()
	s, ok := c.sessions[id]
	if !ok || s.State != domain.CallStateRinging {
		c.mu.Unlock()
		return
	}
	delete(c.sessions, id)
	caller, callee := s.Caller, s.Callee
	c.mu.Unlock()
	log.Printf("[call] %s -> %s timed out (session %s)", caller, callee, id)
	c.sender.SendToUser(caller, domain.EvtCallTimeout, map[string]interface{}{"from": callee})
}

// ActiveSessions reports how many sessions are live.
func (c *Coordinator) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
