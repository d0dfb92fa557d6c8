package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"zotalk/internal/domain"
)

// StatusStore persists online/offline status downstream. Calls are
// best-effort: a failure is logged and never blocks eviction.
type StatusStore interface {
	SetOnline(userID string, at time.Time) error
	SetOffline(userID string, lastActive time.Time) error
}

// Broadcaster publishes presence changes to every live connection.
type Broadcaster interface {
	BroadcastAll(event string, payload interface{})
}

type record struct {
	lastBeat time.Time
	grace    *time.Timer
}

// Tracker is the sole source of truth for "is user U online". It keeps
// a last-heartbeat timestamp per user, demotes stale users on a
// periodic sweep, and debounces disconnects with a grace timer so a
// quick reconnect never flaps the broadcast status.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*record

	store         StatusStore
	bus           Broadcaster
	onlineTimeout time.Duration
	graceDelay    time.Duration
	sweepInterval time.Duration
}

func NewTracker(store StatusStore, bus Broadcaster, onlineTimeout, graceDelay, sweepInterval time.Duration) *Tracker {
	return &Tracker{
		records:       make(map[string]*record),
		store:         store,
		bus:           bus,
		onlineTimeout: onlineTimeout,
		graceDelay:    graceDelay,
		sweepInterval: sweepInterval,
	}
}

// RecordHeartbeat upserts the user's last-seen timestamp. The first
// heartbeat after an absence announces the user online; any heartbeat
// cancels a pending disconnect-grace check.
func (t *Tracker) RecordHeartbeat(userID string) {
	if userID == "" {
		return
	}
	now := time.Now()
	t.mu.Lock()
	r, known := t.records[userID]
	if known {
		r.lastBeat = now
		if r.grace != nil {
			r.grace.Stop()
			r.grace = nil
		}
	} else {
		t.records[userID] = &record{lastBeat: now}
	}
	t.mu.Unlock()
	if !known {
		t.announce(userID, domain.PresenceOnline, now)
	}
}

// IsOnline reports whether the user has a live presence record.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.records[userID]
	return ok
}

// LastSeen returns the user's last heartbeat, if any.
func (t *Tracker) LastSeen(userID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[userID]
	if !ok {
		return time.Time{}, false
	}
	return r.lastBeat, true
}

// HandleDisconnect schedules the deferred offline check for a user
// whose last connection just closed. Offline is only committed if no
// heartbeat arrives within the grace window.
func (t *Tracker) HandleDisconnect(userID string) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[userID]
	if !ok {
		return
	}
	since := time.Now()
	if r.grace != nil {
		r.grace.Stop()
	}
	r.grace = time.AfterFunc(t.graceDelay, func() {
		t.commitOffline(userID, since)
	})
}

// commitOffline fires when the grace timer elapses. A heartbeat after
// the disconnect aborts the demotion.
func (t *Tracker) commitOffline(userID string, since time.Time) {
	t.mu.Lock()
	r, ok := t.records[userID]
	if !ok {
		t.mu.Unlock()
		return
	}
	if r.lastBeat.After(since) {
		r.grace = nil
		t.mu.Unlock()
		return
	}
	lastBeat := r.lastBeat
	delete(t.records, userID)
	t.mu.Unlock()
	t.evict(userID, lastBeat)
}

// Sweep evicts every record whose heartbeat is older than the online
// timeout. Safe to call repeatedly; absent users are untouched.
func (t *Tracker) Sweep(now time.Time) {
	type stale struct {
		userID   string
		lastBeat time.Time
	}
	t.mu.Lock()
	var evicted []stale
	for id, r := range t.records {
		if now.Sub(r.lastBeat) > t.onlineTimeout {
			if r.grace != nil {
				r.grace.Stop()
			}
			delete(t.records, id)
			evicted = append(evicted, stale{userID: id, lastBeat: r.lastBeat})
		}
	}
	t.mu.Unlock()
	for _, s := range evicted {
		t.evict(s.userID, s.lastBeat)
	}
}

// Run drives the periodic sweep until the context is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Sweep(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tracker) evict(userID string, lastActive time.Time) {
	if err := t.store.SetOffline(userID, lastActive); err != nil {
		log.Printf("[presence] persist offline for %s: %v", userID, err)
	}
	t.broadcast(userID, domain.PresenceOffline, lastActive)
}

func (t *Tracker) announce(userID, status string, at time.Time) {
	if err := t.store.SetOnline(userID, at); err != nil {
		log.Printf("[presence] persist online for %s: %v", userID, err)
	}
	t.broadcast(userID, status, at)
}

func (t *Tracker) broadcast(userID, status string, lastActive time.Time) {
	t.bus.BroadcastAll(domain.EvtUserStatusChange, map[string]interface{}{
		"userId":     userID,
		"status":     status,
		"lastActive": lastActive,
	})
}
