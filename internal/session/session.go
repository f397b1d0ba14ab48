// Package session implements the Session Keeper: an in-memory,
// TTL-reaped map from minion-id to liveness record.
package session

import (
	"sync"
	"time"

	"github.com/sysinspect/sysinspect/api/types"
)

// Keeper tracks at most one live Session per minion-id.
type Keeper struct {
	mu       sync.Mutex
	sessions map[string]types.Session
	ttl      time.Duration
	now      func() time.Time
}

// New creates a Keeper that reaps sessions idle for longer than ttl.
func New(ttl time.Duration) *Keeper {
	return &Keeper{
		sessions: make(map[string]types.Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// sweep removes every session older than its ttl. Caller must hold mu.
func (k *Keeper) sweep() {
	now := k.now()
	for id, s := range k.sessions {
		if s.Expired(now) {
			delete(k.sessions, id)
		}
	}
}

// Ping refreshes minionID's last-seen time, creating a new session with
// first_seen = now if none exists. Idempotent.
func (k *Keeper) Ping(minionID, sessionID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.sweep()

	now := k.now()
	s, ok := k.sessions[minionID]
	if !ok {
		s = types.Session{MinionID: minionID, FirstSeen: now, TTL: k.ttl}
	}
	s.SessionID = sessionID
	s.LastSeen = now
	if s.TTL == 0 {
		s.TTL = k.ttl
	}
	k.sessions[minionID] = s
}

// Alive reports whether minionID has a non-expired session.
func (k *Keeper) Alive(minionID string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	s, ok := k.sessions[minionID]
	if !ok {
		return false
	}
	return !s.Expired(k.now())
}

// Exists reports whether minionID has any session record, expired or not.
func (k *Keeper) Exists(minionID string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.sessions[minionID]
	return ok
}

// Uptime returns how long minionID's current session has existed. Zero if
// no session exists.
func (k *Keeper) Uptime(minionID string) time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()

	s, ok := k.sessions[minionID]
	if !ok {
		return 0
	}
	return s.Uptime(k.now())
}

// Remove drops minionID's session unconditionally.
func (k *Keeper) Remove(minionID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.sweep()
	delete(k.sessions, minionID)
}

// Get returns minionID's current session record, if any.
func (k *Keeper) Get(minionID string) (types.Session, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.sessions[minionID]
	return s, ok
}
