// Package eidhub deduplicates in-flight event chains: an event id claimed
// by Add stays claimed until its TTL lapses or Drop releases it, so the
// reactor does not re-trigger the same action chain while it is already
// running.
package eidhub

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type item struct {
	expiresAt time.Time
}

// Hub is a TTL-deduplicated set of event ids.
type Hub struct {
	lg  *zap.Logger
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	store map[string]item
}

// New returns a Hub whose entries expire after ttl.
func New(ttl time.Duration, lg *zap.Logger) *Hub {
	return &Hub{lg: lg, ttl: ttl, now: time.Now, store: make(map[string]item)}
}

func masked(eid string) bool {
	return strings.ContainsAny(eid, "$*")
}

// Add claims eid for callerID, returning false if eid is already claimed
// and not yet expired, or if eid is a wildcard/masked pattern (which is
// never a valid id to hold a lock on).
func (h *Hub) Add(callerID, eid string) bool {
	if masked(eid) {
		h.lg.Error("registering a masked eid for an action chain is not allowed", zap.String("caller", callerID), zap.String("eid", eid))
		return false
	}

	now := h.now()
	h.mu.Lock()
	defer h.mu.Unlock()

	if it, ok := h.store[eid]; ok {
		if it.expiresAt.After(now) {
			return false
		}
		delete(h.store, eid)
	}
	h.store[eid] = item{expiresAt: now.Add(h.ttl)}
	return true
}

// Drop releases eid immediately, regardless of TTL.
func (h *Hub) Drop(callerID, eid string) {
	if masked(eid) {
		h.lg.Error("dropping a masked eid is not allowed", zap.String("caller", callerID), zap.String("eid", eid))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.store, eid)
}

// Get reports whether eid is currently claimed and not expired, and
// refreshes its TTL if so (auto-touch, matching an actively running chain).
func (h *Hub) Get(eid string) bool {
	now := h.now()
	h.mu.Lock()
	defer h.mu.Unlock()

	it, ok := h.store[eid]
	if !ok {
		return false
	}
	if !it.expiresAt.After(now) {
		delete(h.store, eid)
		return false
	}
	it.expiresAt = now.Add(h.ttl)
	h.store[eid] = it
	return true
}
