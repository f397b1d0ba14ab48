package eidhub

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestAddRejectsMaskedPatterns(t *testing.T) {
	h := New(time.Second, zap.NewNop())
	if h.Add("caller", "a|$|c|d") {
		t.Error("expected a $-masked eid to be rejected")
	}
	if h.Add("caller", "a|*|c|d") {
		t.Error("expected a *-masked eid to be rejected")
	}
}

func TestAddClaimsThenBlocksUntilDrop(t *testing.T) {
	h := New(time.Minute, zap.NewNop())
	if !h.Add("caller", "chain-1") {
		t.Fatal("expected first claim to succeed")
	}
	if h.Add("other-caller", "chain-1") {
		t.Error("expected a second claim on the same chain to be rejected while still held")
	}
	h.Drop("caller", "chain-1")
	if !h.Add("other-caller", "chain-1") {
		t.Error("expected claim to succeed again after Drop")
	}
}

func TestAddReclaimsAfterExpiry(t *testing.T) {
	h := New(time.Minute, zap.NewNop())
	now := time.Now()
	h.now = func() time.Time { return now }

	if !h.Add("caller", "chain-1") {
		t.Fatal("expected first claim to succeed")
	}
	now = now.Add(2 * time.Minute)
	if !h.Add("other-caller", "chain-1") {
		t.Error("expected claim to succeed once the TTL has lapsed")
	}
}

func TestGetTouchesTTL(t *testing.T) {
	h := New(time.Minute, zap.NewNop())
	now := time.Now()
	h.now = func() time.Time { return now }
	h.Add("caller", "chain-1")

	now = now.Add(30 * time.Second)
	if !h.Get("chain-1") {
		t.Fatal("expected chain-1 to still be claimed")
	}
	// Get refreshed the expiry from the 30s mark, so another 45s (75s total
	// from the original Add) should still be within the new TTL window.
	now = now.Add(45 * time.Second)
	if !h.Get("chain-1") {
		t.Error("expected Get to have refreshed the TTL on touch")
	}
}

func TestGetReportsFalseForUnknownOrExpired(t *testing.T) {
	h := New(time.Minute, zap.NewNop())
	if h.Get("never-claimed") {
		t.Error("expected Get on an unknown eid to report false")
	}

	now := time.Now()
	h.now = func() time.Time { return now }
	h.Add("caller", "chain-1")
	now = now.Add(2 * time.Minute)
	if h.Get("chain-1") {
		t.Error("expected Get on an expired eid to report false")
	}
}
