package cluster

import "testing"

type fakeLiveness struct{ dead map[string]bool }

func (f fakeLiveness) Alive(id string) bool { return !f.dead[id] }

type fakeTasks struct{ counts map[string]int }

func (f fakeTasks) TaskCount(id string) int { return f.counts[id] }

type fakeHosts struct{}

func (fakeHosts) MatchesQuery(id, query string) bool { return MatchesGlob(query, id) }

func TestDecidePicksLowestIOWeightWithinJitter(t *testing.T) {
	s := New(fakeLiveness{dead: map[string]bool{}}, fakeTasks{counts: map[string]int{"A": 0, "B": 2, "C": 1}}, fakeHosts{})
	s.UpdatePulse("A", Pulse{IOBps: 100})
	s.UpdatePulse("B", Pulse{IOBps: 10})
	s.UpdatePulse("C", Pulse{IOBps: 10})

	got, ok := s.Decide("*", []string{"A", "B", "C"})
	if !ok {
		t.Fatal("expected a decision")
	}
	if got != "C" {
		t.Fatalf("expected C, got %s", got)
	}
}

func TestDecideDropsDeadCandidates(t *testing.T) {
	s := New(fakeLiveness{dead: map[string]bool{"A": true}}, fakeTasks{counts: map[string]int{"A": 0, "B": 1}}, fakeHosts{})
	s.UpdatePulse("A", Pulse{IOBps: 1})
	s.UpdatePulse("B", Pulse{IOBps: 5})

	got, ok := s.Decide("*", []string{"A", "B"})
	if !ok || got != "B" {
		t.Fatalf("expected B (A dead), got %q ok=%v", got, ok)
	}
}

func TestDecideNoneAliveReturnsFalse(t *testing.T) {
	s := New(fakeLiveness{dead: map[string]bool{"A": true, "B": true}}, fakeTasks{counts: map[string]int{}}, fakeHosts{})
	_, ok := s.Decide("*", []string{"A", "B"})
	if ok {
		t.Fatal("expected no decision when nothing is alive")
	}
}

func TestDecideFiltersByHostnamePattern(t *testing.T) {
	s := New(fakeLiveness{dead: map[string]bool{}}, fakeTasks{counts: map[string]int{"web-1": 0, "db-1": 0}}, fakeHosts{})
	s.UpdatePulse("web-1", Pulse{IOBps: 1})
	s.UpdatePulse("db-1", Pulse{IOBps: 1})

	got, ok := s.Decide("web-*", []string{"web-1", "db-1"})
	if !ok || got != "web-1" {
		t.Fatalf("expected web-1, got %q ok=%v", got, ok)
	}
}

func TestDecideZeroIOTiesBrokenByTaskCount(t *testing.T) {
	s := New(fakeLiveness{dead: map[string]bool{}}, fakeTasks{counts: map[string]int{"A": 3, "B": 1}}, fakeHosts{})
	got, ok := s.Decide("*", []string{"A", "B"})
	if !ok || got != "B" {
		t.Fatalf("expected B (lower task count, both io_bps zero), got %q ok=%v", got, ok)
	}
}

func TestDecideJitterExcludesFarOutlier(t *testing.T) {
	// A has far more tasks than the minimum + jitter, so even with a better
	// io-weight it must be excluded from consideration.
	s := New(fakeLiveness{dead: map[string]bool{}}, fakeTasks{counts: map[string]int{"A": 10, "B": 1}}, fakeHosts{})
	s.UpdatePulse("A", Pulse{IOBps: 1})
	s.UpdatePulse("B", Pulse{IOBps: 100})

	got, ok := s.Decide("*", []string{"A", "B"})
	if !ok || got != "B" {
		t.Fatalf("expected B (A excluded by jitter), got %q ok=%v", got, ok)
	}
}
