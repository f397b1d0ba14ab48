// Package cluster implements the in-memory Cluster Scheduler: a
// virtual minion aggregates a set of physical minions selected by a
// hostname pattern, and Decide picks the least-loaded live candidate to
// actually execute one dispatch. Heartbeat metrics are pushed into the
// scheduler by the transport's heartbeat handler rather than polled, so
// Decide always reads from a plain mutex-protected map of last-known pulses.
package cluster

import (
	"path/filepath"
	"sync"

	"github.com/sysinspect/sysinspect/api/types"
)

// Pulse is the heartbeat-piggyback metrics snapshot for one physical
// minion, updated by the transport's heartbeat handler.
type Pulse = types.Pulse

// Liveness reports whether a minion-id currently has a live session. The
// Cluster Scheduler depends on the Session Keeper only through this
// narrow interface, not on a concrete type.
type Liveness interface {
	Alive(minionID string) bool
}

// TaskCounter reports how many tasks are currently assigned to a minion.
// Backed by whatever tracks in-flight dispatches per minion.
type TaskCounter interface {
	TaskCount(minionID string) int
}

// HostnameResolver reports whether a minion-id's known hostname(s) match a
// glob query.
type HostnameResolver interface {
	MatchesQuery(minionID, query string) bool
}

const defaultJitter = 3

// Scheduler resolves a virtual hostname query to one physical minion id by
// live I/O pressure and current task load.
type Scheduler struct {
	session Liveness
	tasks   TaskCounter
	hosts   HostnameResolver
	jitter  int

	mu     sync.Mutex
	pulses map[string]Pulse
}

// New returns a Scheduler backed by session (liveness), tasks (load) and
// hosts (hostname matching).
func New(session Liveness, tasks TaskCounter, hosts HostnameResolver) *Scheduler {
	return &Scheduler{session: session, tasks: tasks, hosts: hosts, jitter: defaultJitter, pulses: make(map[string]Pulse)}
}

// UpdatePulse records minionID's latest heartbeat-piggyback metrics.
func (s *Scheduler) UpdatePulse(minionID string, p Pulse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulses[minionID] = p
}

func (s *Scheduler) pulse(minionID string) Pulse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulses[minionID]
}

// Decide returns the physical minion id backing a virtual minion whose
// membership is the set of candidateIDs, narrowed by query (hostname glob,
// "*" meaning every configured candidate):
//  1. gather ids matching query (or all, if query is "*")
//  2. drop any not currently alive
//  3. compute each survivor's io-weight (share of total io_bps)
//  4. keep only those whose task count is within jitter of the minimum
//  5. pick lowest io-weight, ties broken by lowest task count
func (s *Scheduler) Decide(query string, candidateIDs []string) (string, bool) {
	var live []string
	for _, id := range candidateIDs {
		if query != "*" && !s.hosts.MatchesQuery(id, query) {
			continue
		}
		if !s.session.Alive(id) {
			continue
		}
		live = append(live, id)
	}
	if len(live) == 0 {
		return "", false
	}

	weights := s.ioWeights(live)

	minTasks := s.tasks.TaskCount(live[0])
	for _, id := range live[1:] {
		if c := s.tasks.TaskCount(id); c < minTasks {
			minTasks = c
		}
	}

	var eligible []string
	for _, id := range live {
		if s.tasks.TaskCount(id) <= minTasks+s.jitter {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) == 0 {
		eligible = live
	}

	best := eligible[0]
	for _, id := range eligible[1:] {
		if betterCandidate(id, best, weights, s.tasks) {
			best = id
		}
	}
	return best, true
}

func betterCandidate(a, b string, weights map[string]float64, tasks TaskCounter) bool {
	wa, wb := weights[a], weights[b]
	if wa != wb {
		return wa < wb
	}
	return tasks.TaskCount(a) < tasks.TaskCount(b)
}

// ioWeights normalises each candidate's io_bps into a percentage-of-total
// share, epsilon-guarded against a zero total (every candidate then ties
// at weight 0, so task count alone breaks the tie).
func (s *Scheduler) ioWeights(ids []string) map[string]float64 {
	const eps = 1e-9
	total := 0.0
	raw := make(map[string]float64, len(ids))
	for _, id := range ids {
		v := s.pulse(id).IOBps
		raw[id] = v
		total += v
	}

	weights := make(map[string]float64, len(ids))
	if total < eps {
		return weights
	}
	for id, v := range raw {
		weights[id] = v / total
	}
	return weights
}

// MatchesGlob is the shared hostname glob helper used by a HostnameResolver
// implementation (e.g. the minion registry) to satisfy this package's
// interface without duplicating filepath.Match call sites.
func MatchesGlob(pattern, candidate string) bool {
	if pattern == "*" {
		return true
	}
	ok, _ := filepath.Match(pattern, candidate)
	return ok
}
