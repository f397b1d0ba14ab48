package types

import "path/filepath"

// MinionTarget addresses a MasterMessage to a subset of live minions.
// Matching is a disjunction over Hostnames combined with a conjunction
// against TraitsQuery: a minion accepts the message iff its id/hostname
// satisfies Hostnames (or Hostnames contains the wildcard "*") AND its
// traits satisfy TraitsQuery (when non-empty).
type MinionTarget struct {
	ID           string   `json:"id,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
	Scheme       string   `json:"scheme,omitempty"`
	TraitsQuery  string   `json:"traits_query,omitempty"`
	Hostnames    []string `json:"hostnames,omitempty"`
	ContextQuery string   `json:"context_query,omitempty"`
}

// AllHostnames reports whether the target's hostname set is the wildcard,
// matching every live minion regardless of the individual hostname glob
// checks performed by MatchesHostname.
func (t MinionTarget) AllHostnames() bool {
	for _, h := range t.Hostnames {
		if h == "*" {
			return true
		}
	}
	return false
}

// MatchesHostname reports whether any configured hostname glob matches one
// of the candidate hostnames (typically system.hostname and
// system.hostname.fqdn). Wildcard "*" always matches.
func (t MinionTarget) MatchesHostname(candidates ...string) bool {
	if t.AllHostnames() {
		return true
	}
	for _, pattern := range t.Hostnames {
		for _, c := range candidates {
			if c == "" {
				continue
			}
			if ok, _ := filepath.Match(pattern, c); ok {
				return true
			}
		}
	}
	return false
}

// MasterMessage is dispatched by the master (or re-dispatched by the
// pipeline handler) and broadcast to every connected minion, which
// self-filters by Target. Immutable once sent. JSON tags are the
// short-keyed wire envelope: cl/t/r/d/c.
type MasterMessage struct {
	CycleID string       `json:"cl,omitempty"`
	Target  MinionTarget `json:"t"`
	Request RequestKind  `json:"r"`
	Payload any          `json:"d,omitempty"`
	Retcode uint8        `json:"c,omitempty"`
}

// MinionMessage is sent by a minion back to the master: a registration
// step, a heartbeat reply, or an inspection result. JSON tags are the
// short-keyed wire envelope: id/sid/r/d/c.
type MinionMessage struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sid,omitempty"`
	Request   RequestKind `json:"r"`
	Data      any         `json:"d,omitempty"`
	Retcode   uint8       `json:"c,omitempty"`
}

// ResultPayload is the shape of MinionMessage.Data for a Response request:
// the evaluated outcome of one inspection action.
type ResultPayload struct {
	EID         string         `json:"eid"`
	AID         string         `json:"aid"`
	SID         string         `json:"sid"`
	CID         string         `json:"cid"`
	Timestamp   string         `json:"timestamp"`
	Response    ActionResponse `json:"response"`
	Constraints any            `json:"constraints,omitempty"`
	Telemetry   any            `json:"telemetry,omitempty"`
}

// ActionResponse is the raw outcome of running one inspection/configuration
// action on a minion, as fed to the Constraint Evaluator.
type ActionResponse struct {
	Retcode  uint8          `json:"retcode"`
	Message  string         `json:"message,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Warnings []string       `json:"warning,omitempty"`
}

// Pulse is the heartbeat-piggyback metrics snapshot a minion attaches to its
// Pong reply, consumed by the master's Cluster Scheduler to keep its
// least-loaded virtual-minion selection current between traits refreshes.
type Pulse struct {
	IOBps       float64 `json:"io_bps"`
	LoadAverage float64 `json:"load_average"`
	CPUUsage    float64 `json:"cpu_usage"`
}
