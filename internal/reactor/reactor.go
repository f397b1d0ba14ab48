// Package reactor implements the Event Reactor: it turns one minion
// result into an ActionResponse, evaluates constraints against it, matches
// the result to configured EventIdPatterns, and invokes the handlers those
// patterns list in declaration order.
package reactor

import (
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/sysinspect/sysinspect/api/types"
	"github.com/sysinspect/sysinspect/internal/constraint"
)

// Handler reacts to one matched (pattern, response) pair. Implementations
// must not panic; a returned error is logged and treated as a handler nack,
// it does not stop the remaining handlers or the reactor.
type Handler interface {
	ID() string
	Handle(resp Evaluated, cfg map[string]any) error
}

// Rule binds one EventIdPattern to an ordered list of handler configs.
type Rule struct {
	Pattern  types.EventIdPattern
	Handlers []string
	Cfg      map[string]map[string]any
}

// BufferedEvent pairs one cycle-buffered payload with the minion id that
// produced it, since types.ResultPayload itself carries no minion identity.
type BufferedEvent struct {
	MinionID string
	Payload  types.ResultPayload
}

// ModelSelector marks a telemetry selector that accumulates per-cycle
// payloads until a ModelEvent terminator, rather than firing per-event.
type ModelSelector struct {
	Flush func(cid string, buffered []BufferedEvent)
}

// Evaluated is a ResultPayload plus its evaluated constraint groups and the
// id of the minion that produced it, the shape handlers receive.
type Evaluated struct {
	types.ResultPayload
	MinionID string
	Groups   map[string]constraint.GroupResult
}

// Reactor wires constraints, rules and handlers together for one model.
type Reactor struct {
	lg          *zap.Logger
	constraints []types.Constraint
	rules       []Rule
	handlers    map[string]Handler

	mu      sync.Mutex
	buffers map[string][]BufferedEvent // keyed by cycle id, for model-level selectors
	model   *ModelSelector
}

// New returns a Reactor evaluating constraints and rules for one model.
func New(lg *zap.Logger, constraints []types.Constraint, rules []Rule, handlers []Handler, model *ModelSelector) *Reactor {
	hm := make(map[string]Handler, len(handlers))
	for _, h := range handlers {
		hm[h.ID()] = h
	}
	return &Reactor{
		lg:          lg,
		constraints: constraints,
		rules:       rules,
		handlers:    hm,
		buffers:     make(map[string][]BufferedEvent),
		model:       model,
	}
}

// ParseResult builds an ActionResponse's identity from a raw minion
// payload: a well-formed four-part eid parses directly; any other shape
// falls back to aid="$", eid=payloadEID-or-"$", sid="$".
func ParseResult(payload types.ResultPayload) (aid, eid, sid string) {
	if payload.AID != "" && payload.SID != "" {
		return payload.AID, payload.EID, payload.SID
	}
	eid = payload.EID
	if eid == "" {
		eid = "$"
	}
	return "$", eid, "$"
}

// React evaluates constraints for payload, matches every configured rule,
// invokes the matching handlers in declaration order, and if a model
// selector is configured, buffers the payload for later flush. state is the
// entity's current model state, used to select the constraint's PerState
// group. minionID identifies the minion that produced payload.
func (r *Reactor) React(minionID string, payload types.ResultPayload, state string) Evaluated {
	aid, eid, sid := ParseResult(payload)
	retcode := payload.Response.Retcode

	groups := constraint.EvalConstraints(r.constraints, eid, state, payload.Response.Data)
	ev := Evaluated{ResultPayload: payload, MinionID: minionID, Groups: groups}

	for _, rule := range r.rules {
		if !rule.Pattern.Match(aid, eid, sid, retcode) {
			continue
		}
		for _, hid := range rule.Handlers {
			h, ok := r.handlers[hid]
			if !ok {
				r.lg.Warn("no such handler configured", zap.String("handler", hid))
				continue
			}
			cfg := rule.Cfg[hid]
			if err := h.Handle(ev, cfg); err != nil {
				r.lg.Error("handler failed", zap.String("handler", hid), zap.Error(err))
			}
		}
	}

	if r.model != nil {
		r.bufferForCycle(minionID, payload)
	}
	return ev
}

func (r *Reactor) bufferForCycle(minionID string, payload types.ResultPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffers[payload.CID] = append(r.buffers[payload.CID], BufferedEvent{MinionID: minionID, Payload: payload})
}

// FlushCycle is invoked on a ModelEvent terminator for cid: it hands the
// accumulated buffer to the model selector's Flush callback and clears it.
func (r *Reactor) FlushCycle(cid string) {
	if r.model == nil {
		return
	}
	r.mu.Lock()
	buffered := r.buffers[cid]
	delete(r.buffers, cid)
	r.mu.Unlock()

	if len(buffered) > 0 {
		r.model.Flush(cid, buffered)
	}
}

// AssertionsLine renders the outcome-logger's summary line for one
// evaluation: "<aid> assertions passed" (optionally "config state applied"
// if any informational expression fired), or the per-failure lines.
func AssertionsLine(aid string, groups map[string]constraint.GroupResult) []string {
	var failures []string
	infoSeen := false
	for _, g := range groups {
		for _, info := range g.Infos {
			infoSeen = true
			_ = info
		}
		for _, f := range g.Failures {
			title := f.EventID
			if title == "" {
				title = aid
			}
			failures = append(failures, title+": "+f.Trace)
		}
	}
	if len(failures) > 0 {
		return failures
	}
	line := aid + " assertions passed"
	if infoSeen {
		line += ", config state applied"
	}
	return []string{line}
}

// ParseRetcodeForEvent renders a retcode the same way EventIdPattern
// matching does, for log/handler config that needs the literal string.
func ParseRetcodeForEvent(retcode uint8) string {
	return strconv.Itoa(int(retcode))
}
