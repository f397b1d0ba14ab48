package reactor

import (
	"testing"

	"go.uber.org/zap"

	"github.com/sysinspect/sysinspect/api/types"
	"github.com/sysinspect/sysinspect/internal/constraint"
)

type recordingHandler struct {
	id    string
	calls []Evaluated
}

func (h *recordingHandler) ID() string { return h.id }

func (h *recordingHandler) Handle(ev Evaluated, _ map[string]any) error {
	h.calls = append(h.calls, ev)
	return nil
}

func payload(aid, eid, sid, cid string, retcode uint8) types.ResultPayload {
	return types.ResultPayload{
		AID: aid, EID: eid, SID: sid, CID: cid,
		Response: types.ActionResponse{Retcode: retcode},
	}
}

func TestReactMatchesRuleAndInvokesHandlersInOrder(t *testing.T) {
	pattern, ok := types.ParseEventIdPattern("a|b|k@$|E")
	if !ok {
		t.Fatal("pattern failed to parse")
	}
	first := &recordingHandler{id: "first"}
	second := &recordingHandler{id: "second"}
	r := New(zap.NewNop(), nil, []Rule{{Pattern: pattern, Handlers: []string{"first", "second"}}},
		[]Handler{first, second}, nil)

	r.React("minion-1", payload("a", "b", "k@/tmp/x", "cid-1", 3), "")

	if len(first.calls) != 1 || len(second.calls) != 1 {
		t.Fatalf("expected both handlers invoked once, got first=%d second=%d", len(first.calls), len(second.calls))
	}
	if first.calls[0].MinionID != "minion-1" {
		t.Errorf("expected MinionID to propagate into Evaluated, got %q", first.calls[0].MinionID)
	}
}

func TestReactSkipsNonMatchingRule(t *testing.T) {
	pattern, ok := types.ParseEventIdPattern("x|y|z|0")
	if !ok {
		t.Fatal("pattern failed to parse")
	}
	h := &recordingHandler{id: "h"}
	r := New(zap.NewNop(), nil, []Rule{{Pattern: pattern, Handlers: []string{"h"}}}, []Handler{h}, nil)

	r.React("minion-1", payload("a", "b", "k", "cid-1", 3), "")

	if len(h.calls) != 0 {
		t.Errorf("expected no handler invocation for a non-matching pattern, got %d", len(h.calls))
	}
}

func TestUnknownHandlerIDIsLoggedNotFatal(t *testing.T) {
	pattern, _ := types.ParseEventIdPattern("$|$|$|$")
	r := New(zap.NewNop(), nil, []Rule{{Pattern: pattern, Handlers: []string{"missing"}}}, nil, nil)

	ev := r.React("minion-1", payload("a", "b", "k", "cid-1", 0), "")
	if ev.MinionID != "minion-1" {
		t.Errorf("expected React to still return a populated Evaluated, got %+v", ev)
	}
}

func TestFlushCycleBuffersAndClearsPerCycle(t *testing.T) {
	var flushedCID string
	var flushed []BufferedEvent
	model := &ModelSelector{
		Flush: func(cid string, buffered []BufferedEvent) {
			flushedCID = cid
			flushed = buffered
		},
	}
	pattern, _ := types.ParseEventIdPattern("$|$|$|$")
	r := New(zap.NewNop(), nil, []Rule{{Pattern: pattern}}, nil, model)

	r.React("minion-1", payload("a", "b", "k", "cid-1", 0), "")
	r.React("minion-2", payload("a", "b", "k", "cid-1", 0), "")
	r.React("minion-3", payload("a", "b", "k", "cid-2", 0), "")

	r.FlushCycle("cid-1")

	if flushedCID != "cid-1" {
		t.Fatalf("expected flush for cid-1, got %q", flushedCID)
	}
	if len(flushed) != 2 {
		t.Fatalf("expected 2 buffered events for cid-1, got %d", len(flushed))
	}
	if flushed[0].MinionID != "minion-1" || flushed[1].MinionID != "minion-2" {
		t.Errorf("unexpected minion ids in buffer: %+v", flushed)
	}

	// Flushing again must be a no-op: the buffer was cleared.
	flushed = nil
	r.FlushCycle("cid-1")
	if flushed != nil {
		t.Errorf("expected second flush of the same cid to be empty, got %+v", flushed)
	}
}

func TestAssertionsLineReportsFailuresOverPass(t *testing.T) {
	groups := map[string]constraint.GroupResult{
		"c1": {Failures: []constraint.ExprResult{{EventID: "perm.check", Trace: "should be equal to true"}}},
	}
	lines := AssertionsLine("user.add", groups)
	if len(lines) != 1 || lines[0] != "perm.check: should be equal to true" {
		t.Errorf("expected one failure line, got %v", lines)
	}
}

func TestAssertionsLinePassWithInfo(t *testing.T) {
	groups := map[string]constraint.GroupResult{
		"c1": {Infos: []constraint.ExprResult{{Info: true, EventID: "state.applied"}}},
	}
	lines := AssertionsLine("user.add", groups)
	if len(lines) != 1 || lines[0] != "user.add assertions passed, config state applied" {
		t.Errorf("expected info-annotated pass line, got %v", lines)
	}
}
