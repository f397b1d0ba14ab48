// Package constraint implements the Constraint Evaluator: evaluation
// of all/any/none expression groups against an action's response data, with
// fact resolution by dot-path walk, a per-type comparison table, and an
// informational (operator-less) expression carve-out.
package constraint

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sysinspect/sysinspect/api/types"
)

// ExprResult is the outcome of evaluating one Expr.
type ExprResult struct {
	Pass    bool
	Info    bool
	EventID string
	Trace   string
}

// Eval resolves expr.Fact against data by dot-path walk and compares the
// resolved value to expr.Claim per expr.Op. An Expr with no Op is
// informational: it always passes and, if Event is set, reports it so the
// reactor can emit that event.
func Eval(expr types.Expr, data map[string]any) ExprResult {
	if expr.Op == "" || expr.Op == types.OpUndef {
		if expr.Event != "" {
			return ExprResult{Pass: true, Info: true, EventID: expr.Event, Trace: fmt.Sprintf("info event %q", expr.Event)}
		}
		return ExprResult{Pass: true, Info: true}
	}

	fact, ok := resolveFact(data, expr.Fact)
	if !ok {
		return ExprResult{Pass: false, Trace: "no facts to evaluate"}
	}

	return evalFact(fact, expr)
}

func evalFact(fact any, expr types.Expr) ExprResult {
	switch v := fact.(type) {
	case nil:
		return ExprResult{Pass: expr.Op == types.OpEquals && expr.Claim == nil, EventID: expr.Event}
	case bool:
		return evalBool(v, expr)
	case string:
		return evalString(v, expr)
	case float64:
		return evalNumber(v, expr)
	case int:
		return evalNumber(float64(v), expr)
	case []any:
		return evalArray(v, expr)
	default:
		return ExprResult{Pass: false, Trace: "fact type is not comparable"}
	}
}

// evalArray treats an array fact as a set of candidate values: Contains
// passes if any element equals the claim, every other operator is tried
// element-wise and the first passing element wins.
func evalArray(fact []any, expr types.Expr) ExprResult {
	if len(fact) == 0 {
		return ExprResult{Pass: false, Trace: "empty array fact", EventID: expr.Event}
	}

	if expr.Op == types.OpContains {
		for _, elem := range fact {
			if elem == expr.Claim {
				return ExprResult{Pass: true, Trace: fmt.Sprintf("%v should contain %v", fact, expr.Claim), EventID: expr.Event}
			}
		}
		return ExprResult{Pass: false, Trace: fmt.Sprintf("%v should contain %v", fact, expr.Claim), EventID: expr.Event}
	}

	var last ExprResult
	for _, elem := range fact {
		last = evalFact(elem, expr)
		if last.Pass {
			return last
		}
	}
	return last
}

func evalBool(fact bool, expr types.Expr) ExprResult {
	claim, ok := expr.Claim.(bool)
	if !ok {
		return ExprResult{Pass: false, Trace: "could not obtain claim value as boolean", EventID: expr.Event}
	}
	switch expr.Op {
	case types.OpEquals:
		return ExprResult{Pass: fact == claim, EventID: expr.Event}
	case types.OpLess, types.OpMore:
		return ExprResult{Pass: fact != claim, EventID: expr.Event}
	default:
		return ExprResult{Pass: false, Trace: "unknown expression operator for boolean fact"}
	}
}

func evalNumber(fact float64, expr types.Expr) ExprResult {
	claim, ok := asNumber(expr.Claim)
	if !ok {
		return ExprResult{Pass: false, Trace: "could not obtain claim value as a number", EventID: expr.Event}
	}
	switch expr.Op {
	case types.OpEquals:
		return ExprResult{Pass: fact == claim, Trace: fmt.Sprintf("%v should be equal to %v", fact, claim), EventID: expr.Event}
	case types.OpLess:
		return ExprResult{Pass: fact < claim, Trace: fmt.Sprintf("%v should be less than %v", fact, claim), EventID: expr.Event}
	case types.OpMore:
		return ExprResult{Pass: fact > claim, Trace: fmt.Sprintf("%v should be more than %v", fact, claim), EventID: expr.Event}
	default:
		return ExprResult{Pass: false, Trace: "unknown expression operator for numeric fact"}
	}
}

func evalString(fact string, expr types.Expr) ExprResult {
	claim, ok := expr.Claim.(string)
	if !ok {
		return ExprResult{Pass: false, Trace: "could not obtain claim value as a string", EventID: expr.Event}
	}
	switch expr.Op {
	case types.OpEquals:
		return ExprResult{Pass: claim == fact, Trace: fmt.Sprintf("%s should be equal to %s", claim, fact), EventID: expr.Event}
	case types.OpLess, types.OpMore:
		return ExprResult{Pass: claim != fact, Trace: fmt.Sprintf("%s should not be equal to %s", claim, fact), EventID: expr.Event}
	case types.OpMatches:
		re, err := regexp.Compile(claim)
		if err != nil {
			return ExprResult{Pass: false, Trace: "bad regexp syntax"}
		}
		return ExprResult{Pass: re.MatchString(fact), Trace: fmt.Sprintf("%s should match %s", fact, claim), EventID: expr.Event}
	case types.OpContains:
		return ExprResult{Pass: strings.Contains(claim, fact), Trace: fmt.Sprintf("%s should contain %s", claim, fact), EventID: expr.Event}
	case types.OpStarts:
		return ExprResult{Pass: strings.HasPrefix(claim, fact), Trace: fmt.Sprintf("%s should start with %s", claim, fact), EventID: expr.Event}
	case types.OpEnds:
		return ExprResult{Pass: strings.HasSuffix(claim, fact), Trace: fmt.Sprintf("%s should ends with %s", claim, fact), EventID: expr.Event}
	default:
		return ExprResult{Pass: false}
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// resolveFact dot-splits path and walks it over data: scalars terminate
// the walk, arrays recurse element-wise returning the first hit, maps
// look up by key.
func resolveFact(data map[string]any, path string) (any, bool) {
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		v, ok := descend(cur, part)
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func descend(cur any, key string) (any, bool) {
	switch v := cur.(type) {
	case map[string]any:
		val, ok := v[key]
		return val, ok
	case []any:
		for _, elem := range v {
			if val, ok := descend(elem, key); ok {
				return val, true
			}
		}
		return nil, false
	default:
		return nil, false
	}
}

// GroupResult is the outcome of evaluating one state's ExprGroup.
type GroupResult struct {
	AllPass  bool
	AnyPass  bool
	NonePass bool
	Failures []ExprResult
	Infos    []ExprResult
}

// EvalGroup evaluates the all/any/none triple for one state against data.
// An absent group (no expressions defined for this state) is treated as
// trivially passed: the group is skipped rather than failed.
func EvalGroup(group types.ExprGroup, data map[string]any) GroupResult {
	var res GroupResult
	res.AllPass = true
	res.AnyPass = len(group.Any) == 0

	for _, e := range group.All {
		r := Eval(e, data)
		collect(&res, r)
		if !r.Pass {
			res.AllPass = false
		}
	}
	for _, e := range group.Any {
		r := Eval(e, data)
		collect(&res, r)
		if r.Pass {
			res.AnyPass = true
		}
	}
	res.NonePass = true
	for _, e := range group.None {
		r := Eval(e, data)
		collect(&res, r)
		if r.Pass {
			res.NonePass = false
		}
	}
	return res
}

func collect(res *GroupResult, r ExprResult) {
	if r.Info {
		res.Infos = append(res.Infos, r)
		return
	}
	if !r.Pass {
		res.Failures = append(res.Failures, r)
	}
}

// Passed reports whether every group in the result passed.
func (g GroupResult) Passed() bool { return g.AllPass && g.AnyPass && g.NonePass }

// EvalConstraints evaluates every constraint in constraints that binds to
// entity for the given state, against data.
func EvalConstraints(constraints []types.Constraint, entity, state string, data map[string]any) map[string]GroupResult {
	out := make(map[string]GroupResult)
	for _, c := range constraints {
		if !c.BindsTo(entity) {
			continue
		}
		group, ok := c.PerState[state]
		if !ok {
			continue
		}
		out[c.ID] = EvalGroup(group, data)
	}
	return out
}
