// Package dispatch implements targeting: given a MinionTarget and a
// minion's own identity/traits, decide whether that minion should act on
// a broadcast MasterMessage. The traits query grammar is an OR-of-ANDs of
// "key:value" terms: "or" separates OR groups, "and" binds tighter within
// a group.
package dispatch

import (
	"strings"

	"github.com/sysinspect/sysinspect/api/types"
)

// Accepts reports whether a minion identified by minionID, with the given
// hostnames and traits, should act on a MasterMessage carrying target.
func Accepts(target types.MinionTarget, minionID string, hostnames []string, traits map[string]any) bool {
	if target.ID != "" && target.ID != minionID {
		return false
	}
	if !target.MatchesHostname(hostnames...) {
		return false
	}
	if q := strings.TrimSpace(target.TraitsQuery); q != "" {
		groups, err := ParseTraitsQuery(q)
		if err != nil {
			return false
		}
		if !MatchesTraits(groups, traits) {
			return false
		}
	}
	return true
}

// ParseTraitsQuery parses a query into an OR-of-ANDs term list: each
// element of the outer slice is an AND group, and the whole expression is
// true if any AND group is fully satisfied. Terms are "key:value" atoms;
// "and"/"or" are lowercase keywords separated from the terms by single
// spaces; "and" binds tighter than "or".
func ParseTraitsQuery(q string) ([][]string, error) {
	orGroups := strings.Split(q, " or ")
	groups := make([][]string, 0, len(orGroups))
	for _, orGroup := range orGroups {
		var terms []string
		for _, term := range strings.Split(orGroup, " and ") {
			term = strings.TrimSpace(term)
			if term == "" {
				continue
			}
			terms = append(terms, term)
		}
		groups = append(groups, terms)
	}
	return groups, nil
}

// MatchesTraits evaluates the OR-of-ANDs term groups against traits: a
// "key:value" term matches if the trait at key is a string equal to value.
func MatchesTraits(groups [][]string, traits map[string]any) bool {
	for _, and := range groups {
		allMatch := true
		for _, term := range and {
			key, val, ok := strings.Cut(term, ":")
			if !ok {
				allMatch = false
				break
			}
			if !traitEquals(traits, key, val) {
				allMatch = false
				break
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}

// traitEquals resolves key as a dot-separated path over the (typically
// nested, e.g. {"system":{"hostname":...}}) traits snapshot and reports
// whether the result is a string equal to val. Non-string values (numbers,
// booleans, maps) never match.
func traitEquals(traits map[string]any, key, val string) bool {
	v, ok := lookupPath(traits, key)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case string:
		return t == val
	default:
		return false
	}
}

// lookupPath walks a dot-separated path over nested maps, mirroring
// internal/minionreg's own trait-path resolution so the master-side
// selection and the minion-side self-filter agree on the same trait shape.
func lookupPath(data map[string]any, path string) (any, bool) {
	var cur any = data
	for _, p := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}
