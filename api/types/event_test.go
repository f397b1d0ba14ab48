package types

import "testing"

// Scenario 3: EID pattern matrix, given response = { aid:"a", eid:"b",
// sid:"k@/tmp/x", retcode:3 }.
func TestEventIdPatternMatrix(t *testing.T) {
	const aid, eid, sid = "a", "b", "k@/tmp/x"
	const retcode = 3

	cases := []struct {
		pattern string
		want    bool
	}{
		{"a|b|k@/tmp/$|E", true},
		{"a|b|k@/tmp/$|0", false},
		{"$|b|k@/tmp/$|$", true},
		{"a|b|missing_at|$", false},
		{"a|b|k@$|$", true},
	}
	for _, tc := range cases {
		p, ok := ParseEventIdPattern(tc.pattern)
		if !ok {
			t.Fatalf("pattern %q failed to parse", tc.pattern)
		}
		got := p.Match(aid, eid, sid, retcode)
		if got != tc.want {
			t.Errorf("pattern %q: got %v, want %v", tc.pattern, got, tc.want)
		}
	}
}

func TestParseEventIdPatternRequiresExactlyFourParts(t *testing.T) {
	if _, ok := ParseEventIdPattern("a|b|c"); ok {
		t.Error("expected three-part string to fail parsing")
	}
	if _, ok := ParseEventIdPattern("a|b|c|d|e"); ok {
		t.Error("expected five-part string to fail parsing")
	}
	if _, ok := ParseEventIdPattern("$|$|$|$"); !ok {
		t.Error("expected four-$ string to parse")
	}
}

func TestWildcardPatternMatchesEverything(t *testing.T) {
	p, ok := ParseEventIdPattern("$|$|$|$")
	if !ok {
		t.Fatal("parse failed")
	}
	if !p.Match("anything", "goes", "here@there", 200) {
		t.Error("expected full wildcard to match any response")
	}
}

func TestSidWildcardMatchesAnySid(t *testing.T) {
	if !matchSID("$", "k@/tmp/x") {
		t.Error("expected $ to match any sid value")
	}
	if !matchSID("$", "") {
		t.Error("expected $ to match empty sid value")
	}
}
