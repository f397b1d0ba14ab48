package types

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EventSession is one logical inspection cycle owned by the Event Store.
type EventSession struct {
	SessionID string    `json:"session_id"`
	Query     string    `json:"query"`
	TS        time.Time `json:"ts"`
}

// EventData is the raw per-event record persisted by the Event Store and
// fed to the reactor. Conventionally carries eid, aid, sid, cid, response
// and constraints keys.
type EventData map[string]any

// CompositeEventID returns the "<eid>/<sid>/<aid>" key EventData is stored
// under.
func (d EventData) CompositeEventID() string {
	return strAt(d, "eid") + "/" + strAt(d, "sid") + "/" + strAt(d, "aid")
}

func strAt(d EventData, key string) string {
	if v, ok := d[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// EventConfig is the configured reaction to one EventIdPattern: an ordered
// list of handler ids, each with its own configuration block.
type EventConfig struct {
	Handlers []string                  `json:"handlers"`
	Cfg      map[string]map[string]any `json:"cfg,omitempty"`
}

// EventIdPattern is the four-part "<aid>|<eid>|<sid>|<retcode>" matcher
// used to route results to handlers. Each part may be the literal "$" to
// mean "any". Retcode additionally accepts "E" for "any non-zero".
type EventIdPattern struct {
	AID     string
	EID     string
	SID     string
	Retcode string
}

// ParseEventIdPattern splits a raw "aid|eid|sid|retcode" string. Any
// cardinality other than exactly four parts is not a valid pattern.
func ParseEventIdPattern(raw string) (EventIdPattern, bool) {
	parts := strings.Split(raw, "|")
	if len(parts) != 4 {
		return EventIdPattern{}, false
	}
	return EventIdPattern{AID: parts[0], EID: parts[1], SID: parts[2], Retcode: parts[3]}, true
}

func matchPart(pattern, value string) bool {
	return pattern == "$" || pattern == value
}

func matchRetcode(pattern string, retcode uint8) bool {
	switch pattern {
	case "$":
		return true
	case "E":
		return retcode != 0
	default:
		return pattern == strconv.Itoa(int(retcode))
	}
}

func matchSID(pattern, value string) bool {
	if pattern == "$" {
		return true
	}
	patKind, patDetail, patHasAt := strings.Cut(pattern, "@")
	if !patHasAt {
		return pattern == value
	}
	valKind, valDetail, valHasAt := strings.Cut(value, "@")
	if !valHasAt || valKind != patKind {
		return false
	}
	if patDetail == "$" {
		return true
	}
	return globDetailMatch(patDetail, valDetail)
}

// globDetailMatch matches detail against a glob where "$" means ".*" and
// every other regexp metacharacter is escaped literally, including "/".
func globDetailMatch(pattern, value string) bool {
	segs := strings.Split(pattern, "$")
	quoted := make([]string, len(segs))
	for i, seg := range segs {
		quoted[i] = regexp.QuoteMeta(seg)
	}
	re := "^" + strings.Join(quoted, ".*") + "$"
	matched, err := regexp.MatchString(re, value)
	if err != nil {
		return false
	}
	return matched
}

// Match reports whether a result's aid/eid/sid/retcode all satisfy p, per
// the conjunction-of-parts rule.
func (p EventIdPattern) Match(aid, eid, sid string, retcode uint8) bool {
	return matchPart(p.AID, aid) &&
		matchPart(p.EID, eid) &&
		matchSID(p.SID, sid) &&
		matchRetcode(p.Retcode, retcode)
}
