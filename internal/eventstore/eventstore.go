// Package eventstore implements the Event Store: an append-only,
// badger-backed record of inspection sessions, the minions that reported
// into each, and every event each minion produced. Keys nest
// session -> minion -> event, scanned with pkg/dbutil.DB's prefix Range in
// place of a directory listing.
package eventstore

import (
	"encoding/json"
	"time"

	"github.com/sysinspect/sysinspect/api/types"
	"github.com/sysinspect/sysinspect/pkg/dbutil"
)

const (
	sessionPrefix = "session:"
	minionInfix   = ":minion:"
	eventInfix    = ":event:"
)

// Store is the badger-backed Event Store.
type Store struct {
	db *dbutil.DB
}

// New wraps an already-open database for event-store use.
func New(db *dbutil.DB) *Store {
	return &Store{db: db}
}

func sessionKey(sid string) []byte {
	return []byte(sessionPrefix + sid)
}

func minionKey(sid, mid string) []byte {
	return []byte(sessionPrefix + sid + minionInfix + mid)
}

func minionPrefix(sid string) []byte {
	return []byte(sessionPrefix + sid + minionInfix)
}

func eventKey(sid, mid, compositeEID string) []byte {
	return []byte(sessionPrefix + sid + eventInfix + mid + ":" + compositeEID)
}

func eventPrefix(sid, mid string) []byte {
	return []byte(sessionPrefix + sid + eventInfix + mid + ":")
}

// OpenSession is idempotent: a session id already known is returned
// unchanged, otherwise a new EventSession is recorded with the given model
// query and timestamp.
func (s *Store) OpenSession(model, sid string, ts time.Time) (types.EventSession, error) {
	key := sessionKey(sid)
	exists, err := s.db.Exists(key)
	if err != nil {
		return types.EventSession{}, err
	}
	if exists {
		raw, err := s.db.Get(key)
		if err != nil {
			return types.EventSession{}, err
		}
		var existing types.EventSession
		if err := json.Unmarshal(raw, &existing); err != nil {
			return types.EventSession{}, err
		}
		return existing, nil
	}

	session := types.EventSession{SessionID: sid, Query: model, TS: ts}
	encoded, err := json.Marshal(session)
	if err != nil {
		return types.EventSession{}, err
	}
	if err := s.db.Set(key, encoded); err != nil {
		return types.EventSession{}, err
	}
	return session, nil
}

// EnsureMinion writes traits's snapshot under (sid, mid) if absent, a
// no-op when the minion is already recorded for this session.
func (s *Store) EnsureMinion(sid, mid string, traits map[string]any) error {
	key := minionKey(sid, mid)
	exists, err := s.db.Exists(key)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	encoded, err := json.Marshal(traits)
	if err != nil {
		return err
	}
	return s.db.Set(key, encoded)
}

// AppendEvent records one event for (sid, mid) keyed by its composite
// event id, overwriting any prior record sharing that same id.
func (s *Store) AppendEvent(sid, mid string, event types.EventData) error {
	encoded, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.db.Set(eventKey(sid, mid, event.CompositeEventID()), encoded)
}

// GetSessions returns every known session, ordered by session id.
func (s *Store) GetSessions() ([]types.EventSession, error) {
	var out []types.EventSession
	err := s.db.Range([]byte(sessionPrefix), func(key, value []byte) error {
		if hasInfix(key, minionInfix) || hasInfix(key, eventInfix) {
			return nil
		}
		var session types.EventSession
		if err := json.Unmarshal(value, &session); err != nil {
			return err
		}
		out = append(out, session)
		return nil
	})
	return out, err
}

// GetMinions returns every minion id recorded under sid, with its traits
// snapshot.
func (s *Store) GetMinions(sid string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any)
	prefix := minionPrefix(sid)
	err := s.db.Range(prefix, func(key, value []byte) error {
		mid := string(key[len(prefix):])
		var traits map[string]any
		if err := json.Unmarshal(value, &traits); err != nil {
			return err
		}
		out[mid] = traits
		return nil
	})
	return out, err
}

// GetEvents returns every event recorded for (sid, mid), in key order
// (insertion order is not preserved; composite-id lexicographic order is).
func (s *Store) GetEvents(sid, mid string) ([]types.EventData, error) {
	var out []types.EventData
	err := s.db.Range(eventPrefix(sid, mid), func(_, value []byte) error {
		var event types.EventData
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		out = append(out, event)
		return nil
	})
	return out, err
}

func hasInfix(key []byte, infix string) bool {
	s := string(key)
	for i := 0; i+len(infix) <= len(s); i++ {
		if s[i:i+len(infix)] == infix {
			return true
		}
	}
	return false
}
