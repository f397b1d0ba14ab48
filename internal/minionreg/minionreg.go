// Package minionreg implements the Minion Registry: a persistent map
// from minion-id to its most recently synced traits.
package minionreg

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	apierrors "github.com/sysinspect/sysinspect/api/errors"
	"github.com/sysinspect/sysinspect/api/types"
	"github.com/sysinspect/sysinspect/pkg/dbutil"
)

const minionPrefix = "minion/"

// Registry is the persistent minion-id -> traits map.
type Registry struct {
	lg *zap.Logger
	db *dbutil.DB
}

// Open opens the badger-backed minion registry rooted at dir.
func Open(dir string, lg *zap.Logger) (*Registry, error) {
	db, err := dbutil.OpenDB(&dbutil.Options{Dir: dir, Logger: lg})
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeStorage, err)
	}
	return &Registry{lg: lg, db: db}, nil
}

// Refresh atomically replaces minionID's traits record (one transactional
// overwrite, so a concurrent reader never observes a half-written record).
func (r *Registry) Refresh(minionID string, traits map[string]any) error {
	rec := types.MinionRecord{MinionID: minionID, Traits: traits}
	data, err := json.Marshal(rec)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeInternal, err)
	}
	key := []byte(minionPrefix + minionID)
	if err := r.db.ReplaceKey(key, key, data); err != nil {
		return apierrors.Wrap(apierrors.CodeStorage, err)
	}
	return nil
}

// Get returns minionID's current traits record.
func (r *Registry) Get(minionID string) (types.MinionRecord, error) {
	data, err := r.db.Get([]byte(minionPrefix + minionID))
	if err != nil {
		return types.MinionRecord{}, apierrors.NewNotFound("minion not registered: " + minionID)
	}
	var rec types.MinionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.MinionRecord{}, apierrors.Wrap(apierrors.CodeInternal, err)
	}
	return rec, nil
}

// Remove deletes minionID's traits record. Idempotent.
func (r *Registry) Remove(minionID string) error {
	if err := r.db.Delete([]byte(minionPrefix + minionID)); err != nil {
		return apierrors.Wrap(apierrors.CodeStorage, err)
	}
	return nil
}

// Select returns every minion-id whose traits include every key in query
// with an equal value.
func (r *Registry) Select(query map[string]any) ([]string, error) {
	var ids []string
	err := r.db.Range([]byte(minionPrefix), func(key, value []byte) error {
		var rec types.MinionRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil
		}
		if traitsMatch(rec.Traits, query) {
			ids = append(ids, rec.MinionID)
		}
		return nil
	})
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeStorage, err)
	}
	return ids, nil
}

func traitsMatch(traits, query map[string]any) bool {
	for k, want := range query {
		got, ok := lookupPath(traits, k)
		if !ok {
			return false
		}
		if !equalJSON(got, want) {
			return false
		}
	}
	return true
}

func equalJSON(a, b any) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

// lookupPath walks a dot-separated path over nested maps, e.g.
// "system.hostname". "*" matches any single map key and returns the first
// hit found in iteration order.
func lookupPath(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = data
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if p == "*" {
			found := false
			for _, v := range m {
				cur = v
				found = true
				break
			}
			if !found {
				return nil, false
			}
			continue
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// allValuesAt walks path like lookupPath but, at each "*" segment,
// collects every branch's resolved value instead of just the first. Used
// by ResolveHostnameOrIP to scan system.net.*.ipv4 across all interfaces.
func allValuesAt(data map[string]any, parts []string) []any {
	var cur []any = []any{data}
	for _, p := range parts {
		var next []any
		for _, c := range cur {
			m, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if p == "*" {
				for _, v := range m {
					next = append(next, v)
				}
				continue
			}
			if v, ok := m[p]; ok {
				next = append(next, v)
			}
		}
		cur = next
	}
	return cur
}

// ResolveHostnameOrIP reports whether candidate matches any of minionID's
// system.hostname, system.hostname.fqdn, or system.net.*.ipv4 trait
// values.
func (r *Registry) ResolveHostnameOrIP(minionID, candidate string) bool {
	rec, err := r.Get(minionID)
	if err != nil {
		return false
	}
	for _, path := range [][]string{
		{"system", "hostname"},
		{"system", "hostname", "fqdn"},
	} {
		if v, ok := lookupPath(rec.Traits, strings.Join(path, ".")); ok {
			if s, ok := v.(string); ok && s == candidate {
				return true
			}
		}
	}
	for _, v := range allValuesAt(rec.Traits, []string{"system", "net", "*", "ipv4"}) {
		if s, ok := v.(string); ok && s == candidate {
			return true
		}
	}
	return false
}

// Close releases the underlying store.
func (r *Registry) Close() error { return r.db.Close() }
