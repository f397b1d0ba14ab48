package eventstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sysinspect/sysinspect/api/types"
	"github.com/sysinspect/sysinspect/pkg/dbutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := dbutil.OpenDB(&dbutil.Options{Dir: t.TempDir(), Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestOpenSessionIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first, err := s.OpenSession("model://sync", "sess-1", ts)
	require.NoError(t, err)

	later := ts.Add(time.Hour)
	second, err := s.OpenSession("model://other", "sess-1", later)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, "model://sync", second.Query)
}

func TestEnsureMinionWritesOnceThenNoop(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.EnsureMinion("sess-1", "minion-a", map[string]any{"os": "linux"}))
	require.NoError(t, s.EnsureMinion("sess-1", "minion-a", map[string]any{"os": "changed"}))

	minions, err := s.GetMinions("sess-1")
	require.NoError(t, err)
	require.Equal(t, "linux", minions["minion-a"]["os"])
}

func TestAppendAndGetEvents(t *testing.T) {
	s := openTestStore(t)
	ev1 := types.EventData{"eid": "e1", "aid": "pkg.install", "sid": "present"}
	ev2 := types.EventData{"eid": "e2", "aid": "pkg.install", "sid": "absent"}

	require.NoError(t, s.AppendEvent("sess-1", "minion-a", ev1))
	require.NoError(t, s.AppendEvent("sess-1", "minion-a", ev2))

	events, err := s.GetEvents("sess-1", "minion-a")
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestGetSessionsAndMinionsAreScoped(t *testing.T) {
	s := openTestStore(t)
	ts := time.Now().UTC()
	_, err := s.OpenSession("model://a", "sess-1", ts)
	require.NoError(t, err)
	_, err = s.OpenSession("model://b", "sess-2", ts)
	require.NoError(t, err)
	require.NoError(t, s.EnsureMinion("sess-1", "minion-a", map[string]any{}))
	require.NoError(t, s.EnsureMinion("sess-2", "minion-b", map[string]any{}))

	sessions, err := s.GetSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	minionsA, err := s.GetMinions("sess-1")
	require.NoError(t, err)
	require.Contains(t, minionsA, "minion-a")
	require.NotContains(t, minionsA, "minion-b")
}
