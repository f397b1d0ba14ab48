package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPingCreatesThenRefreshesSession(t *testing.T) {
	k := New(time.Minute)
	k.Ping("m1", "sess-1")
	require.True(t, k.Exists("m1"))
	require.True(t, k.Alive("m1"))

	s, ok := k.Get("m1")
	require.True(t, ok)
	require.Equal(t, "sess-1", s.SessionID)
	require.Equal(t, time.Minute, s.TTL)

	k.Ping("m1", "sess-2")
	s, ok = k.Get("m1")
	require.True(t, ok)
	require.Equal(t, "sess-2", s.SessionID)
}

func TestAliveFalseForUnknownMinion(t *testing.T) {
	k := New(time.Minute)
	require.False(t, k.Alive("ghost"))
	require.False(t, k.Exists("ghost"))
}

func TestSessionExpiresAfterTTL(t *testing.T) {
	k := New(20 * time.Millisecond)
	k.Ping("m1", "sess-1")
	require.True(t, k.Alive("m1"))

	time.Sleep(40 * time.Millisecond)
	require.False(t, k.Alive("m1"))
}

func TestSweepDropsExpiredSessionsOnNextPing(t *testing.T) {
	k := New(10 * time.Millisecond)
	k.Ping("stale", "sess-1")
	time.Sleep(30 * time.Millisecond)

	k.Ping("fresh", "sess-2")
	require.False(t, k.Exists("stale"))
	require.True(t, k.Exists("fresh"))
}

func TestRemoveDropsSessionUnconditionally(t *testing.T) {
	k := New(time.Minute)
	k.Ping("m1", "sess-1")
	k.Remove("m1")
	require.False(t, k.Exists("m1"))
}

func TestUptimeZeroForUnknownMinion(t *testing.T) {
	k := New(time.Minute)
	require.Equal(t, time.Duration(0), k.Uptime("ghost"))
}

func TestUptimeGrowsWithElapsedTime(t *testing.T) {
	k := New(time.Minute)
	k.Ping("m1", "sess-1")
	time.Sleep(15 * time.Millisecond)
	require.Greater(t, k.Uptime("m1"), time.Duration(0))
}
