package datastore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestAddThenMetaIsObservable(t *testing.T) {
	s, err := New(Options{Root: t.TempDir()})
	require.NoError(t, err)

	src := writeTempFile(t, "hello world")
	meta, err := s.Add(src)
	require.NoError(t, err)
	require.NotEmpty(t, meta.SHA256)
	require.EqualValues(t, len("hello world"), meta.Size)

	got, ok, err := s.Meta(meta.SHA256)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, meta.SHA256, got.SHA256)

	blob, err := os.ReadFile(s.URI(meta.SHA256))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(blob))
}

func TestAddRejectsOversizedItem(t *testing.T) {
	max := int64(4)
	s, err := New(Options{Root: t.TempDir(), MaxItemSize: &max})
	require.NoError(t, err)

	src := writeTempFile(t, "way too big")
	_, err = s.Add(src)
	require.Error(t, err)
}

func TestAddRejectsDirectory(t *testing.T) {
	s, err := New(Options{Root: t.TempDir()})
	require.NoError(t, err)
	_, err = s.Add(t.TempDir())
	require.Error(t, err)
}

func TestMetaMissingReturnsFalse(t *testing.T) {
	s, err := New(Options{Root: t.TempDir()})
	require.NoError(t, err)
	_, ok, err := s.Meta("deadbeef")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGCEvictsOldestUntilWithinBudget(t *testing.T) {
	max := int64(12)
	s, err := New(Options{Root: t.TempDir(), MaxOverallSize: &max})
	require.NoError(t, err)

	orig := nowFn
	t.Cleanup(func() { nowFn = orig })
	tick := int64(1000)
	nowFn = func() int64 { return tick }

	oldMeta, err := s.Add(writeTempFile(t, "aaaaaaaaaa"))
	require.NoError(t, err)
	tick++
	_, err = s.Add(writeTempFile(t, "bb"))
	require.NoError(t, err)

	// Both items fit the 12-byte budget exactly (10+2), so Add never had to
	// evict. Shrink the budget so the stored total is over it when GC runs.
	max = 11
	require.NoError(t, s.GC())

	_, ok, err := s.Meta(oldMeta.SHA256)
	require.NoError(t, err)
	require.False(t, ok, "oldest item should have been evicted")
}

func TestGCExpiresPastExpiry(t *testing.T) {
	expireAfter := int64(-1) // already expired as soon as written
	s, err := New(Options{Root: t.TempDir(), ExpireAfter: &expireAfter})
	require.NoError(t, err)

	meta, err := s.Add(writeTempFile(t, "expires immediately"))
	require.NoError(t, err)

	require.NoError(t, s.GC())

	_, ok, err := s.Meta(meta.SHA256)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDelIsIdempotent(t *testing.T) {
	s, err := New(Options{Root: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, s.Del("never-existed"))
	require.NoError(t, s.Del("never-existed"))
}

func TestAddSameContentTwiceReusesBlob(t *testing.T) {
	s, err := New(Options{Root: t.TempDir()})
	require.NoError(t, err)

	m1, err := s.Add(writeTempFile(t, "same content"))
	require.NoError(t, err)
	m2, err := s.Add(writeTempFile(t, "same content"))
	require.NoError(t, err)
	require.Equal(t, m1.SHA256, m2.SHA256)
}
