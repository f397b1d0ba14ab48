package minionreg

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "minionreg"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRefreshThenGetRoundTrips(t *testing.T) {
	r := openTestRegistry(t)
	traits := map[string]any{"system": map[string]any{"hostname": "web-01"}}
	require.NoError(t, r.Refresh("m1", traits))

	rec, err := r.Get("m1")
	require.NoError(t, err)
	require.Equal(t, "m1", rec.MinionID)
	require.Equal(t, "web-01", rec.Traits["system"].(map[string]any)["hostname"])
}

func TestRefreshReplacesPriorTraits(t *testing.T) {
	r := openTestRegistry(t)
	require.NoError(t, r.Refresh("m1", map[string]any{"os": "linux"}))
	require.NoError(t, r.Refresh("m1", map[string]any{"os": "darwin"}))

	rec, err := r.Get("m1")
	require.NoError(t, err)
	require.Equal(t, "darwin", rec.Traits["os"])
}

func TestGetUnknownMinionIsNotFound(t *testing.T) {
	r := openTestRegistry(t)
	_, err := r.Get("ghost")
	require.Error(t, err)
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := openTestRegistry(t)
	require.NoError(t, r.Refresh("m1", map[string]any{"os": "linux"}))
	require.NoError(t, r.Remove("m1"))
	require.NoError(t, r.Remove("m1"))

	_, err := r.Get("m1")
	require.Error(t, err)
}

func TestSelectMatchesEqualTraits(t *testing.T) {
	r := openTestRegistry(t)
	require.NoError(t, r.Refresh("m1", map[string]any{"os": "linux", "env": "prod"}))
	require.NoError(t, r.Refresh("m2", map[string]any{"os": "linux", "env": "dev"}))
	require.NoError(t, r.Refresh("m3", map[string]any{"os": "darwin", "env": "prod"}))

	ids, err := r.Select(map[string]any{"os": "linux", "env": "prod"})
	require.NoError(t, err)
	require.Equal(t, []string{"m1"}, ids)
}

func TestResolveHostnameOrIPMatchesHostnameFQDNAndNet(t *testing.T) {
	r := openTestRegistry(t)
	traits := map[string]any{
		"system": map[string]any{
			"hostname": map[string]any{"fqdn": "web-01.internal"},
			"net": map[string]any{
				"eth0": map[string]any{"ipv4": "10.0.0.5"},
			},
		},
	}
	require.NoError(t, r.Refresh("m1", traits))

	require.True(t, r.ResolveHostnameOrIP("m1", "web-01.internal"))
	require.True(t, r.ResolveHostnameOrIP("m1", "10.0.0.5"))
	require.False(t, r.ResolveHostnameOrIP("m1", "192.168.1.1"))
}

func TestResolveHostnameOrIPUnknownMinionIsFalse(t *testing.T) {
	r := openTestRegistry(t)
	require.False(t, r.ResolveHostnameOrIP("ghost", "anything"))
}
