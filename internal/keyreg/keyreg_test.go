package keyreg

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "keyreg")
	r, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestOpenBootstrapsMasterKeypair(t *testing.T) {
	r := openTestRegistry(t)
	require.NotEmpty(t, r.MasterPublicKeyPEM())
	require.NoError(t, r.MasterPair().Validate())
}

func TestOpenReloadsExistingMasterKeypair(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keyreg")
	r1, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	pub1 := r1.MasterPublicKeyPEM()
	require.NoError(t, r1.Close())

	r2, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	defer r2.Close()
	require.Equal(t, pub1, r2.MasterPublicKeyPEM())
}

func TestRegisterThenIsRegistered(t *testing.T) {
	r := openTestRegistry(t)

	ok, err := r.IsRegistered("m1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, r.Register("m1", "10.0.0.1:9999", []byte(testPublicKeyPEM(t, r))))

	ok, err = r.IsRegistered("m1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRegisterRejectsDuplicateMinionID(t *testing.T) {
	r := openTestRegistry(t)
	pem := []byte(testPublicKeyPEM(t, r))

	require.NoError(t, r.Register("m1", "10.0.0.1:9999", pem))
	err := r.Register("m1", "10.0.0.2:9999", pem)
	require.Error(t, err)
}

func TestPublicKeyPEMRoundTrips(t *testing.T) {
	r := openTestRegistry(t)
	pem := testPublicKeyPEM(t, r)
	require.NoError(t, r.Register("m1", "10.0.0.1:9999", []byte(pem)))

	got, err := r.PublicKeyPEM("m1")
	require.NoError(t, err)
	require.Equal(t, pem, string(got))
}

func TestPublicKeyPEMUnknownMinionIsNotFound(t *testing.T) {
	r := openTestRegistry(t)
	_, err := r.PublicKeyPEM("ghost")
	require.Error(t, err)
}

func testPublicKeyPEM(t *testing.T, r *Registry) string {
	t.Helper()
	return r.MasterPublicKeyPEM()
}
