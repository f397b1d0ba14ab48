package minion

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sysinspect/sysinspect/api/types"
)

func newTestMinion(t *testing.T) *Minion {
	t.Helper()
	m, err := Open(Options{
		ID:       "test-minion",
		StateDir: t.TempDir(),
		Addr:     "127.0.0.1:0",
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	return m
}

func TestAgentUnknownRequestsAdministrativeExit(t *testing.T) {
	m := newTestMinion(t)
	action, err := m.react(t.Context(), types.MasterMessage{Request: types.RequestAgentUnknown}, "sid")
	require.NoError(t, err)
	require.Equal(t, actionReconnectAdministrative, action)
}

func TestReconnectBeforeRegistrationIsAdministrativeAndPersists(t *testing.T) {
	m := newTestMinion(t)
	require.False(t, m.registered())

	action, err := m.react(t.Context(), types.MasterMessage{Request: types.RequestReconnect, Payload: "accepted"}, "sid")
	require.NoError(t, err)
	require.Equal(t, actionReconnectAdministrative, action)
	require.True(t, m.registered())
}

func TestReconnectAfterRegistrationIsGeneral(t *testing.T) {
	m := newTestMinion(t)
	require.NoError(t, m.markRegistered())

	action, err := m.react(t.Context(), types.MasterMessage{Request: types.RequestReconnect}, "sid")
	require.NoError(t, err)
	require.Equal(t, actionReconnectGeneral, action)
}

func TestCommandAlreadyConnectedExitsAdministratively(t *testing.T) {
	m := newTestMinion(t)
	action, err := m.react(t.Context(), types.MasterMessage{
		Request: types.RequestCommand,
		Payload: string(types.CommandAlreadyConnected),
	}, "own-sid")
	require.NoError(t, err)
	require.Equal(t, actionReconnectAdministrative, action)
}

func TestSayHelloUnregisteredFailsWhileDisconnected(t *testing.T) {
	m := newTestMinion(t)
	require.False(t, m.registered())
	err := m.sayHello("sid")
	// Not connected yet, so Send fails. Add and Ehlo fail the same way here:
	// this checks that the error is surfaced, not which message was built.
	require.Error(t, err)
}

func TestRegisteredMarkerPersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	m1, err := Open(Options{ID: "m", StateDir: dir, Addr: "127.0.0.1:0", Logger: zap.NewNop()})
	require.NoError(t, err)
	require.NoError(t, m1.markRegistered())

	m2, err := Open(Options{ID: "m", StateDir: dir, Addr: "127.0.0.1:0", Logger: zap.NewNop()})
	require.NoError(t, err)
	require.True(t, m2.registered())
	require.FileExists(t, filepath.Join(dir, "registered"))
}

func TestHostnamesOfExtractsSystemHostnames(t *testing.T) {
	plain := map[string]any{
		"system": map[string]any{"hostname": "box1"},
	}
	require.ElementsMatch(t, []string{"box1"}, hostnamesOf(plain))

	structured := map[string]any{
		"system": map[string]any{
			"hostname": map[string]any{"fqdn": "box1.example.com"},
		},
	}
	require.ElementsMatch(t, []string{"box1.example.com"}, hostnamesOf(structured))
}
