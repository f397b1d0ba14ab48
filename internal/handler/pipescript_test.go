package handler

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sysinspect/sysinspect/internal/reactor"
)

func TestPipeScriptSkipsNonZeroRetcode(t *testing.T) {
	h := NewPipeScript(zap.NewNop())
	ev := reactor.Evaluated{}
	ev.Response.Retcode = 1
	require.NoError(t, h.Handle(ev, map[string]any{"program": "/bin/does-not-matter"}))
}

func TestPipeScriptSkipsEmptyProgram(t *testing.T) {
	h := NewPipeScript(zap.NewNop())
	ev := reactor.Evaluated{}
	require.NoError(t, h.Handle(ev, map[string]any{}))
}

func TestPipeScriptRunsConfiguredProgram(t *testing.T) {
	h := NewPipeScript(zap.NewNop())
	ev := reactor.Evaluated{}
	ev.AID = "pkg.install"
	ev.SID = "present"
	ev.Response.Data = map[string]any{"ok": true}
	require.NoError(t, h.Handle(ev, map[string]any{"program": "/bin/cat", "quiet": true}))
}

func TestEncodeDocFormats(t *testing.T) {
	doc := map[string]any{"a": 1}
	j, err := encodeDoc(doc, "json")
	require.NoError(t, err)
	require.Contains(t, string(j), `"a":1`)

	y, err := encodeDoc(doc, "yaml")
	require.NoError(t, err)
	require.Contains(t, string(y), "a: 1")
}
