package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sysinspect/sysinspect/internal/reactor"
	"github.com/sysinspect/sysinspect/internal/telemetry"
)

type recordingEmitter struct {
	jsonBodies []any
	jsonAttrs  []map[string]any
	strBodies  []string
}

func (e *recordingEmitter) EmitJSON(_ context.Context, body any, attrs map[string]any) {
	e.jsonBodies = append(e.jsonBodies, body)
	e.jsonAttrs = append(e.jsonAttrs, attrs)
}

func (e *recordingEmitter) EmitString(_ context.Context, body string, _ map[string]any) {
	e.strBodies = append(e.strBodies, body)
}

func TestParseSelectorConfigRoundTripsFromYAMLShapedMap(t *testing.T) {
	cfg := map[string]any{
		"selector": map[string]any{
			"select": []any{"os:linux"},
			"data":   map[string]any{"load": "$.data.load"},
			"export": map[string]any{"attr-type": "json"},
		},
	}
	sel, ok := ParseSelectorConfig(cfg)
	require.True(t, ok)
	require.Equal(t, []string{"os:linux"}, sel.Select)
	require.Equal(t, "$.data.load", sel.Data["load"])
}

func TestParseSelectorConfigMissingSelectorFails(t *testing.T) {
	_, ok := ParseSelectorConfig(map[string]any{})
	require.False(t, ok)
}

func TestOTLPHandleResolvesTraitsByMinionIDNotSID(t *testing.T) {
	em := &recordingEmitter{}
	proj := telemetry.New(zap.NewNop(), em)

	var lookedUp string
	traits := TraitsLookup(func(minionID string) map[string]any {
		lookedUp = minionID
		return map[string]any{"os": "linux"}
	})

	h := NewOTLP(zap.NewNop(), proj, traits)

	ev := reactor.Evaluated{}
	ev.MinionID = "minion-7"
	ev.SID = "present"
	ev.Response.Data = map[string]any{"load": 1.5}

	cfg := map[string]any{
		"selector": map[string]any{
			"select": []any{"os:linux"},
			"data":   map[string]any{"load": "$.data.load"},
			"export": map[string]any{"attr-type": "json"},
		},
	}
	require.NoError(t, h.Handle(ev, cfg))
	require.Equal(t, "minion-7", lookedUp)
	require.Len(t, em.jsonBodies, 1)
}

func TestOTLPHandleSkipsWithoutValidSelector(t *testing.T) {
	em := &recordingEmitter{}
	proj := telemetry.New(zap.NewNop(), em)
	h := NewOTLP(zap.NewNop(), proj, nil)
	require.NoError(t, h.Handle(reactor.Evaluated{}, map[string]any{}))
	require.Empty(t, em.jsonBodies)
}
