package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sysinspect/sysinspect/api/types"
)

type fakeEmitter struct {
	jsonBodies   []any
	stringBodies []string
	attrs        []map[string]any
}

func (f *fakeEmitter) EmitJSON(_ context.Context, body any, attrs map[string]any) {
	f.jsonBodies = append(f.jsonBodies, body)
	f.attrs = append(f.attrs, attrs)
}

func (f *fakeEmitter) EmitString(_ context.Context, body string, attrs map[string]any) {
	f.stringBodies = append(f.stringBodies, body)
	f.attrs = append(f.attrs, attrs)
}

func payload(eid, aid string, cpu float64) types.ResultPayload {
	return types.ResultPayload{
		EID: eid,
		AID: aid,
		Response: types.ActionResponse{
			Retcode: 0,
			Data:    map[string]any{"cpu": cpu, "user": "alice"},
		},
	}
}

func TestProjectEventCompliantJSON(t *testing.T) {
	fe := &fakeEmitter{}
	p := New(zap.NewNop(), fe)

	sel := types.EventSelector{
		Data:   map[string]string{"cpu": "$.data.cpu"},
		Filter: types.EventFilter{Entity: "host"},
		Export: types.DataExport{AttrType: "json"},
	}

	ok := p.ProjectEvent(context.Background(), sel, nil, payload("host", "cpu.check", 42.0))
	require.True(t, ok)
	require.Len(t, fe.jsonBodies, 1)
	body := fe.jsonBodies[0].(map[string]any)
	require.Equal(t, 42.0, body["cpu"])
}

func TestProjectEventEntityMismatchSkipped(t *testing.T) {
	fe := &fakeEmitter{}
	p := New(zap.NewNop(), fe)
	sel := types.EventSelector{
		Data:   map[string]string{"cpu": "$.data.cpu"},
		Filter: types.EventFilter{Entity: "other"},
		Export: types.DataExport{AttrType: "json"},
	}
	ok := p.ProjectEvent(context.Background(), sel, nil, payload("host", "cpu.check", 42.0))
	require.False(t, ok)
	require.Empty(t, fe.jsonBodies)
}

func TestProjectEventNonCompliantMissingKey(t *testing.T) {
	fe := &fakeEmitter{}
	p := New(zap.NewNop(), fe)
	sel := types.EventSelector{
		Data:   map[string]string{"missing": "$.data.nope"},
		Export: types.DataExport{AttrType: "json"},
	}
	ok := p.ProjectEvent(context.Background(), sel, nil, payload("host", "cpu.check", 42.0))
	require.False(t, ok)
}

func TestProjectEventStringInterpolation(t *testing.T) {
	fe := &fakeEmitter{}
	p := New(zap.NewNop(), fe)
	sel := types.EventSelector{
		Data: map[string]string{"user": "$.data.user"},
		Export: types.DataExport{
			AttrType:   "string",
			AttrFormat: "login by {user}",
		},
	}
	ok := p.ProjectEvent(context.Background(), sel, nil, payload("host", "login", 0))
	require.True(t, ok)
	require.Equal(t, []string{"login by alice"}, fe.stringBodies)
}

func TestProjectEventMapFunctions(t *testing.T) {
	fe := &fakeEmitter{}
	p := New(zap.NewNop(), fe)
	sel := types.EventSelector{
		Data:   map[string]string{"cpu": "$.data.cpu"},
		Map:    map[string]string{"cpu": "round"},
		Export: types.DataExport{AttrType: "json"},
	}
	ok := p.ProjectEvent(context.Background(), sel, nil, payload("host", "cpu.check", 42.6))
	require.True(t, ok)
	body := fe.jsonBodies[0].(map[string]any)
	require.Equal(t, int64(43), body["cpu"])
}

func TestProjectEventStaticAttributeVsBody(t *testing.T) {
	fe := &fakeEmitter{}
	p := New(zap.NewNop(), fe)

	attrSel := types.EventSelector{
		Data:   map[string]string{"cpu": "$.data.cpu"},
		Export: types.DataExport{AttrType: "json", Static: map[string]any{"region": "us"}, StaticDestination: types.StaticDestinationAttribute},
	}
	require.True(t, p.ProjectEvent(context.Background(), attrSel, nil, payload("host", "cpu.check", 1)))
	require.Equal(t, "us", fe.attrs[0]["region"])
	require.NotContains(t, fe.jsonBodies[0].(map[string]any), "region")

	bodySel := attrSel
	bodySel.Export.StaticDestination = types.StaticDestinationBody
	require.True(t, p.ProjectEvent(context.Background(), bodySel, nil, payload("host", "cpu.check", 1)))
	require.Contains(t, fe.jsonBodies[1].(map[string]any), "region")
}

func TestProjectBufferedOnlyFiresForModelSelectors(t *testing.T) {
	fe := &fakeEmitter{}
	p := New(zap.NewNop(), fe)
	sel := types.EventSelector{Data: map[string]string{"cpu": "$.data.cpu"}, Export: types.DataExport{AttrType: "json"}}
	n := p.ProjectBuffered(context.Background(), sel, nil, []types.ResultPayload{payload("host", "cpu.check", 1)})
	require.Zero(t, n)

	sel.Map = map[string]string{"cpu": "as-int"}
	sel.Reduce = map[string]string{"cpu": "sum"}
	n = p.ProjectBuffered(context.Background(), sel, nil, []types.ResultPayload{payload("host", "cpu.check", 1), payload("host", "cpu.check", 2)})
	require.Equal(t, 2, n)
}

func TestMatchesSelectTraits(t *testing.T) {
	require.True(t, matchesSelect(nil, nil))
	require.True(t, matchesSelect([]string{"*"}, map[string]any{}))
	require.True(t, matchesSelect([]string{"os:linux"}, map[string]any{"os": "linux"}))
	require.False(t, matchesSelect([]string{"os:linux"}, map[string]any{"os": "darwin"}))
}

func TestInterpolateUnknownNameLeftLiteral(t *testing.T) {
	require.Equal(t, "hello {unknown}", interpolate("hello {unknown}", map[string]any{}))
}
