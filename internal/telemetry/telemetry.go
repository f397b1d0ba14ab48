// Package telemetry implements the Telemetry Projector: a
// declarative map/reduce over collected event payloads that projects
// JSONPath selections into OTLP log records, per the model's telemetry
// configuration.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"go.uber.org/zap"

	"github.com/sysinspect/sysinspect/api/types"
)

// Emitter abstracts OTLP log emission so the projector can be exercised
// without a live collector. Provider (provider.go) is the production
// implementation.
type Emitter interface {
	EmitJSON(ctx context.Context, body any, attrs map[string]any)
	EmitString(ctx context.Context, body string, attrs map[string]any)
}

// Projector evaluates EventSelectors against incoming results and
// minion-model-level buffers, emitting compliant projections via Emitter.
type Projector struct {
	lg   *zap.Logger
	emit Emitter
}

// New returns a Projector that emits through emit.
func New(lg *zap.Logger, emit Emitter) *Projector {
	return &Projector{lg: lg, emit: emit}
}

// ProjectEvent evaluates a per-event (non-model) selector against one
// result payload and its minion's traits. Returns whether a record was
// emitted. Model-level selectors (IsModelEvent) are never fired here; see
// ProjectBuffered.
func (p *Projector) ProjectEvent(ctx context.Context, sel types.EventSelector, minionTraits map[string]any, payload types.ResultPayload) bool {
	if sel.IsModelEvent() {
		return false
	}
	if !matchesSelect(sel.Select, minionTraits) {
		return false
	}
	if !matchesFilter(sel.Filter, payload.EID, payload.AID) {
		return false
	}
	data, ok := p.project(sel, payload.Response)
	if !ok {
		p.lg.Debug("telemetry selector not compliant, skipping", zap.Any("dataspec", sel.Data))
		return false
	}
	p.emitData(ctx, sel, data)
	return true
}

// ProjectBuffered runs a model-level selector (Map and Reduce both
// configured) over every buffered payload accumulated for one cycle,
// emitting one record per compliant event. Returns the count emitted.
func (p *Projector) ProjectBuffered(ctx context.Context, sel types.EventSelector, minionTraits map[string]any, buffered []types.ResultPayload) int {
	if !sel.IsModelEvent() {
		return 0
	}
	if !matchesSelect(sel.Select, minionTraits) {
		return 0
	}
	n := 0
	for _, payload := range buffered {
		if !matchesFilter(sel.Filter, payload.EID, payload.AID) {
			continue
		}
		data, ok := p.project(sel, payload.Response)
		if !ok {
			continue
		}
		p.emitData(ctx, sel, data)
		n++
	}
	return n
}

// project evaluates sel.Data's JSONPath expressions against resp, applies
// Map and CastMap, and reports ok=false if any key is non-compliant (zero
// or multiple matches).
func (p *Projector) project(sel types.EventSelector, resp types.ActionResponse) (map[string]any, bool) {
	doc, err := toDoc(resp)
	if err != nil {
		return nil, false
	}

	data := make(map[string]any, len(sel.Data))
	for key, path := range sel.Data {
		v, ok := selectOne(doc, path)
		if !ok {
			return nil, false
		}
		data[key] = v
	}

	applyMap(data, sel.Map)
	applyCast(data, sel.Export.CastMap)
	return data, true
}

// selectOne evaluates path against doc and reports ok=false unless it
// resolves to exactly one value.
func selectOne(doc any, path string) (any, bool) {
	res, err := jsonpath.Get(path, doc)
	if err != nil {
		return nil, false
	}
	if list, isList := res.([]any); isList {
		if len(list) != 1 {
			return nil, false
		}
		return list[0], true
	}
	return res, true
}

func toDoc(resp types.ActionResponse) (any, error) {
	b, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// applyMap applies the known single-value functions (round, as-int,
// as-float, as-bool, as-str) to data in place; unknown function names
// leave the value unchanged.
func applyMap(data map[string]any, fns map[string]string) {
	for key, fn := range fns {
		v, ok := data[key]
		if !ok {
			continue
		}
		switch fn {
		case "round":
			if f, ok := asFloat(v); ok {
				data[key] = int64(f + sign(f)*0.5)
			}
		case "as-int":
			if f, ok := asFloat(v); ok {
				data[key] = int64(f)
			}
		case "as-float":
			if f, ok := asFloat(v); ok {
				data[key] = f
			}
		case "as-bool":
			data[key] = truthy(v)
		case "as-str":
			data[key] = toStr(v)
		}
	}
}

func sign(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}

// applyCast coerces data's values to the target types named in castMap
// ("string", "int", "float", "bool"), used to prepare values for OTLP
// attribute/body encoding.
func applyCast(data map[string]any, castMap map[string]string) {
	for key, typ := range castMap {
		v, ok := data[key]
		if !ok {
			continue
		}
		switch typ {
		case "string":
			data[key] = toStr(v)
		case "int":
			if f, ok := asFloat(v); ok {
				data[key] = int64(f)
			}
		case "float":
			if f, ok := asFloat(v); ok {
				data[key] = f
			}
		case "bool":
			data[key] = truthy(v)
		}
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int64:
		return t != 0
	case string:
		return t != ""
	case nil:
		return false
	default:
		return true
	}
}

func toStr(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// matchesSelect reports whether traits satisfies every "key:value" atom in
// selects; an empty list or a bare "*" always matches.
func matchesSelect(selects []string, traits map[string]any) bool {
	for _, s := range selects {
		if s == "*" || s == "" {
			continue
		}
		key, want, ok := strings.Cut(s, ":")
		if !ok {
			continue
		}
		got, ok := traits[key]
		if !ok {
			return false
		}
		if gs, ok := got.(string); !ok || gs != want {
			return false
		}
	}
	return true
}

func matchesFilter(f types.EventFilter, eid, aid string) bool {
	if f.Entity != "" && f.Entity != eid {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == aid {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// emitData builds the static attributes/body merge per DestinationOrDefault
// and dispatches to the emitter per TelemetryTypeOrDefault/AttrTypeOrDefault.
func (p *Projector) emitData(ctx context.Context, sel types.EventSelector, data map[string]any) {
	attrs := map[string]any{}
	switch sel.Export.DestinationOrDefault() {
	case types.StaticDestinationAttribute:
		for k, v := range sel.Export.Static {
			attrs[k] = v
		}
	case types.StaticDestinationBody:
		for k, v := range sel.Export.Static {
			data[k] = v
		}
	}

	if sel.Export.TelemetryTypeOrDefault() != "log" {
		p.lg.Warn("telemetry type not supported", zap.String("type", sel.Export.TelemetryTypeOrDefault()))
		return
	}

	switch sel.Export.AttrTypeOrDefault() {
	case "string":
		if sel.Export.AttrFormat == "" {
			p.lg.Error("attr-type is string but no attr-format configured")
			return
		}
		p.emit.EmitString(ctx, interpolate(sel.Export.AttrFormat, data), attrs)
	case "json":
		p.emit.EmitJSON(ctx, data, attrs)
	default:
		p.lg.Error("unsupported attr-type", zap.String("attr-type", sel.Export.AttrTypeOrDefault()))
	}
}

// interpolate substitutes every "{name}" occurrence in tpl with the
// stringified value of data["name"].
func interpolate(tpl string, data map[string]any) string {
	var b strings.Builder
	for {
		start := strings.IndexByte(tpl, '{')
		if start < 0 {
			b.WriteString(tpl)
			break
		}
		end := strings.IndexByte(tpl[start:], '}')
		if end < 0 {
			b.WriteString(tpl)
			break
		}
		end += start
		b.WriteString(tpl[:start])
		name := tpl[start+1 : end]
		if v, ok := data[name]; ok {
			b.WriteString(toStr(v))
		} else {
			b.WriteString(fmt.Sprintf("{%s}", name))
		}
		tpl = tpl[end+1:]
	}
	return b.String()
}
