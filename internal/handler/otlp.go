package handler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/sysinspect/sysinspect/api/types"
	"github.com/sysinspect/sysinspect/internal/reactor"
	"github.com/sysinspect/sysinspect/internal/telemetry"
)

// TraitsLookup resolves a minion's current traits snapshot, used to
// evaluate a telemetry selector's Select constraint.
type TraitsLookup func(minionID string) map[string]any

// OTLP delegates matched events to the Telemetry Projector in per-event
// mode: one configured EventSelector, evaluated per invocation.
type OTLP struct {
	lg     *zap.Logger
	proj   *telemetry.Projector
	traits TraitsLookup
}

func NewOTLP(lg *zap.Logger, proj *telemetry.Projector, traits TraitsLookup) *OTLP {
	return &OTLP{lg: lg, proj: proj, traits: traits}
}

func (h *OTLP) ID() string { return "otlp" }

// Handle expects cfg to describe one types.EventSelector (as produced by
// decoding the handler's model configuration block); see
// ParseSelectorConfig.
func (h *OTLP) Handle(ev reactor.Evaluated, cfg map[string]any) error {
	sel, ok := ParseSelectorConfig(cfg)
	if !ok {
		h.lg.Warn("otlp handler: no valid selector in config")
		return nil
	}

	var minionTraits map[string]any
	if h.traits != nil {
		minionTraits = h.traits(ev.MinionID)
	}

	h.proj.ProjectEvent(context.Background(), sel, minionTraits, ev.ResultPayload)
	return nil
}

// ParseSelectorConfig extracts a types.EventSelector from a generic handler
// config block: cfg["selector"] is whatever shape the model's YAML decoded
// into (already a types.EventSelector, or a generic map[string]any produced
// by yaml.Unmarshal into RuleFile.Cfg) and is round-tripped through JSON to
// land on the typed struct either way.
func ParseSelectorConfig(cfg map[string]any) (types.EventSelector, bool) {
	raw, ok := cfg["selector"]
	if !ok {
		return types.EventSelector{}, false
	}
	if sel, ok := raw.(types.EventSelector); ok {
		return sel, true
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return types.EventSelector{}, false
	}
	var sel types.EventSelector
	if err := json.Unmarshal(buf, &sel); err != nil {
		return types.EventSelector{}, false
	}
	return sel, true
}
