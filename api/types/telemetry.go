package types

// StaticDestination decides where a DataExport's static key/value pairs
// land in the emitted OTLP log record.
type StaticDestination string

const (
	StaticDestinationAttribute StaticDestination = "attribute"
	StaticDestinationBody      StaticDestination = "body"
)

// DataExport is the export half of an EventSelector: how projected data
// becomes an OTLP log record.
type DataExport struct {
	AttrName          string            `json:"attr-name" yaml:"attr-name"`
	AttrType          string            `json:"attr-type,omitempty" yaml:"attr-type,omitempty"`
	AttrFormat        string            `json:"attr-format,omitempty" yaml:"attr-format,omitempty"`
	CastMap           map[string]string `json:"data-type,omitempty" yaml:"data-type,omitempty"`
	TelemetryType     string            `json:"telemetry-type,omitempty" yaml:"telemetry-type,omitempty"`
	Static            map[string]any    `json:"static,omitempty" yaml:"static,omitempty"`
	StaticDestination StaticDestination `json:"static-destination,omitempty" yaml:"static-destination,omitempty"`
}

// AttrTypeOrDefault returns AttrType, defaulting to "json".
func (d DataExport) AttrTypeOrDefault() string {
	if d.AttrType == "" {
		return "json"
	}
	return d.AttrType
}

// TelemetryTypeOrDefault returns TelemetryType, defaulting to "log".
func (d DataExport) TelemetryTypeOrDefault() string {
	if d.TelemetryType == "" {
		return "log"
	}
	return d.TelemetryType
}

// DestinationOrDefault returns StaticDestination, defaulting to Attribute.
func (d DataExport) DestinationOrDefault() StaticDestination {
	if d.StaticDestination == "" {
		return StaticDestinationAttribute
	}
	return d.StaticDestination
}

// EventFilter narrows an EventSelector to one entity and, optionally, a
// set of actions on that entity.
type EventFilter struct {
	Entity  string   `json:"entity,omitempty" yaml:"entity,omitempty"`
	Actions []string `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// EventSelector is one declarative telemetry projection: a trait selector
// on minions, a JSONPath dataspec over the response payload, a filter by
// entity/action, a map of per-key transform functions, an optional reduce
// (only meaningful for model-level selectors), and an export block.
type EventSelector struct {
	Select  []string          `json:"select,omitempty" yaml:"select,omitempty"`
	Data    map[string]string `json:"data" yaml:"data"`
	Filter  EventFilter       `json:"filter,omitempty" yaml:"filter,omitempty"`
	Map     map[string]string `json:"map,omitempty" yaml:"map,omitempty"`
	Reduce  map[string]string `json:"reduce,omitempty" yaml:"reduce,omitempty"`
	Export  DataExport        `json:"export" yaml:"export"`
}

// IsModelEvent reports whether this selector accumulates per-cycle rather
// than firing per-event: both Map and Reduce must be configured.
func (s EventSelector) IsModelEvent() bool {
	return len(s.Map) > 0 && len(s.Reduce) > 0
}
