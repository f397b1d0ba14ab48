package telemetry

import (
	"context"
	"encoding/json"
	"time"

	olog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
)

// Provider is the production Emitter: an OTLP log exporter over HTTP,
// batched through the SDK's log processor.
type Provider struct {
	sdk    *sdklog.LoggerProvider
	logger olog.Logger
}

// Options configures NewProvider.
type Options struct {
	Endpoint    string
	Insecure    bool
	ServiceName string
}

// NewProvider dials an OTLP/HTTP log collector at opt.Endpoint and returns
// a ready Provider. Call Shutdown to flush and release it.
func NewProvider(ctx context.Context, opt Options) (*Provider, error) {
	httpOpts := []otlploghttp.Option{otlploghttp.WithEndpoint(opt.Endpoint)}
	if opt.Insecure {
		httpOpts = append(httpOpts, otlploghttp.WithInsecure())
	}

	exporter, err := otlploghttp.New(ctx, httpOpts...)
	if err != nil {
		return nil, err
	}

	processor := sdklog.NewBatchProcessor(exporter)
	sdk := sdklog.NewLoggerProvider(sdklog.WithProcessor(processor))

	name := opt.ServiceName
	if name == "" {
		name = "sysinspect"
	}
	return &Provider{sdk: sdk, logger: sdk.Logger(name)}, nil
}

// EmitJSON emits body (marshaled to a JSON string) as one OTLP log record
// with attrs as record attributes.
func (p *Provider) EmitJSON(ctx context.Context, body any, attrs map[string]any) {
	b, err := json.Marshal(body)
	if err != nil {
		return
	}
	p.emit(ctx, string(b), attrs)
}

// EmitString emits body verbatim as one OTLP log record with attrs as
// record attributes.
func (p *Provider) EmitString(ctx context.Context, body string, attrs map[string]any) {
	p.emit(ctx, body, attrs)
}

func (p *Provider) emit(ctx context.Context, body string, attrs map[string]any) {
	var r olog.Record
	r.SetTimestamp(time.Now())
	r.SetObservedTimestamp(time.Now())
	r.SetSeverity(olog.SeverityInfo)
	r.SetBody(olog.StringValue(body))
	for k, v := range attrs {
		r.AddAttributes(olog.KeyValue{Key: k, Value: toLogValue(v)})
	}
	p.logger.Emit(ctx, r)
}

func toLogValue(v any) olog.Value {
	switch t := v.(type) {
	case string:
		return olog.StringValue(t)
	case bool:
		return olog.BoolValue(t)
	case int:
		return olog.Int64Value(int64(t))
	case int64:
		return olog.Int64Value(t)
	case float64:
		return olog.Float64Value(t)
	default:
		b, _ := json.Marshal(t)
		return olog.StringValue(string(b))
	}
}

// Shutdown flushes any pending records and releases the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.sdk.Shutdown(ctx)
}
