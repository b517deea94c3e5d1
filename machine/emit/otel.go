package emit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each event into an OpenTelemetry span named after
// event.Msg. Spans carry actorcheck.* attributes for the run, iteration,
// step and actor plus every Meta entry. bug_found events and events with an
// "error" entry get an error status.
//
// Usage:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//	emitter := emit.NewOTelEmitter(otel.Tracer("actorcheck"))
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an emitter that records spans with tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit records one instantaneous span for event.
func (o *OTelEmitter) Emit(event Event) {
	o.record(context.Background(), event)
}

// EmitBatch records one span per event under ctx, so callers can parent the
// spans under their own trace.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.record(ctx, event)
	}
	return nil
}

func (o *OTelEmitter) record(ctx context.Context, event Event) {
	_, span := o.tracer.Start(ctx, event.Msg)
	defer span.End()

	span.SetAttributes(
		attribute.String("actorcheck.run_id", event.RunID),
		attribute.Int("actorcheck.iteration", event.Iteration),
		attribute.Int("actorcheck.step", event.Step),
	)
	if event.ActorID != "" {
		span.SetAttributes(attribute.String("actorcheck.actor", event.ActorID))
	}
	addMetadataAttributes(span, event.Meta)

	switch {
	case event.HasError():
		msg := fmt.Sprintf("%v", event.Meta["error"])
		span.SetStatus(codes.Error, msg)
		span.RecordError(fmt.Errorf("%s", msg))
	case event.Msg == "bug_found":
		msg, _ := event.Meta["message"].(string)
		span.SetStatus(codes.Error, msg)
	}
}

// Flush forces export of buffered spans when the global provider supports
// it. Call it before shutdown.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	for key, value := range meta {
		attrKey := "actorcheck." + key
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case uint64:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%016x", v)))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case []string:
			span.SetAttributes(attribute.StringSlice(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}
