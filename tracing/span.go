package tracing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hiydavid/dbx-agent-on-app/internal/ctxkeys"
	"github.com/hiydavid/dbx-agent-on-app/types"
)

const instrumentationName = "github.com/hiydavid/dbx-agent-on-app/tracing"

// Span attribute keys.
const (
	// AttrInvocation marks the root span of one invocation or stream session.
	AttrInvocation = attribute.Key("agent.invocation")
	AttrInputs     = attribute.Key("mlflow.spanInputs")
	AttrOutputs    = attribute.Key("mlflow.spanOutputs")
	AttrDurationMs = attribute.Key("duration_ms")
)

// Tracer opens invocation spans and materializes finished traces.
type Tracer struct {
	tracer   trace.Tracer
	recorder *Recorder
}

// NewTracer creates a Tracer. recorder must be registered as a span
// processor on tp, otherwise Materialize never finds anything.
func NewTracer(tp trace.TracerProvider, recorder *Recorder) *Tracer {
	return &Tracer{tracer: tp.Tracer(instrumentationName), recorder: recorder}
}

// WithSpan runs fn inside a new invocation span and finalizes the span on
// every exit path, panics included.
//
// On success the span outputs are whatever fn set through Span.SetOutputs,
// or fn's result when it set nothing. On failure the outputs become an
// "Error: <message>" marker and the error is returned unchanged.
//
// The span starts a new trace so every invocation owns a unique trace id;
// an incoming span in ctx is attached as a link.
func (t *Tracer) WithSpan(
	ctx context.Context,
	name string,
	inputs any,
	fn func(ctx context.Context, span *Span) (any, error),
	attrs ...attribute.KeyValue,
) (*Span, error) {
	startAttrs := make([]attribute.KeyValue, 0, len(attrs)+2)
	startAttrs = append(startAttrs, AttrInvocation.Bool(true), AttrInputs.String(encode(inputs)))
	startAttrs = append(startAttrs, attrs...)

	opts := []trace.SpanStartOption{
		trace.WithNewRoot(),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(startAttrs...),
	}
	if parent := trace.SpanContextFromContext(ctx); parent.IsValid() {
		opts = append(opts, trace.WithLinks(trace.Link{SpanContext: parent}))
	}

	ctx, otelSpan := t.tracer.Start(ctx, name, opts...)
	span := &Span{span: otelSpan, inputs: inputs, start: time.Now()}
	ctx = ctxkeys.WithTraceID(ctx, span.TraceID())

	returned := false
	defer func() {
		if returned {
			return
		}
		p := recover()
		span.fail(fmt.Errorf("panic: %v", p))
		span.end()
		if p != nil {
			panic(p)
		}
	}()

	result, err := fn(ctx, span)
	returned = true

	if err != nil {
		span.fail(err)
	} else if !span.outputsSet {
		span.SetOutputs(result)
	}
	span.end()
	return span, err
}

// Materialize returns the finished trace document for traceID.
func (t *Tracer) Materialize(ctx context.Context, traceID string) (*TraceDocument, error) {
	return t.recorder.Materialize(ctx, traceID)
}

// Span is one invocation span. It is owned by the execution that created it
// and is not safe for concurrent use.
type Span struct {
	span       trace.Span
	start      time.Time
	inputs     any
	outputs    any
	outputsSet bool
	err        error
	ended      bool
	duration   time.Duration
}

// SetOutputs records the span outputs. Only the first call has effect.
func (s *Span) SetOutputs(outputs any) {
	if s.outputsSet {
		return
	}
	s.outputs = outputs
	s.outputsSet = true
}

// SetAttributes adds attributes to the underlying span.
func (s *Span) SetAttributes(kv ...attribute.KeyValue) {
	s.span.SetAttributes(kv...)
}

// AddEvent records a named event on the underlying span.
func (s *Span) AddEvent(name string, kv ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(kv...))
}

// TraceID returns the hex trace id.
func (s *Span) TraceID() string { return s.span.SpanContext().TraceID().String() }

// SpanID returns the hex span id.
func (s *Span) SpanID() string { return s.span.SpanContext().SpanID().String() }

func (s *Span) Inputs() any  { return s.inputs }
func (s *Span) Outputs() any { return s.outputs }
func (s *Span) Err() error   { return s.err }
func (s *Span) Ended() bool  { return s.ended }

// Duration is the monotonic elapsed time, fixed once the span has ended.
func (s *Span) Duration() time.Duration {
	if s.ended {
		return s.duration
	}
	return time.Since(s.start)
}

func (s *Span) fail(err error) {
	s.err = err
	s.outputs = "Error: " + errorMessage(err)
	s.outputsSet = true
}

func (s *Span) end() {
	if s.ended {
		return
	}
	s.ended = true
	s.duration = time.Since(s.start)

	s.span.SetAttributes(
		AttrOutputs.String(encode(s.outputs)),
		AttrDurationMs.Float64(float64(s.duration.Microseconds())/1000),
	)
	if s.err != nil {
		s.span.RecordError(s.err)
		s.span.SetStatus(codes.Error, errorMessage(s.err))
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

// errorMessage is the client-facing text of err.
func errorMessage(err error) string {
	if te, ok := types.AsError(err); ok {
		return te.Detail()
	}
	return err.Error()
}

// encode renders v as JSON for span attributes. Values that cannot be
// marshaled are stored as their string form.
func encode(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprintf("%v", v))
	}
	return string(data)
}
