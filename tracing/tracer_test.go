package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/hiydavid/dbx-agent-on-app/internal/ctxkeys"
	"github.com/hiydavid/dbx-agent-on-app/internal/pool"
	"github.com/hiydavid/dbx-agent-on-app/types"
)

type fixture struct {
	tp       *sdktrace.TracerProvider
	spans    *tracetest.SpanRecorder
	recorder *Recorder
	tracer   *Tracer
}

func newFixture(t *testing.T, opts ...RecorderOption) *fixture {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	recorder := NewRecorder(NewMemoryStore(10), zaptest.NewLogger(t), opts...)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(recorder),
		sdktrace.WithSpanProcessor(spans),
	)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return &fixture{tp: tp, spans: spans, recorder: recorder, tracer: NewTracer(tp, recorder)}
}

func attrValue(t *testing.T, s sdktrace.ReadOnlySpan, key attribute.Key) attribute.Value {
	t.Helper()
	for _, kv := range s.Attributes() {
		if kv.Key == key {
			return kv.Value
		}
	}
	t.Fatalf("attribute %s not found", key)
	return attribute.Value{}
}

func TestWithSpan_Success(t *testing.T) {
	f := newFixture(t)
	inputs := map[string]any{"messages": []any{"hi"}}

	span, err := f.tracer.WithSpan(context.Background(), "echo", inputs,
		func(context.Context, *Span) (any, error) {
			return map[string]any{"content": "hi"}, nil
		},
		attribute.String("mlflow.message.format", "openai"),
	)
	require.NoError(t, err)
	assert.True(t, span.Ended())
	assert.Equal(t, map[string]any{"content": "hi"}, span.Outputs())
	assert.Len(t, span.TraceID(), 32)

	ended := f.spans.Ended()
	require.Len(t, ended, 1)
	s := ended[0]
	assert.Equal(t, "echo", s.Name())
	assert.Equal(t, codes.Ok, s.Status().Code)
	assert.JSONEq(t, `{"content":"hi"}`, attrValue(t, s, AttrOutputs).AsString())
	assert.JSONEq(t, `{"messages":["hi"]}`, attrValue(t, s, AttrInputs).AsString())
	assert.GreaterOrEqual(t, attrValue(t, s, AttrDurationMs).AsFloat64(), 0.0)
	assert.Equal(t, "openai", attrValue(t, s, "mlflow.message.format").AsString())

	doc, err := f.tracer.Materialize(context.Background(), span.TraceID())
	require.NoError(t, err)
	assert.Equal(t, span.TraceID(), doc.Info.TraceID)
	assert.Equal(t, StateOK, doc.Info.State)
	require.Len(t, doc.Data.Spans, 1)
	assert.JSONEq(t, `{"content":"hi"}`, string(doc.Root().Outputs))
	assert.Equal(t, "openai", doc.Root().Attributes["mlflow.message.format"])
	assert.NotContains(t, doc.Root().Attributes, string(AttrInvocation))
}

func TestWithSpan_TraceIDInContext(t *testing.T) {
	f := newFixture(t)

	var seen string
	span, err := f.tracer.WithSpan(context.Background(), "echo", nil,
		func(ctx context.Context, _ *Span) (any, error) {
			seen, _ = ctxkeys.TraceID(ctx)
			return map[string]any{}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, span.TraceID(), seen)
}

func TestWithSpan_ExplicitOutputsWin(t *testing.T) {
	f := newFixture(t)

	span, err := f.tracer.WithSpan(context.Background(), "stream", nil,
		func(_ context.Context, s *Span) (any, error) {
			s.SetOutputs(map[string]any{"reduced": true})
			s.SetOutputs("ignored")
			return "also ignored", nil
		})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"reduced": true}, span.Outputs())
}

func TestWithSpan_Failure(t *testing.T) {
	f := newFixture(t)
	boom := types.NewError(types.ErrCallbackFailed, "boom")

	span, err := f.tracer.WithSpan(context.Background(), "echo", nil,
		func(context.Context, *Span) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "Error: boom", span.Outputs())

	s := f.spans.Ended()[0]
	assert.Equal(t, codes.Error, s.Status().Code)
	assert.Equal(t, "boom", s.Status().Description)
	assert.Equal(t, `"Error: boom"`, attrValue(t, s, AttrOutputs).AsString())

	doc, err := f.tracer.Materialize(context.Background(), span.TraceID())
	require.NoError(t, err)
	assert.Equal(t, StateError, doc.Info.State)
}

func TestWithSpan_PanicFinalizesAndRepanics(t *testing.T) {
	f := newFixture(t)

	assert.PanicsWithValue(t, "kaboom", func() {
		_, _ = f.tracer.WithSpan(context.Background(), "echo", nil,
			func(context.Context, *Span) (any, error) { panic("kaboom") })
	})

	ended := f.spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, 0, f.recorder.Pending())
}

func TestWithSpan_ChildSpansIncluded(t *testing.T) {
	f := newFixture(t)
	tracer := f.tp.Tracer("test")

	span, err := f.tracer.WithSpan(context.Background(), "agent", nil,
		func(ctx context.Context, _ *Span) (any, error) {
			_, child := tracer.Start(ctx, "tool_call")
			child.End()
			_, child = tracer.Start(ctx, "llm_call")
			child.End()
			return map[string]any{}, nil
		})
	require.NoError(t, err)

	doc, err := f.tracer.Materialize(context.Background(), span.TraceID())
	require.NoError(t, err)
	require.Len(t, doc.Data.Spans, 3)
	assert.Equal(t, "agent", doc.Data.Spans[0].Name)
	assert.Equal(t, "tool_call", doc.Data.Spans[1].Name)
	assert.Equal(t, "llm_call", doc.Data.Spans[2].Name)
	assert.Equal(t, span.SpanID(), doc.Data.Spans[1].ParentSpanID)
}

func TestWithSpan_NewRootPerInvocation(t *testing.T) {
	f := newFixture(t)
	ctx, parent := f.tp.Tracer("http").Start(context.Background(), "POST /invocations")
	defer parent.End()

	noop := func(context.Context, *Span) (any, error) { return map[string]any{}, nil }
	a, err := f.tracer.WithSpan(ctx, "a", nil, noop)
	require.NoError(t, err)
	b, err := f.tracer.WithSpan(ctx, "b", nil, noop)
	require.NoError(t, err)

	assert.NotEqual(t, a.TraceID(), b.TraceID())
	assert.NotEqual(t, parent.SpanContext().TraceID().String(), a.TraceID())

	for _, s := range f.spans.Ended() {
		require.Len(t, s.Links(), 1)
		assert.Equal(t, parent.SpanContext().SpanID(), s.Links()[0].SpanContext.SpanID())
	}
}

func TestMaterialize_Unknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.tracer.Materialize(context.Background(), "0123456789abcdef0123456789abcdef")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrTraceNotFound))
}

func TestMaterialize_Evicted(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	recorder := NewRecorder(NewMemoryStore(1), nil)
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder), sdktrace.WithSpanProcessor(spans))
	tracer := NewTracer(tp, recorder)

	noop := func(context.Context, *Span) (any, error) { return map[string]any{}, nil }
	first, err := tracer.WithSpan(context.Background(), "first", nil, noop)
	require.NoError(t, err)
	second, err := tracer.WithSpan(context.Background(), "second", nil, noop)
	require.NoError(t, err)

	_, err = tracer.Materialize(context.Background(), first.TraceID())
	assert.True(t, types.IsErrorCode(err, types.ErrTraceNotFound))
	_, err = tracer.Materialize(context.Background(), second.TraceID())
	assert.NoError(t, err)
}

func TestRecorder_ExternalWriteThrough(t *testing.T) {
	external := NewMemoryStore(10)
	recorder := NewRecorder(NewMemoryStore(1), zaptest.NewLogger(t), WithExternalStore(external))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := NewTracer(tp, recorder)

	noop := func(context.Context, *Span) (any, error) { return map[string]any{"ok": true}, nil }
	first, err := tracer.WithSpan(context.Background(), "first", nil, noop)
	require.NoError(t, err)
	_, err = tracer.WithSpan(context.Background(), "second", nil, noop)
	require.NoError(t, err)

	require.NoError(t, recorder.ForceFlush(context.Background()))
	assert.Equal(t, 2, external.Len())

	doc, err := tracer.Materialize(context.Background(), first.TraceID())
	require.NoError(t, err)
	assert.Equal(t, "first", doc.Root().Name)
}

func TestRecorder_ExternalWriteThroughPool(t *testing.T) {
	external := NewMemoryStore(10)
	saves := pool.NewGoroutinePool(pool.GoroutinePoolConfig{MaxWorkers: 2, QueueSize: 10})
	defer saves.Close()

	recorder := NewRecorder(NewMemoryStore(1), zaptest.NewLogger(t),
		WithExternalStore(external), WithSavePool(saves))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := NewTracer(tp, recorder)

	noop := func(context.Context, *Span) (any, error) { return map[string]any{}, nil }
	for range 3 {
		_, err := tracer.WithSpan(context.Background(), "x", nil, noop)
		require.NoError(t, err)
	}

	require.NoError(t, recorder.ForceFlush(context.Background()))
	assert.Equal(t, 3, external.Len())
	assert.Equal(t, int64(3), saves.Stats().Completed)
}

func TestRecorder_ClosedSavePoolDropsWrites(t *testing.T) {
	external := NewMemoryStore(10)
	saves := pool.NewGoroutinePool(pool.DefaultGoroutinePoolConfig())
	saves.Close()

	recorder := NewRecorder(NewMemoryStore(1), zaptest.NewLogger(t),
		WithExternalStore(external), WithSavePool(saves))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := NewTracer(tp, recorder)

	span, err := tracer.WithSpan(context.Background(), "x", nil,
		func(context.Context, *Span) (any, error) { return map[string]any{}, nil })
	require.NoError(t, err)

	require.NoError(t, recorder.ForceFlush(context.Background()))
	assert.Equal(t, 0, external.Len())
	_, err = tracer.Materialize(context.Background(), span.TraceID())
	assert.NoError(t, err, "memory keeps the trace")
}

// failingStore 模拟不可用的外部存储
type failingStore struct{}

func (*failingStore) Save(context.Context, *TraceDocument) error { return errors.New("disk full") }
func (*failingStore) Load(context.Context, string) (*TraceDocument, error) {
	return nil, errors.New("connection refused")
}
func (*failingStore) Close() error { return nil }

func TestRecorder_ExternalFailures(t *testing.T) {
	recorder := NewRecorder(NewMemoryStore(1), zaptest.NewLogger(t), WithExternalStore(&failingStore{}))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := NewTracer(tp, recorder)

	span, err := tracer.WithSpan(context.Background(), "x", nil,
		func(context.Context, *Span) (any, error) { return map[string]any{}, nil })
	require.NoError(t, err)
	require.NoError(t, recorder.ForceFlush(context.Background()))

	// memory still serves the trace
	_, err = tracer.Materialize(context.Background(), span.TraceID())
	require.NoError(t, err)

	_, err = tracer.Materialize(context.Background(), "ffffffffffffffffffffffffffffffff")
	assert.True(t, types.IsErrorCode(err, types.ErrInternalError))
}

func TestTraceDocument_JSONShape(t *testing.T) {
	f := newFixture(t)
	span, err := f.tracer.WithSpan(context.Background(), "echo", map[string]any{"q": 1},
		func(context.Context, *Span) (any, error) { return map[string]any{"a": 2}, nil })
	require.NoError(t, err)

	doc, err := f.tracer.Materialize(context.Background(), span.TraceID())
	require.NoError(t, err)

	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	info := generic["info"].(map[string]any)
	assert.Equal(t, span.TraceID(), info["trace_id"])
	assert.Equal(t, StateOK, info["state"])
	assert.Equal(t, `{"q":1}`, info["request_preview"])

	spans := generic["data"].(map[string]any)["spans"].([]any)
	root := spans[0].(map[string]any)
	assert.Equal(t, map[string]any{"q": 1.0}, root["inputs"])
	assert.Equal(t, map[string]any{"a": 2.0}, root["outputs"])
}
