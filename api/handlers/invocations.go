package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/hiydavid/dbx-agent-on-app/internal/ctxkeys"
	"github.com/hiydavid/dbx-agent-on-app/registry"
	"github.com/hiydavid/dbx-agent-on-app/tracing"
	"github.com/hiydavid/dbx-agent-on-app/types"
	"github.com/hiydavid/dbx-agent-on-app/validator"
)

// Reserved request keys consumed by the dispatcher.
const (
	KeyStream            = "stream"
	KeyDatabricksOptions = "databricks_options"
	KeyReturnTrace       = "return_trace"
	KeyDatabricksOutput  = "databricks_output"
	KeyTrace             = "trace"
)

// Invocation modes, used in logs and metrics.
const (
	ModeInvoke = "invoke"
	ModeStream = "stream"
)

// InvocationObserver receives invocation measurements.
type InvocationObserver interface {
	RecordInvocation(agentType, mode, status string, duration time.Duration)
	RecordStreamChunk(agentType string)
}

type nopObserver struct{}

func (nopObserver) RecordInvocation(string, string, string, time.Duration) {}
func (nopObserver) RecordStreamChunk(string)                               {}

// =============================================================================
// 🚀 调用分发器
// =============================================================================

// InvocationHandler serves POST /invocations: parse, strip reserved keys,
// validate, dispatch to the bound invoke or stream callback under one span.
type InvocationHandler struct {
	validator *validator.Validator
	registry  *registry.Registry
	tracer    *tracing.Tracer
	observer  InvocationObserver
	sem       *semaphore.Weighted
	maxBody   int64
	logger    *zap.Logger

	agentType string
	spanAttrs []attribute.KeyValue
}

// InvocationOption configures an InvocationHandler.
type InvocationOption func(*InvocationHandler)

// WithConcurrencyLimit caps in-flight invocations; n <= 0 means unlimited.
// Waiting requests queue until a slot frees or the client gives up.
func WithConcurrencyLimit(n int64) InvocationOption {
	return func(h *InvocationHandler) {
		if n > 0 {
			h.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithObserver reports invocation metrics to o.
func WithObserver(o InvocationObserver) InvocationOption {
	return func(h *InvocationHandler) {
		if o != nil {
			h.observer = o
		}
	}
}

// WithMaxBodyBytes bounds the request body size.
func WithMaxBodyBytes(n int64) InvocationOption {
	return func(h *InvocationHandler) { h.maxBody = n }
}

// NewInvocationHandler creates the dispatcher for v's AgentType.
func NewInvocationHandler(
	v *validator.Validator,
	reg *registry.Registry,
	tracer *tracing.Tracer,
	logger *zap.Logger,
	opts ...InvocationOption,
) *InvocationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := v.Definition()
	h := &InvocationHandler{
		validator: v,
		registry:  reg,
		tracer:    tracer,
		observer:  nopObserver{},
		maxBody:   DefaultMaxBodyBytes,
		logger:    logger.With(zap.String("component", "invocations")),
		agentType: def.Type.String(),
	}
	h.spanAttrs = append(h.spanAttrs, attribute.String("agent.type", h.agentType))
	for _, k := range sortedKeys(def.SpanAttributes) {
		h.spanAttrs = append(h.spanAttrs, attribute.String(k, def.SpanAttributes[k]))
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// request is one parsed invocation.
type request struct {
	payload     map[string]any
	stream      bool
	returnTrace bool
	size        int
	requestID   string
	start       time.Time
}

// HandleInvocations 处理 POST /invocations
func (h *InvocationHandler) HandleInvocations(w http.ResponseWriter, r *http.Request) {
	req := &request{start: time.Now()}
	req.requestID, _ = ctxkeys.RequestID(r.Context())

	payload, size, apiErr := DecodeJSONObject(w, r, h.maxBody)
	req.size = size
	if apiErr != nil {
		h.fail(w, r, req, ModeInvoke, apiErr)
		return
	}

	if apiErr := req.parseControl(payload); apiErr != nil {
		h.fail(w, r, req, ModeInvoke, apiErr)
		return
	}
	mode := ModeInvoke
	if req.stream {
		mode = ModeStream
	}

	h.logger.Info("Request received",
		zap.String("agent_type", h.agentType),
		zap.Int("request_size", req.size),
		zap.Bool("stream_requested", req.stream),
		zap.String("request_id", req.requestID),
	)

	typed, err := h.validator.ValidateAndConvertRequest(req.payload)
	if err != nil {
		h.fail(w, r, req, mode, ToError(err))
		return
	}

	if h.sem != nil {
		if err := h.sem.Acquire(r.Context(), 1); err != nil {
			h.fail(w, r, req, mode, types.NewError(types.ErrServiceUnavailable, "server is at capacity").
				WithCause(err).WithRetryable(true))
			return
		}
		defer h.sem.Release(1)
	}

	inv := &registry.Invocation{Payload: typed, Headers: r.Header.Clone()}
	if req.stream {
		h.handleStream(w, r, req, inv)
		return
	}
	h.handleInvoke(w, r, req, inv)
}

// parseControl strips the reserved keys from payload.
func (req *request) parseControl(payload map[string]any) *types.Error {
	if raw, ok := payload[KeyStream]; ok && raw != nil {
		b, ok := raw.(bool)
		if !ok {
			return types.Errorf(types.ErrInvalidRequest, "%q must be a boolean, got %T", KeyStream, raw)
		}
		req.stream = b
	}
	if raw, ok := payload[KeyDatabricksOptions]; ok && raw != nil {
		opts, ok := raw.(map[string]any)
		if !ok {
			return types.Errorf(types.ErrInvalidRequest, "%q must be an object", KeyDatabricksOptions)
		}
		if rt, ok := opts[KeyReturnTrace]; ok && rt != nil {
			b, ok := rt.(bool)
			if !ok {
				return types.Errorf(types.ErrInvalidRequest, "%s.%s must be a boolean", KeyDatabricksOptions, KeyReturnTrace)
			}
			req.returnTrace = b
		}
	}

	stripped := maps.Clone(payload)
	delete(stripped, KeyStream)
	delete(stripped, KeyDatabricksOptions)
	req.payload = stripped
	return nil
}

// =============================================================================
// 🎯 单次调用
// =============================================================================

func (h *InvocationHandler) handleInvoke(w http.ResponseWriter, r *http.Request, req *request, inv *registry.Invocation) {
	binding, ok := h.registry.Invoke()
	if !ok {
		h.fail(w, r, req, ModeInvoke, types.NewError(types.ErrServerMisconfigured, "No invoke function registered"))
		return
	}

	span, err := h.tracer.WithSpan(r.Context(), binding.Name, req.payload,
		func(ctx context.Context, _ *tracing.Span) (any, error) {
			result, err := binding.Call(ctx, inv)
			if err != nil {
				return nil, err
			}
			return h.validator.ValidateAndConvertResult(result, false)
		},
		h.spanAttrs...,
	)
	if err != nil {
		h.fail(w, r, req, ModeInvoke, callbackFailure(err))
		return
	}

	out, _ := span.Outputs().(map[string]any)
	if req.returnTrace {
		out = maps.Clone(out)
		if doc, ok := h.materialize(r.Context(), span.TraceID()); ok {
			out[KeyDatabricksOutput] = map[string]any{KeyTrace: doc}
		}
	}

	body, err := json.Marshal(out)
	if err != nil {
		h.fail(w, r, req, ModeInvoke, types.NewError(types.ErrUnsupportedResult, "failed to encode result").WithCause(err))
		return
	}
	writeRawJSON(w, http.StatusOK, body)

	duration := time.Since(req.start)
	h.observer.RecordInvocation(h.agentType, ModeInvoke, "success", duration)
	h.logger.Info("Response sent",
		zap.String("endpoint", "invoke"),
		zap.Float64("duration_ms", durationMs(duration)),
		zap.Int("response_size", len(body)),
		zap.String("function_name", binding.Name),
		zap.Bool("return_trace", req.returnTrace),
		zap.String("trace_id", span.TraceID()),
		zap.String("request_id", req.requestID),
	)
}

// =============================================================================
// 🌊 流式调用
// =============================================================================

func (h *InvocationHandler) handleStream(w http.ResponseWriter, r *http.Request, req *request, inv *registry.Invocation) {
	binding, ok := h.registry.Stream()
	if !ok {
		h.fail(w, r, req, ModeStream, types.NewError(types.ErrServerMisconfigured, "No stream function registered"))
		return
	}

	SetSSEHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	sse := NewSSEWriter(w)
	reduce := h.validator.Definition().Reduce

	var chunks []map[string]any
	span, err := h.tracer.WithSpan(r.Context(), binding.Name, req.payload,
		func(ctx context.Context, span *tracing.Span) (any, error) {
			for chunk, err := range binding.Open(ctx, inv) {
				if err != nil {
					return nil, err
				}
				// stop pulling once the client is gone
				if err := ctx.Err(); err != nil {
					return nil, fmt.Errorf("client disconnected: %w", err)
				}
				converted, err := h.validator.ValidateAndConvertResult(chunk, true)
				if err != nil {
					return nil, err
				}
				if err := sse.Data(converted); err != nil {
					return nil, fmt.Errorf("client disconnected: %w", err)
				}
				chunks = append(chunks, converted)
				h.observer.RecordStreamChunk(h.agentType)
			}
			aggregate := reduce(chunks)
			span.SetOutputs(aggregate)
			return aggregate, nil
		},
		h.spanAttrs...,
	)

	duration := time.Since(req.start)
	if err != nil {
		_ = sse.Error(callbackFailure(err).Detail())
		_ = sse.Done()
		h.observer.RecordInvocation(h.agentType, ModeStream, "error", duration)
		h.logger.Error("Streaming response error",
			zap.String("function_name", binding.Name),
			zap.Int("chunks_sent", len(chunks)),
			zap.Float64("duration_ms", durationMs(duration)),
			zap.String("trace_id", span.TraceID()),
			zap.String("request_id", req.requestID),
			zap.Error(err),
		)
		return
	}

	if req.returnTrace {
		if doc, ok := h.materialize(r.Context(), span.TraceID()); ok {
			_ = sse.Data(map[string]any{KeyDatabricksOutput: map[string]any{KeyTrace: doc}})
		}
	}
	_ = sse.Done()

	h.observer.RecordInvocation(h.agentType, ModeStream, "success", duration)
	h.logger.Info("Streaming response completed",
		zap.String("endpoint", "stream"),
		zap.String("function_name", binding.Name),
		zap.Int("total_chunks", len(chunks)),
		zap.Float64("duration_ms", durationMs(duration)),
		zap.Bool("return_trace", req.returnTrace),
		zap.String("trace_id", span.TraceID()),
		zap.String("request_id", req.requestID),
	)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (h *InvocationHandler) materialize(ctx context.Context, traceID string) (*tracing.TraceDocument, bool) {
	doc, err := h.tracer.Materialize(ctx, traceID)
	if err != nil {
		h.logger.Warn("trace requested but not available", zap.String("trace_id", traceID), zap.Error(err))
		return nil, false
	}
	return doc, true
}

func (h *InvocationHandler) fail(w http.ResponseWriter, r *http.Request, req *request, mode string, err *types.Error) {
	err.WithAgentType(h.agentType)
	duration := time.Since(req.start)
	status := "error"
	if err.Status() < http.StatusInternalServerError {
		status = "invalid"
	}
	h.observer.RecordInvocation(h.agentType, mode, status, duration)

	h.logger.Warn("Error response sent",
		zap.String("endpoint", mode),
		zap.Float64("duration_ms", durationMs(duration)),
		zap.Int("request_size", req.size),
		zap.Bool("return_trace", req.returnTrace),
		zap.String("request_id", req.requestID),
		zap.Int("status", err.Status()),
		zap.String("error", err.Detail()),
	)
	WriteError(w, r, err, h.logger)
}

// callbackFailure classifies errors raised while executing a callback. Any
// failure there is a server-side error, whatever code it carries.
func callbackFailure(err error) *types.Error {
	te, ok := types.AsError(err)
	if !ok {
		return types.NewError(types.ErrCallbackFailed, err.Error()).WithCause(err)
	}
	if te.Status() < http.StatusInternalServerError {
		return types.NewError(te.Code, te.Message).
			WithCause(te.Cause).
			WithHTTPStatus(http.StatusInternalServerError)
	}
	return te
}

func durationMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
