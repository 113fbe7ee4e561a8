package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/hiydavid/dbx-agent-on-app/api/handlers"
	"github.com/hiydavid/dbx-agent-on-app/internal/ctxkeys"
	"github.com/hiydavid/dbx-agent-on-app/internal/metrics"
)

func okInner() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func decodeError(t *testing.T, body string) handlers.ErrorResponse {
	t.Helper()
	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	require.NotNil(t, resp.Error)
	return resp
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okInner())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"), "plain HTTP gets no HSTS")
}

func TestSecurityHeaders_ChainedWithOtherMiddleware(t *testing.T) {
	handler := Chain(okInner(), SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ctxkeys.RequestID(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		id := w.Header().Get("X-Request-ID")
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
		assert.Equal(t, id, seen)
	})

	t.Run("client supplied", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-ID", "req-abc")
		handler.ServeHTTP(w, r)
		assert.Equal(t, "req-abc", w.Header().Get("X-Request-ID"))
		assert.Equal(t, "req-abc", seen)
	})

	t.Run("oversized replaced", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-ID", strings.Repeat("x", maxRequestIDLen+1))
		handler.ServeHTTP(w, r)
		assert.Len(t, w.Header().Get("X-Request-ID"), 36)
	})
}

func TestRecovery(t *testing.T) {
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), RequestID(), Recovery(zaptest.NewLogger(t)))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/invocations", nil)
	r.Header.Set("X-Request-ID", "req-1")
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeError(t, w.Body.String())
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
	assert.Equal(t, "req-1", resp.RequestID)
}

func TestRecovery_AbortHandlerPropagates(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimiter(ctx, 1, 1, zap.NewNop())(okInner())

	send := func(remote string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/invocations", nil)
		r.RemoteAddr = remote
		handler.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1234").Code)

	w := send("10.0.0.1:5678")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	resp := decodeError(t, w.Body.String())
	assert.Equal(t, "RATE_LIMITED", resp.Error.Code)
	assert.True(t, resp.Error.Retryable)

	// 其他 IP 不受影响
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1234").Code)
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"no origin header", nil, http.MethodGet, "", http.StatusOK, ""},
		{"unconfigured preflight rejected", nil, http.MethodOptions, "http://evil.test", http.StatusForbidden, ""},
		{"unconfigured simple request passes without headers", nil, http.MethodGet, "http://evil.test", http.StatusOK, ""},
		{"allowed origin", []string{"http://localhost:3001"}, http.MethodPost, "http://localhost:3001", http.StatusOK, "http://localhost:3001"},
		{"allowed preflight", []string{"http://localhost:3001"}, http.MethodOptions, "http://localhost:3001", http.StatusNoContent, "http://localhost:3001"},
		{"disallowed origin", []string{"http://localhost:3001"}, http.MethodGet, "http://other.test", http.StatusOK, ""},
		{"wildcard", []string{"*"}, http.MethodGet, "http://any.test", http.StatusOK, "http://any.test"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := CORS(tt.allowed)(okInner())
			w := httptest.NewRecorder()
			r := httptest.NewRequest(tt.method, "/invocations", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			handler.ServeHTTP(w, r)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantAllow, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("test", zap.NewNop(), metrics.WithRegisterer(reg))

	handler := MetricsMiddleware(collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("hello"))
	}))

	for _, path := range []string{"/invocations", "/invocations", "/missing"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, path, nil))
	}

	expected := `
# HELP test_http_requests_total Total number of HTTP requests
# TYPE test_http_requests_total counter
test_http_requests_total{method="POST",path="/invocations",status="2xx"} 2
test_http_requests_total{method="POST",path="/missing",status="4xx"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_http_requests_total"))
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/invocations": "/invocations",
		"/health":      "/health",
		"/traces/0af7651916cd43dd8448eb211c80319c": "/traces/:id",
		"/items/42": "/items/:id",
		"/runs/6ba7b810-9dad-11d1-80b4-00c04fd430c8": "/runs/:id",
		"/static/app.js": "/static/app.js",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizePath(in), in)
	}
}

func TestOTelTracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	handler := OTelTracing()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/invocations", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", nil))

	spans := sr.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "POST /invocations", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.Int("http.response.status_code", http.StatusAccepted))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, "GET /fail", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

// 所有包装 writer 都必须保留 Flush 能力，否则 SSE 无法逐帧推送
func TestChain_PreservesFlush(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("flush", zap.NewNop(), metrics.WithRegisterer(reg))

	var flushErr error
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data: 1\n\n"))
		flushErr = http.NewResponseController(w).Flush()
	})
	handler := Chain(inner,
		Recovery(zap.NewNop()),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(zap.NewNop()),
		CORS(nil),
		MetricsMiddleware(collector),
		OTelTracing(),
	)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/invocations", nil))

	require.NoError(t, flushErr)
	assert.True(t, w.Flushed)
}

func TestResponseWriters_FlushError(t *testing.T) {
	rec := httptest.NewRecorder()
	logged := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	measured := &metricsResponseWriter{ResponseWriter: logged, statusCode: http.StatusOK}

	require.NoError(t, measured.FlushError())
	assert.True(t, rec.Flushed)
	assert.True(t, logged.wroteHeader)
	assert.True(t, measured.wroteHeader)
}
