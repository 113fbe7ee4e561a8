package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T, opts ...Option) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	opts = append([]Option{WithRegisterer(reg)}, opts...)
	return NewCollector(DefaultNamespace, zap.NewNop(), opts...), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordHTTPRequest("POST", "/invocations", 200, 100*time.Millisecond, 1024, 2048)
	c.RecordHTTPRequest("POST", "/invocations", 201, 50*time.Millisecond, 512, 1024)
	c.RecordHTTPRequest("POST", "/invocations", 400, time.Millisecond, 10, 80)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/invocations", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/invocations", "4xx")))
}

func TestCollector_RecordInvocation(t *testing.T) {
	c, reg := newTestCollector(t)

	c.RecordInvocation("agent/v1/chat", "invoke", "success", 200*time.Millisecond)
	c.RecordInvocation("agent/v1/chat", "stream", "error", time.Second)
	c.RecordStreamChunk("agent/v1/chat")
	c.RecordStreamChunk("agent/v1/chat")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.invocationsTotal.WithLabelValues("agent/v1/chat", "invoke", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.invocationsTotal.WithLabelValues("agent/v1/chat", "stream", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.streamChunksTotal.WithLabelValues("agent/v1/chat")))

	n, err := testutil.GatherAndCount(reg,
		"agent_server_invocations_total",
		"agent_server_invocation_duration_seconds",
		"agent_server_stream_chunks_total",
	)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestCollector_RecordDBConnections(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordDBConnections("postgres", 10, 4)
	c.RecordDBConnections("postgres", 8, 6)

	assert.Equal(t, 8.0, testutil.ToFloat64(c.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 6.0, testutil.ToFloat64(c.dbConnectionsIdle.WithLabelValues("postgres")))
}

func TestCollector_OTelMirror(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	c, _ := newTestCollector(t, WithMeter(mp.Meter("test")))
	c.RecordInvocation("untyped", "invoke", "success", 10*time.Millisecond)
	c.RecordInvocation("untyped", "invoke", "success", 20*time.Millisecond)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	found := map[string]bool{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		found[m.Name] = true
		if m.Name == "agent_server.invocations" {
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			require.Len(t, sum.DataPoints, 1)
			assert.Equal(t, int64(2), sum.DataPoints[0].Value)
		}
	}
	assert.True(t, found["agent_server.invocations"])
	assert.True(t, found["agent_server.invocation.duration"])
}

func TestCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(DefaultNamespace, zap.NewNop(), WithRegisterer(reg))
	assert.Panics(t, func() {
		NewCollector(DefaultNamespace, zap.NewNop(), WithRegisterer(reg))
	})
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordInvocation("untyped", "stream", "success", time.Millisecond)
				c.RecordStreamChunk("untyped")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000.0, testutil.ToFloat64(c.streamChunksTotal.WithLabelValues("untyped")))
}

func TestStatusCode(t *testing.T) {
	tests := map[int]string{200: "2xx", 301: "3xx", 404: "4xx", 503: "5xx", 100: "unknown"}
	for code, want := range tests {
		assert.Equal(t, want, statusCode(code))
	}
}
