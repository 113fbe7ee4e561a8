package main

import (
	"bufio"
	"context"
	"encoding/json"
	"iter"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/hiydavid/dbx-agent-on-app/api/handlers"
	"github.com/hiydavid/dbx-agent-on-app/config"
	"github.com/hiydavid/dbx-agent-on-app/registry"
	"github.com/hiydavid/dbx-agent-on-app/tracing"
)

func TestParseServeFlags(t *testing.T) {
	f, err := parseServeFlags([]string{"--port", "9000", "--workers", "4", "--agent-type", "agent/v1/chat"})
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	f.apply(cfg)
	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 4, cfg.Server.Workers)
	assert.Equal(t, "agent/v1/chat", cfg.Agent.Type)
	assert.True(t, cfg.Agent.Echo)
}

func TestParseServeFlags_ZeroKeepsConfig(t *testing.T) {
	f, err := parseServeFlags(nil)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	f.apply(cfg)
	assert.Equal(t, 8000, cfg.Server.HTTPPort)
	assert.False(t, cfg.Agent.Echo)
}

func TestParseServeFlags_Invalid(t *testing.T) {
	_, err := parseServeFlags([]string{"--port", "70000"})
	assert.ErrorContains(t, err, "invalid --port")

	_, err = parseServeFlags([]string{"--workers", "-1"})
	assert.ErrorContains(t, err, "invalid --workers")

	_, err = parseServeFlags([]string{"--agent-type", "agent/v9/unknown"})
	assert.ErrorContains(t, err, "unknown agent type")
}

func TestParseMigrateArgs(t *testing.T) {
	f, pos, err := parseMigrateArgs([]string{"1", "--config", "c.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "c.yaml", f.configPath)
	assert.Equal(t, []string{"1"}, pos)

	f, pos, err = parseMigrateArgs([]string{"--db-type", "sqlite", "--db-url", "file:x.db", "--", "-2"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", f.dbType)
	assert.Equal(t, []string{"-2"}, pos)

	_, _, err = parseMigrateArgs([]string{"--db-type", "sqlite"})
	assert.ErrorContains(t, err, "must be used together")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("loud"))
}

func TestInitLogger_AtomicLevel(t *testing.T) {
	logger, level := initLogger(config.LogConfig{Level: "warn", Format: "json", OutputPaths: []string{"stderr"}})
	require.NotNil(t, logger)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	level.SetLevel(zapcore.DebugLevel)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestCheckHealth(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	assert.NoError(t, checkHealth(ok.Client(), ok.URL+"/"))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	assert.ErrorContains(t, checkHealth(down.Client(), down.URL), "status 503")
}

// =============================================================================
// 端到端
// =============================================================================

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	return newTestServerWithAgent(t, mutate, nil)
}

// newTestServerWithAgent 在启动前执行 register，用于绑定自定义回调
func newTestServerWithAgent(t *testing.T, mutate func(*config.Config), register func(*registry.Registry)) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.HTTPPort = 0
	cfg.Server.MetricsPort = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Agent.Echo = true
	if mutate != nil {
		mutate(cfg)
	}

	s := NewServer(cfg, config.NewLoader(), zaptest.NewLogger(t), zap.NewAtomicLevel())
	reg := prometheus.NewRegistry()
	s.promRegisterer = reg
	s.promGatherer = reg
	if register != nil {
		register(s.Registry())
	}
	require.NoError(t, s.Start())
	t.Cleanup(s.Shutdown)
	return s
}

func (s *Server) testURL(path string) string {
	_, port, _ := net.SplitHostPort(s.httpManager.ListenAddr())
	return "http://" + net.JoinHostPort("127.0.0.1", port) + path
}

func TestServer_EndToEndMemoryStore(t *testing.T) {
	s := newTestServer(t, nil)

	resp, err := http.Get(s.testURL("/health"))
	require.NoError(t, err)
	var health handlers.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, handlers.HealthResponse{Status: "healthy", Server: "agent-server", Version: "0.0.1"}, health)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(s.testURL("/ready"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(s.testURL("/invocations"), "application/json",
		strings.NewReader(`{"content":"hi","databricks_options":{"return_trace":true}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "hi", body["content"])
	assert.Contains(t, body, handlers.KeyDatabricksOutput)

	resp, err = http.Get(s.testURL("/invocations"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_StreamFramesReachClientBeforeProducerFinishes(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	s := newTestServerWithAgent(t, func(c *config.Config) { c.Agent.Echo = false }, func(reg *registry.Registry) {
		reg.MustRegisterStream("slow", func(ctx context.Context, _ *registry.Invocation) iter.Seq2[any, error] {
			return func(yield func(any, error) bool) {
				if !yield(map[string]any{"content": "h"}, nil) {
					return
				}
				select {
				case <-release:
				case <-ctx.Done():
				}
			}
		})
	})

	type result struct {
		resp *http.Response
		line string
		err  error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := http.Post(s.testURL("/invocations"), "application/json",
			strings.NewReader(`{"content":"hi","stream":true}`))
		if err != nil {
			got <- result{err: err}
			return
		}
		line, err := bufio.NewReader(resp.Body).ReadString('\n')
		got <- result{resp: resp, line: line, err: err}
	}()

	select {
	case r := <-got:
		require.NoError(t, r.err)
		defer r.resp.Body.Close()
		assert.Equal(t, "text/event-stream", r.resp.Header.Get("Content-Type"))
		assert.Equal(t, `data: {"content":"h"}`+"\n", r.line)
	case <-time.After(2 * time.Second):
		t.Fatal("first frame not delivered while the producer is still running")
	}
}

func TestServer_NoAgentNotReady(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Agent.Echo = false })

	resp, err := http.Get(s.testURL("/ready"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_DatabaseStorePersistsTraces(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.Trace.Store = config.TraceStoreDatabase
		c.Database = config.DatabaseConfig{
			Driver:      "sqlite",
			Name:        filepath.Join(t.TempDir(), "traces.db"),
			AutoMigrate: true,
		}
	})
	require.NotNil(t, s.poolManager)

	resp, err := http.Post(s.testURL("/invocations"), "application/json",
		strings.NewReader(`{"content":"persist me","databricks_options":{"return_trace":true}}`))
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()

	output := body[handlers.KeyDatabricksOutput].(map[string]any)
	info := output[handlers.KeyTrace].(map[string]any)["info"].(map[string]any)
	traceID := info["trace_id"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.recorder.ForceFlush(ctx))

	doc, err := s.sqlStore.Load(ctx, traceID)
	require.NoError(t, err)
	assert.Equal(t, tracing.StateOK, doc.Info.State)

	// 极短的保留期让已写入的追踪全部过期
	s.cfg.Trace.Retention = time.Nanosecond
	time.Sleep(time.Millisecond)
	s.pruneTraces(ctx)
	_, err = s.sqlStore.Load(ctx, traceID)
	assert.Error(t, err)

	resp, err = http.Get(s.testURL("/ready"))
	require.NoError(t, err)
	var ready handlers.ReadyStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ready))
	resp.Body.Close()
	assert.Equal(t, "pass", ready.Checks["database"].Status)
}

func TestServer_UnknownTraceStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Trace.Store = "s3"
	s := NewServer(cfg, config.NewLoader(), zap.NewNop(), zap.NewAtomicLevel())
	assert.ErrorContains(t, s.Start(), `unknown trace store "s3"`)
	s.Shutdown()
}
