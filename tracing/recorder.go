package tracing

import (
	"context"
	"sync"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hiydavid/dbx-agent-on-app/internal/pool"
	"github.com/hiydavid/dbx-agent-on-app/types"
)

const defaultSaveTimeout = 5 * time.Second

// Recorder is a span processor that assembles the spans of every
// invocation trace into a TraceDocument when the invocation span ends.
//
// Finished documents always go to the in-memory LRU, which is written
// synchronously so that Materialize works right after the span ends. The
// optional external store is written in the background.
type Recorder struct {
	mu      sync.Mutex
	pending map[trace.TraceID]*pendingTrace

	memory   *MemoryStore
	external Store
	logger   *zap.Logger

	saveTimeout time.Duration
	savePool    *pool.GoroutinePool
	wg          sync.WaitGroup
}

type pendingTrace struct {
	root  trace.SpanID
	spans []SpanData
}

var _ sdktrace.SpanProcessor = (*Recorder)(nil)

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithExternalStore writes finished traces through to s.
func WithExternalStore(s Store) RecorderOption {
	return func(r *Recorder) { r.external = s }
}

// WithSaveTimeout bounds each external store write.
func WithSaveTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.saveTimeout = d
		}
	}
}

// WithSavePool runs external store writes on p instead of one goroutine per
// trace. Writes rejected by a full pool are dropped and logged.
func WithSavePool(p *pool.GoroutinePool) RecorderOption {
	return func(r *Recorder) { r.savePool = p }
}

// NewRecorder creates a Recorder backed by memory.
func NewRecorder(memory *MemoryStore, logger *zap.Logger, opts ...RecorderOption) *Recorder {
	if memory == nil {
		memory = NewMemoryStore(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		pending:     make(map[trace.TraceID]*pendingTrace),
		memory:      memory,
		logger:      logger.With(zap.String("component", "trace_recorder")),
		saveTimeout: defaultSaveTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnStart opens a pending trace for invocation spans.
func (r *Recorder) OnStart(_ context.Context, s sdktrace.ReadWriteSpan) {
	if !isInvocation(s) {
		return
	}
	sc := s.SpanContext()
	r.mu.Lock()
	r.pending[sc.TraceID()] = &pendingTrace{root: sc.SpanID()}
	r.mu.Unlock()
}

// OnEnd collects spans of pending traces and finalizes a trace when its
// invocation span ends.
func (r *Recorder) OnEnd(s sdktrace.ReadOnlySpan) {
	sc := s.SpanContext()

	r.mu.Lock()
	p, ok := r.pending[sc.TraceID()]
	if !ok {
		r.mu.Unlock()
		return
	}
	data := spanDataFrom(s)
	if sc.SpanID() != p.root {
		p.spans = append(p.spans, data)
		r.mu.Unlock()
		return
	}
	delete(r.pending, sc.TraceID())
	r.mu.Unlock()

	doc := buildDocument(data, s.Status().Code, p.spans)
	_ = r.memory.Save(context.Background(), doc)

	if r.external == nil {
		return
	}
	r.wg.Add(1)
	if r.savePool == nil {
		go func() { _ = r.saveExternal(context.Background(), doc) }()
		return
	}
	if err := r.savePool.Submit(context.Background(), func(ctx context.Context) error {
		return r.saveExternal(ctx, doc)
	}); err != nil {
		r.wg.Done()
		r.logger.Warn("dropped trace persistence",
			zap.String("trace_id", doc.Info.TraceID),
			zap.Error(err),
		)
	}
}

func (r *Recorder) saveExternal(ctx context.Context, doc *TraceDocument) error {
	defer r.wg.Done()
	ctx, cancel := context.WithTimeout(ctx, r.saveTimeout)
	defer cancel()
	err := r.external.Save(ctx, doc)
	if err != nil {
		r.logger.Warn("failed to persist trace",
			zap.String("trace_id", doc.Info.TraceID),
			zap.Error(err),
		)
	}
	return err
}

// Materialize returns the finished trace, looking in memory first and then
// in the external store. Unknown, unfinished and evicted traces fail with
// TRACE_NOT_FOUND.
func (r *Recorder) Materialize(ctx context.Context, traceID string) (*TraceDocument, error) {
	doc, err := r.memory.Load(ctx, traceID)
	if err == nil {
		return doc, nil
	}
	if r.external == nil {
		return nil, err
	}
	doc, err = r.external.Load(ctx, traceID)
	if err != nil {
		if types.IsErrorCode(err, types.ErrTraceNotFound) {
			return nil, err
		}
		return nil, types.Errorf(types.ErrInternalError, "load trace %q", traceID).WithCause(err)
	}
	return doc, nil
}

// Pending returns the number of invocation traces not yet finished.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// ForceFlush waits for background store writes.
func (r *Recorder) ForceFlush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown drops unfinished traces and waits for background writes.
func (r *Recorder) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	clear(r.pending)
	r.mu.Unlock()
	return r.ForceFlush(ctx)
}

func isInvocation(s sdktrace.ReadOnlySpan) bool {
	for _, kv := range s.Attributes() {
		if kv.Key == AttrInvocation {
			return kv.Value.AsBool()
		}
	}
	return false
}
