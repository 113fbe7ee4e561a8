package registry

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hiydavid/dbx-agent-on-app/types"
)

// Mode records how a callback was registered. It is decided once at
// registration and never re-inspected per request.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// ForwardedAccessTokenHeader carries the end user's token when the server
// runs behind an authenticating proxy.
const ForwardedAccessTokenHeader = "X-Forwarded-Access-Token"

// Invocation is what a callback receives: the validated payload plus the
// inbound request headers.
type Invocation struct {
	// Payload is a typed request pointer for typed agents, or the plain
	// map for untyped agents. Reserved control keys are already removed.
	Payload any
	Headers http.Header
}

// ForwardedAccessToken returns the proxied user token, or "".
func (inv *Invocation) ForwardedAccessToken() string {
	if inv == nil || inv.Headers == nil {
		return ""
	}
	return inv.Headers.Get(ForwardedAccessTokenHeader)
}

// Result is the single value delivered by an AsyncInvokeFunc.
type Result struct {
	Value any
	Err   error
}

// StreamEvent is one element delivered by an AsyncStreamFunc. A non-nil Err
// ends the stream.
type StreamEvent struct {
	Chunk any
	Err   error
}

type (
	// InvokeFunc runs to completion on the request goroutine.
	InvokeFunc func(ctx context.Context, inv *Invocation) (any, error)

	// AsyncInvokeFunc starts work and delivers one Result on the channel.
	AsyncInvokeFunc func(ctx context.Context, inv *Invocation) <-chan Result

	// StreamFunc returns a lazy sequence pulled by the encoder.
	StreamFunc func(ctx context.Context, inv *Invocation) iter.Seq2[any, error]

	// AsyncStreamFunc produces chunks on its own goroutine. The producer must
	// stop sending and close the channel once ctx is done.
	AsyncStreamFunc func(ctx context.Context, inv *Invocation) <-chan StreamEvent
)

// InvokeBinding is the bound single-shot callback with its capability
// normalized to a blocking call.
type InvokeBinding struct {
	Name string
	Mode Mode
	Call func(ctx context.Context, inv *Invocation) (any, error)
}

// StreamBinding is the bound stream callback with its capability normalized
// to a pull sequence.
type StreamBinding struct {
	Name string
	Mode Mode
	Open func(ctx context.Context, inv *Invocation) iter.Seq2[any, error]
}

// Registry holds the two write-once callback slots of one server instance.
type Registry struct {
	mu     sync.RWMutex
	invoke *InvokeBinding
	stream *StreamBinding
	logger *zap.Logger
}

// New creates an empty Registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger.With(zap.String("component", "registry"))}
}

// RegisterInvoke binds a blocking invoke callback. It returns fn unchanged
// and fails if an invoke callback is already bound.
func (r *Registry) RegisterInvoke(name string, fn InvokeFunc) (InvokeFunc, error) {
	if fn == nil {
		return nil, types.NewError(types.ErrServerMisconfigured, "invoke callback is nil")
	}
	name = callbackName(name, fn)
	b := &InvokeBinding{Name: name, Mode: ModeSync, Call: syncInvoke(name, fn)}
	if err := r.bindInvoke(b); err != nil {
		return nil, err
	}
	return fn, nil
}

// RegisterAsyncInvoke binds a channel-based invoke callback.
func (r *Registry) RegisterAsyncInvoke(name string, fn AsyncInvokeFunc) (AsyncInvokeFunc, error) {
	if fn == nil {
		return nil, types.NewError(types.ErrServerMisconfigured, "invoke callback is nil")
	}
	name = callbackName(name, fn)
	b := &InvokeBinding{Name: name, Mode: ModeAsync, Call: asyncInvoke(name, fn)}
	if err := r.bindInvoke(b); err != nil {
		return nil, err
	}
	return fn, nil
}

// RegisterStream binds a sequence-returning stream callback.
func (r *Registry) RegisterStream(name string, fn StreamFunc) (StreamFunc, error) {
	if fn == nil {
		return nil, types.NewError(types.ErrServerMisconfigured, "stream callback is nil")
	}
	name = callbackName(name, fn)
	b := &StreamBinding{Name: name, Mode: ModeSync, Open: syncStream(name, fn)}
	if err := r.bindStream(b); err != nil {
		return nil, err
	}
	return fn, nil
}

// RegisterAsyncStream binds a channel-based stream callback.
func (r *Registry) RegisterAsyncStream(name string, fn AsyncStreamFunc) (AsyncStreamFunc, error) {
	if fn == nil {
		return nil, types.NewError(types.ErrServerMisconfigured, "stream callback is nil")
	}
	name = callbackName(name, fn)
	b := &StreamBinding{Name: name, Mode: ModeAsync, Open: asyncStream(name, fn)}
	if err := r.bindStream(b); err != nil {
		return nil, err
	}
	return fn, nil
}

// MustRegisterInvoke is RegisterInvoke for startup wiring; it panics on error.
func (r *Registry) MustRegisterInvoke(name string, fn InvokeFunc) InvokeFunc {
	return must(r.RegisterInvoke(name, fn))
}

// MustRegisterAsyncInvoke panics on error.
func (r *Registry) MustRegisterAsyncInvoke(name string, fn AsyncInvokeFunc) AsyncInvokeFunc {
	return must(r.RegisterAsyncInvoke(name, fn))
}

// MustRegisterStream panics on error.
func (r *Registry) MustRegisterStream(name string, fn StreamFunc) StreamFunc {
	return must(r.RegisterStream(name, fn))
}

// MustRegisterAsyncStream panics on error.
func (r *Registry) MustRegisterAsyncStream(name string, fn AsyncStreamFunc) AsyncStreamFunc {
	return must(r.RegisterAsyncStream(name, fn))
}

// Invoke returns the bound invoke callback; ok is false when unbound.
func (r *Registry) Invoke() (InvokeBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.invoke == nil {
		return InvokeBinding{}, false
	}
	return *r.invoke, true
}

// Stream returns the bound stream callback; ok is false when unbound.
func (r *Registry) Stream() (StreamBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stream == nil {
		return StreamBinding{}, false
	}
	return *r.stream, true
}

// Check reports an error when neither slot is bound. Used by readiness.
func (r *Registry) Check(context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.invoke == nil && r.stream == nil {
		return types.NewError(types.ErrServerMisconfigured, "no invoke or stream callback registered")
	}
	return nil
}

func (r *Registry) bindInvoke(b *InvokeBinding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.invoke != nil {
		return types.Errorf(types.ErrAlreadyRegistered,
			"invoke callback already registered (%s); cannot register %s", r.invoke.Name, b.Name)
	}
	r.invoke = b
	r.logger.Info("invoke callback registered", zap.String("function_name", b.Name), zap.String("mode", string(b.Mode)))
	return nil
}

func (r *Registry) bindStream(b *StreamBinding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream != nil {
		return types.Errorf(types.ErrAlreadyRegistered,
			"stream callback already registered (%s); cannot register %s", r.stream.Name, b.Name)
	}
	r.stream = b
	r.logger.Info("stream callback registered", zap.String("function_name", b.Name), zap.String("mode", string(b.Mode)))
	return nil
}

func must[F any](fn F, err error) F {
	if err != nil {
		panic(err)
	}
	return fn
}

// callbackName falls back to the function symbol, trimmed to pkg.Func.
func callbackName(name string, fn any) string {
	if name != "" {
		return name
	}
	f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer())
	if f == nil {
		return "anonymous"
	}
	full := f.Name()
	if i := strings.LastIndex(full, "/"); i >= 0 {
		full = full[i+1:]
	}
	return full
}

// CallbackError wraps a callback failure. Structured errors raised by the
// callback keep their code.
func CallbackError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := types.AsError(err); ok {
		return err
	}
	return types.NewError(types.ErrCallbackFailed, err.Error()).WithCause(err)
}

func panicError(name string, p any) error {
	return types.Errorf(types.ErrCallbackFailed, "callback %s panicked: %v", name, p)
}

// ErrNoResult is returned when an async invoke closes its channel without
// delivering a value.
var ErrNoResult = errors.New("async callback finished without a result")
