package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoroutinePool_SubmitWait(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 2, QueueSize: 4})
	defer p.Close()

	require.NoError(t, p.SubmitWait(context.Background(), func(context.Context) error { return nil }))
	err := p.SubmitWait(context.Background(), func(context.Context) error { return errors.New("boom") })
	assert.EqualError(t, err, "boom")

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Submitted)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestGoroutinePool_SubmitRunsAll(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 4, QueueSize: 100})

	var ran atomic.Int32
	for range 50 {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	p.Close()

	assert.Equal(t, int32(50), ran.Load())
	assert.LessOrEqual(t, p.Stats().Workers, 4)
}

func TestGoroutinePool_Full(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 1})
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error { return nil }))

	err := p.Submit(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolFull)
	assert.Equal(t, int64(1), p.Stats().Rejected)

	close(release)
	p.Close()
}

func TestGoroutinePool_Panic(t *testing.T) {
	var recovered atomic.Value
	p := NewGoroutinePool(GoroutinePoolConfig{
		MaxWorkers:   1,
		QueueSize:    1,
		PanicHandler: func(r any) { recovered.Store(r) },
	})
	defer p.Close()

	err := p.SubmitWait(context.Background(), func(context.Context) error { panic("kaboom") })
	assert.ErrorContains(t, err, "task panicked: kaboom")
	assert.Equal(t, "kaboom", recovered.Load())
}

func TestGoroutinePool_Closed(t *testing.T) {
	p := NewGoroutinePool(DefaultGoroutinePoolConfig())
	p.Close()
	p.Close()

	assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) error { return nil }), ErrPoolClosed)
	assert.ErrorIs(t, p.SubmitWait(context.Background(), func(context.Context) error { return nil }), ErrPoolClosed)
}

func TestGoroutinePool_SubmitWaitContext(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 1})
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.SubmitWait(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewGoroutinePool_Defaults(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{})
	defer p.Close()
	assert.Equal(t, DefaultGoroutinePoolConfig().MaxWorkers, p.maxWorkers)
	assert.Equal(t, DefaultGoroutinePoolConfig().IdleTimeout, p.idleTimeout)
}
