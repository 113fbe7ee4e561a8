package registry

import (
	"context"
	"iter"
)

func syncInvoke(name string, fn InvokeFunc) func(context.Context, *Invocation) (any, error) {
	return func(ctx context.Context, inv *Invocation) (result any, err error) {
		defer func() {
			if p := recover(); p != nil {
				result, err = nil, panicError(name, p)
			}
		}()
		result, err = fn(ctx, inv)
		return result, CallbackError(err)
	}
}

func asyncInvoke(name string, fn AsyncInvokeFunc) func(context.Context, *Invocation) (any, error) {
	return func(ctx context.Context, inv *Invocation) (any, error) {
		ch, err := start(name, func() <-chan Result { return fn(ctx, inv) })
		if err != nil {
			return nil, err
		}
		if ch == nil {
			return nil, CallbackError(ErrNoResult)
		}
		select {
		case res, ok := <-ch:
			if !ok {
				return nil, CallbackError(ErrNoResult)
			}
			return res.Value, CallbackError(res.Err)
		case <-ctx.Done():
			return nil, CallbackError(ctx.Err())
		}
	}
}

// syncStream pulls fn's sequence on the consumer goroutine. Panics raised
// inside the producer become one trailing error; panics raised by the
// consumer's loop body propagate unchanged.
func syncStream(name string, fn StreamFunc) func(context.Context, *Invocation) iter.Seq2[any, error] {
	return func(ctx context.Context, inv *Invocation) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			inYield := false
			defer func() {
				if p := recover(); p != nil {
					if inYield {
						panic(p)
					}
					yield(nil, panicError(name, p))
				}
			}()

			seq := fn(ctx, inv)
			if seq == nil {
				return
			}
			for chunk, err := range seq {
				if err != nil {
					inYield = true
					yield(nil, CallbackError(err))
					return
				}
				inYield = true
				if !yield(chunk, nil) {
					return
				}
				inYield = false
			}
		}
	}
}

// asyncStream adapts a channel producer to a pull sequence. The producer's
// context is cancelled as soon as the consumer stops, on break, error or
// client disconnect.
func asyncStream(name string, fn AsyncStreamFunc) func(context.Context, *Invocation) iter.Seq2[any, error] {
	return func(parent context.Context, inv *Invocation) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			ctx, cancel := context.WithCancel(parent)
			defer cancel()

			ch, err := start(name, func() <-chan StreamEvent { return fn(ctx, inv) })
			if err != nil {
				yield(nil, err)
				return
			}
			if ch == nil {
				return
			}

			for {
				select {
				case ev, ok := <-ch:
					if !ok {
						return
					}
					if ev.Err != nil {
						yield(nil, CallbackError(ev.Err))
						return
					}
					if !yield(ev.Chunk, nil) {
						return
					}
				case <-ctx.Done():
					yield(nil, CallbackError(ctx.Err()))
					return
				}
			}
		}
	}
}

// start runs the synchronous part of an async callback, recovering panics.
func start[T any](name string, open func() T) (out T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError(name, p)
		}
	}()
	return open(), nil
}
