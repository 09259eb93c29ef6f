package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/callvault/internal/observability"
)

// Runner executes side effects (email dispatch, alert delivery) off the
// request path with bounded concurrency. Tasks keep the values of the
// scheduling context (trace span, logger) but not its cancellation, so a
// webhook response returning does not abort a relay call in flight.
//
// A nil *Runner runs every task inline on the caller's goroutine.
type Runner struct {
	slots   chan struct{}
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewRunner returns a Runner executing at most limit tasks at once, each
// bounded by timeout.
func NewRunner(limit int, timeout time.Duration) *Runner {
	if limit <= 0 {
		limit = 16
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Runner{slots: make(chan struct{}, limit), timeout: timeout}
}

// Go schedules fn under the span name. It waits for a free slot until ctx
// is done and reports whether fn was scheduled; a rejected task is counted
// in background_tasks_dropped_total.
func (r *Runner) Go(ctx context.Context, name string, fn func(ctx context.Context)) bool {
	if r == nil {
		run(ctx, name, fn)
		return true
	}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		observability.BackgroundDropped.Inc()
		return false
	}
	r.wg.Add(1)
	r.mu.RUnlock()

	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		r.wg.Done()
		observability.BackgroundDropped.Inc()
		zerolog.Ctx(ctx).Warn().Str("task", name).Msg("background runner saturated; task dropped")
		return false
	}

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	go func() {
		defer r.wg.Done()
		defer func() { <-r.slots }()
		defer cancel()
		run(bg, name, fn)
	}()
	return true
}

func run(ctx context.Context, name string, fn func(ctx context.Context)) {
	ctx, span := observability.Tracer().Start(ctx, name)
	defer span.End()
	defer func() {
		if rec := recover(); rec != nil {
			zerolog.Ctx(ctx).Error().Interface("panic", rec).Str("task", name).Msg("background task panicked")
		}
	}()
	fn(ctx)
}

// Close stops accepting tasks and waits for running ones until ctx is done.
func (r *Runner) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

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
