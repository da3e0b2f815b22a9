package impl

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mindspring-backend/metrics"
	"github.com/mindspring-backend/services"
)

// taskDispatcher runs background work detached from the request that spawned
// it. Each task gets a fresh context with its own timeout, so request
// cancellation never kills in-flight processing.
type taskDispatcher struct {
	wg             sync.WaitGroup
	defaultTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func NewTaskDispatcher(defaultTimeout time.Duration) services.TaskDispatcher {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}
	return &taskDispatcher{defaultTimeout: defaultTimeout}
}

func (d *taskDispatcher) Dispatch(name string, timeout time.Duration, fn func(ctx context.Context)) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		log.Warn().Str("task", name).Msg("dispatcher shut down, task dropped")
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	if timeout <= 0 {
		timeout = d.defaultTimeout
	}

	go d.run(name, timeout, fn)
}

func (d *taskDispatcher) run(name string, timeout time.Duration, fn func(ctx context.Context)) {
	defer d.wg.Done()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	defer func() {
		elapsed := time.Since(start)
		metrics.BackgroundTaskDuration.WithLabelValues(name).Observe(elapsed.Seconds())

		if r := recover(); r != nil {
			metrics.BackgroundTasks.WithLabelValues(name, "panicked").Inc()
			log.Error().
				Str("task", name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("background task panicked")
			return
		}
		metrics.BackgroundTasks.WithLabelValues(name, "completed").Inc()
		log.Info().Str("task", name).Dur("duration", elapsed).Msg("background task done")
	}()

	log.Debug().Str("task", name).Dur("timeout", timeout).Msg("background task started")
	fn(ctx)
}

// Shutdown waits up to grace for in-flight tasks. Tasks still running after
// the grace period keep their goroutines; process exit reaps them.
func (d *taskDispatcher) Shutdown(grace time.Duration) {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("background tasks drained")
	case <-time.After(grace):
		log.Warn().Dur("grace", grace).Msg("shutdown grace elapsed with tasks still running")
	}
}
