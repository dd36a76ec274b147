// internal/pkg/tracker/tracker.go
package tracker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Tracker runs fire-and-forget writes off the request path: session
// activity touches, audit appends, anything where the caller must not
// wait and must never see the error. Failures are logged and dropped.
type Tracker struct {
	queue   chan job
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type job struct {
	name string
	fn   func(ctx context.Context) error
}

// New starts a tracker with the given queue capacity and worker count.
func New(logger *zap.Logger, queueSize, workers int) *Tracker {
	if queueSize < 1 {
		queueSize = 256
	}
	if workers < 1 {
		workers = 2
	}

	t := &Tracker{
		queue:   make(chan job, queueSize),
		logger:  logger,
		timeout: 10 * time.Second,
	}

	t.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go t.worker()
	}

	return t
}

// Dispatch enqueues a background write. It never blocks: when the queue
// is full the job is dropped and counted as a miss. Returns whether the
// job was accepted.
func (t *Tracker) Dispatch(name string, fn func(ctx context.Context) error) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.mu.Unlock()

	select {
	case t.queue <- job{name: name, fn: fn}:
		return true
	default:
		t.logger.Warn("tracker queue full, dropping job", zap.String("job", name))
		return false
	}
}

// Close stops accepting jobs and waits for in-flight ones, up to the
// context deadline.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) worker() {
	defer t.wg.Done()

	for j := range t.queue {
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		if err := j.fn(ctx); err != nil {
			t.logger.Warn("background write failed",
				zap.String("job", j.name),
				zap.Error(err),
			)
		}
		cancel()
	}
}
