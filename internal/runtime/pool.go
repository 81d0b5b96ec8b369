package runtime

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	errspkg "github.com/drblury/relay/internal/runtime/errors"
)

// workerPool runs mailbox drains. Each activation gets its own goroutine; when
// a limit is configured a weighted semaphore caps how many of them run at once.
//
// Two contexts are handed to every task. stop is cancelled when shutdown
// begins, so idle waits end early. kill is cancelled when the grace period
// expires and is the context handlers observe.
type workerPool struct {
	sem     *semaphore.Weighted
	metrics *BrokerMetrics

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	stopCtx context.Context
	stop    context.CancelFunc
	killCtx context.Context
	kill    context.CancelFunc
}

type poolTask func(stop, kill context.Context)

func newWorkerPool(maxWorkers int, metrics *BrokerMetrics) *workerPool {
	p := &workerPool{metrics: metrics}
	if maxWorkers > 0 {
		p.sem = semaphore.NewWeighted(int64(maxWorkers))
	}
	p.stopCtx, p.stop = context.WithCancel(context.Background())
	p.killCtx, p.kill = context.WithCancel(context.Background())
	return p
}

// submit starts task unless the pool is shutting down.
func (p *workerPool) submit(task poolTask) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if p.sem != nil {
			if err := p.sem.Acquire(p.killCtx, 1); err != nil {
				return
			}
			defer p.sem.Release(1)
		}
		p.metrics.workerStarted()
		defer p.metrics.workerStopped()
		task(p.stopCtx, p.killCtx)
	}()
	return true
}

// shutdown refuses new tasks, waits grace for running ones, then cancels the
// kill context and waits force more. ctx cuts either wait short.
func (p *workerPool) shutdown(ctx context.Context, grace, force time.Duration) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.stop()
	defer p.kill()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if waitFor(ctx, done, grace) {
		return nil
	}
	p.kill()
	if waitFor(ctx, done, force) {
		return nil
	}
	return errspkg.ErrShutdownTimeout
}

func waitFor(ctx context.Context, done <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}

	select {
	case <-done:
		return true
	default:
		return false
	}
}
