package recompute

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/leadtrack/internal/metrics"
	"github.com/ignite/leadtrack/internal/pkg/logger"
)

// Queue hands recompute requests to background workers. A lead already
// waiting in the queue is not queued again, so a burst of hits on one lead
// costs a single replay. When the queue is full requests are dropped and
// counted; the reconciler repairs anything missed.
type Queue struct {
	agg     Recomputer
	ch      chan string
	workers int
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewQueue creates a queue holding up to size distinct leads.
func NewQueue(agg Recomputer, size, workers int, timeout time.Duration) *Queue {
	if size <= 0 {
		size = 4096
	}
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		agg:     agg,
		ch:      make(chan string, size),
		workers: workers,
		timeout: timeout,
		pending: make(map[string]struct{}),
	}
}

// Trigger enqueues leadID without blocking.
func (q *Queue) Trigger(_ context.Context, leadID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[leadID]; ok {
		return
	}
	select {
	case q.ch <- leadID:
		q.pending[leadID] = struct{}{}
	default:
		metrics.RecomputeQueueDropped.Inc()
		logger.Warn("recompute queue full, dropping request", "lead_id", leadID)
	}
}

// Len returns the number of leads waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Serve runs the workers until ctx is cancelled.
func (q *Queue) Serve(ctx context.Context) error {
	logger.Info("recompute queue started", "workers", q.workers, "size", cap(q.ch))

	var wg sync.WaitGroup
	for n := 0; n < q.workers; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *Queue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case leadID := <-q.ch:
			// Cleared before the replay so hits landing mid-replay queue
			// another pass.
			q.mu.Lock()
			delete(q.pending, leadID)
			q.mu.Unlock()

			q.recompute(ctx, leadID)
		}
	}
}

func (q *Queue) recompute(ctx context.Context, leadID string) {
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	run(ctx, q.agg, leadID, "queue")
}
