package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ignite/leadtrack/internal/domain"
	"github.com/ignite/leadtrack/internal/metrics"
	"github.com/ignite/leadtrack/internal/pkg/logger"
)

// RetryConfig controls background re-append of events.
type RetryConfig struct {
	QueueSize       int
	Workers         int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
	AppendTimeout   time.Duration
}

// Retrier re-appends events whose first attempt hit an unavailable store.
// The queue is bounded: when it is full new events are dropped and counted.
// Event ids are fixed at ingestion, so a retry of an append that actually
// landed is a no-op. Events still queued when Serve returns, or enqueued
// after that, are counted as shutdown drops.
type Retrier struct {
	p     *pipeline
	queue chan domain.TrackingEvent
	cfg   RetryConfig

	mu      sync.Mutex
	stopped bool
}

// NewRetrier creates a retrier. Call Serve to start its workers.
func NewRetrier(tokens TokenRepository, store EventStore, trigger RecomputeTrigger, cfg RetryConfig) *Retrier {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 10 * time.Second
	}
	return &Retrier{
		p: &pipeline{
			tokens:        tokens,
			store:         store,
			trigger:       trigger,
			appendTimeout: cfg.AppendTimeout,
		},
		queue: make(chan domain.TrackingEvent, cfg.QueueSize),
		cfg:   cfg,
	}
}

// Enqueue hands an event to the retry workers without blocking. It returns
// false, and counts a drop, when the queue is full.
func (r *Retrier) Enqueue(ev domain.TrackingEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		metrics.RetryDropped.WithLabelValues("shutdown").Inc()
		logger.Error("retrier stopped, dropping event", "token_id", ev.TokenID, "event_id", ev.ID, "kind", string(ev.Kind))
		return false
	}
	select {
	case r.queue <- ev:
		metrics.RetryQueueDepth.Inc()
		return true
	default:
		metrics.RetryDropped.WithLabelValues("queue_full").Inc()
		logger.Error("retry queue full, dropping event", "token_id", ev.TokenID, "event_id", ev.ID, "kind", string(ev.Kind))
		return false
	}
}

// Len returns the number of queued events.
func (r *Retrier) Len() int {
	return len(r.queue)
}

// Serve runs the retry workers until ctx is cancelled.
func (r *Retrier) Serve(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = false
	r.mu.Unlock()
	logger.Info("retrier started", "workers", r.cfg.Workers, "queue_size", cap(r.queue))

	var wg sync.WaitGroup
	for n := 0; n < r.cfg.Workers; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.work(ctx)
		}()
	}
	wg.Wait()

	if dropped := r.stop(); dropped > 0 {
		logger.Warn("retrier stopped with pending events", "dropped", dropped)
	}
	return ctx.Err()
}

// stop refuses further events and drops whatever is still queued.
func (r *Retrier) stop() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true

	dropped := 0
	for {
		select {
		case ev := <-r.queue:
			metrics.RetryQueueDepth.Dec()
			metrics.RetryDropped.WithLabelValues("shutdown").Inc()
			logger.Error("retrier stopped, dropping event", "token_id", ev.TokenID, "event_id", ev.ID, "kind", string(ev.Kind))
			dropped++
		default:
			return dropped
		}
	}
}

func (r *Retrier) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.queue:
			metrics.RetryQueueDepth.Dec()
			r.retry(ctx, ev)
		}
	}
}

func (r *Retrier) retry(ctx context.Context, ev domain.TrackingEvent) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = r.cfg.MaxElapsed

	attempts := 0
	op := func() error {
		attempts++
		err := r.p.deliver(ctx, ev)
		if errors.Is(err, ErrUnknownToken) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	switch {
	case err == nil:
		metrics.RetrySucceeded.Inc()
		metrics.BeaconRequests.WithLabelValues(string(ev.Kind), "recorded").Inc()
		logger.Info("event persisted after retry", "token_id", ev.TokenID, "event_id", ev.ID, "attempts", attempts)
	case errors.Is(err, ErrUnknownToken):
		logUnknownToken(ev.TokenID, ev.Kind, ev.Meta)
	case ctx.Err() != nil:
		metrics.RetryDropped.WithLabelValues("shutdown").Inc()
		logger.Error("retrier stopped mid retry, dropping", "token_id", ev.TokenID, "event_id", ev.ID, "attempts", attempts, "error", err)
	default:
		metrics.RetryDropped.WithLabelValues("exhausted").Inc()
		logger.Error("event retry exhausted, dropping", "token_id", ev.TokenID, "event_id", ev.ID, "attempts", attempts, "error", err)
	}
}
