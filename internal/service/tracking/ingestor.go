package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/leadtrack/internal/domain"
	"github.com/ignite/leadtrack/internal/metrics"
	"github.com/ignite/leadtrack/internal/pkg/logger"
)

// IngestorConfig holds the beacon timing budget.
type IngestorConfig struct {
	// ResponseDeadline is the longest a Record call waits for its append.
	ResponseDeadline time.Duration

	// AppendTimeout bounds the background token lookup and append.
	AppendTimeout time.Duration
}

// Ingestor records raw pixel and click hits. Every hit is recorded; dedupe is
// applied later by the aggregator. Record calls never return an error: a
// beacon response must not depend on the store.
type Ingestor struct {
	p         *pipeline
	redirects *RedirectPolicy
	retrier   *Retrier
	deadline  time.Duration
	now       func() time.Time
	inflight  sync.WaitGroup
}

// NewIngestor creates an ingestor. retrier and trigger may be nil, in which
// case failed appends are dropped and no recompute is requested.
func NewIngestor(tokens TokenRepository, store EventStore, redirects *RedirectPolicy, trigger RecomputeTrigger, retrier *Retrier, cfg IngestorConfig) *Ingestor {
	if cfg.ResponseDeadline <= 0 {
		cfg.ResponseDeadline = 150 * time.Millisecond
	}
	if cfg.AppendTimeout <= 0 {
		cfg.AppendTimeout = 2 * time.Second
	}
	return &Ingestor{
		p: &pipeline{
			tokens:        tokens,
			store:         store,
			trigger:       trigger,
			appendTimeout: cfg.AppendTimeout,
		},
		redirects: redirects,
		retrier:   retrier,
		deadline:  cfg.ResponseDeadline,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// RecordOpen records a pixel hit for tokenID.
func (i *Ingestor) RecordOpen(ctx context.Context, tokenID string, meta domain.ClientMeta) {
	i.record(ctx, tokenID, domain.EventOpened, meta)
}

// RecordClick records a click for tokenID and returns the URL to redirect
// to: dest when it passes the allow-list, otherwise the fallback page.
func (i *Ingestor) RecordClick(ctx context.Context, tokenID, dest string, meta domain.ClientMeta) string {
	target, err := i.redirects.Resolve(dest)
	if err != nil {
		metrics.InvalidRedirects.Inc()
		logger.Warn("click destination rejected", "token_id", tokenID, "dest", dest, "error", err)
	}
	meta.Destination = dest
	i.record(ctx, tokenID, domain.EventClicked, meta)
	return target
}

// Wait blocks until every in-flight append goroutine has finished.
func (i *Ingestor) Wait() {
	i.inflight.Wait()
}

func (i *Ingestor) record(ctx context.Context, tokenID string, kind domain.EventKind, meta domain.ClientMeta) {
	id, err := uuid.Parse(tokenID)
	if err != nil {
		metrics.BeaconRequests.WithLabelValues(string(kind), "unknown_token").Inc()
		logUnknownToken(tokenID, kind, meta)
		return
	}

	ev := domain.TrackingEvent{
		ID:         uuid.NewString(),
		TokenID:    id.String(),
		Kind:       kind,
		OccurredAt: i.now(),
		Meta:       meta,
	}

	done := make(chan struct{})
	i.inflight.Add(1)
	go func() {
		defer i.inflight.Done()
		defer close(done)
		i.persist(context.WithoutCancel(ctx), ev)
	}()

	timer := time.NewTimer(i.deadline)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		metrics.DeadlineExceeded.Inc()
	case <-ctx.Done():
	}
}

func (i *Ingestor) persist(ctx context.Context, ev domain.TrackingEvent) {
	err := i.p.deliver(ctx, ev)
	if err == nil {
		metrics.BeaconRequests.WithLabelValues(string(ev.Kind), "recorded").Inc()
		return
	}

	metrics.AppendFailures.WithLabelValues(failureReason(err)).Inc()
	if errors.Is(err, ErrUnknownToken) {
		metrics.BeaconRequests.WithLabelValues(string(ev.Kind), "unknown_token").Inc()
		logUnknownToken(ev.TokenID, ev.Kind, ev.Meta)
		return
	}

	if i.retrier != nil && i.retrier.Enqueue(ev) {
		metrics.BeaconRequests.WithLabelValues(string(ev.Kind), "retrying").Inc()
		logger.Warn("event append failed, queued for retry", "token_id", ev.TokenID, "event_id", ev.ID, "error", err)
		return
	}
	metrics.BeaconRequests.WithLabelValues(string(ev.Kind), "dropped").Inc()
	logger.Error("event append failed, event dropped", "token_id", ev.TokenID, "event_id", ev.ID, "kind", string(ev.Kind), "error", err)
}
