// Package recompute decides when a lead's engagement cache is rebuilt after
// a new event lands. Three triggers are provided: Inline recomputes on the
// caller's goroutine, Queue coalesces requests onto local workers, and
// Publisher/Consumer move the request through SQS so a separate worker
// process does the replay.
package recompute

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/leadtrack/internal/domain"
	"github.com/ignite/leadtrack/internal/metrics"
	"github.com/ignite/leadtrack/internal/pkg/logger"
	"github.com/ignite/leadtrack/internal/service/engagement"
	"github.com/ignite/leadtrack/internal/service/tracking"
)

// Recomputer rebuilds one lead's cached engagement. *engagement.Aggregator
// implements it.
type Recomputer interface {
	Recompute(ctx context.Context, leadID string) (*domain.LeadState, error)
}

var (
	_ tracking.RecomputeTrigger = (*Inline)(nil)
	_ tracking.RecomputeTrigger = (*Queue)(nil)
	_ tracking.RecomputeTrigger = (*Publisher)(nil)
	_ Recomputer                = (*engagement.Aggregator)(nil)
)

// run recomputes a lead and records the outcome under the trigger label.
func run(ctx context.Context, agg Recomputer, leadID, trigger string) error {
	_, err := agg.Recompute(ctx, leadID)
	switch {
	case err == nil:
		metrics.Recomputes.WithLabelValues(trigger, "ok").Inc()
	case errors.Is(err, engagement.ErrNotFound):
		metrics.Recomputes.WithLabelValues(trigger, "not_found").Inc()
		logger.Warn("recompute requested for lead without tokens", "lead_id", leadID, "trigger", trigger)
	default:
		metrics.Recomputes.WithLabelValues(trigger, "error").Inc()
		logger.Error("recompute failed", "lead_id", leadID, "trigger", trigger, "error", err)
	}
	return err
}

// Inline recomputes synchronously. It suits single-process deployments and
// tests; the beacon response is never held because ingestion already runs
// the trigger off the request goroutine.
type Inline struct {
	agg     Recomputer
	timeout time.Duration
}

// NewInline creates an inline trigger. A zero timeout means no limit.
func NewInline(agg Recomputer, timeout time.Duration) *Inline {
	return &Inline{agg: agg, timeout: timeout}
}

func (i *Inline) Trigger(ctx context.Context, leadID string) {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}
	run(ctx, i.agg, leadID, "inline")
}
