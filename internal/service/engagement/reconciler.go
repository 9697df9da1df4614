package engagement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/leadtrack/internal/metrics"
	"github.com/ignite/leadtrack/internal/pkg/distlock"
	"github.com/ignite/leadtrack/internal/pkg/logger"
	"github.com/ignite/leadtrack/internal/service/tracking"
)

// ErrLockHeld is returned by RunOnce when another process holds the
// reconciliation lock.
var ErrLockHeld = errors.New("reconcile lock held elsewhere")

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Leads    int           `json:"leads"`
	Drifted  int           `json:"drifted"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Reconciler periodically replays every lead so the caches converge on the
// log even if a recompute trigger was lost.
type Reconciler struct {
	agg      *Aggregator
	tokens   tracking.TokenRepository
	lock     distlock.DistLock
	interval time.Duration
	pageSize int
}

// NewReconciler creates a reconciler. lock keeps concurrent workers from
// running the same pass.
func NewReconciler(agg *Aggregator, tokens tracking.TokenRepository, lock distlock.DistLock, interval time.Duration, pageSize int) *Reconciler {
	if pageSize <= 0 {
		pageSize = 500
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Reconciler{
		agg:      agg,
		tokens:   tokens,
		lock:     lock,
		interval: interval,
		pageSize: pageSize,
	}
}

// RunOnce performs one full pass. It returns ErrLockHeld without doing any
// work if the lock is taken.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	acquired, err := r.lock.Acquire(ctx)
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues("failed").Inc()
		return report, fmt.Errorf("acquire reconcile lock: %w", err)
	}
	if !acquired {
		metrics.ReconcileRuns.WithLabelValues("skipped").Inc()
		return report, ErrLockHeld
	}
	defer func() {
		if err := r.lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release reconcile lock", "error", err)
		}
	}()

	start := time.Now()
	after := ""
	for {
		leadIDs, err := r.tokens.LeadIDs(ctx, after, r.pageSize)
		if err != nil {
			metrics.ReconcileRuns.WithLabelValues("failed").Inc()
			return report, fmt.Errorf("page lead ids after %q: %w", after, err)
		}
		for _, leadID := range leadIDs {
			if err := ctx.Err(); err != nil {
				metrics.ReconcileRuns.WithLabelValues("failed").Inc()
				return report, err
			}
			report.Leads++
			_, drift, err := r.agg.recompute(ctx, leadID)
			if err != nil {
				report.Failed++
				logger.Error("reconcile lead failed", "lead_id", leadID, "error", err)
				continue
			}
			if drift != nil {
				report.Drifted++
			}
		}
		if len(leadIDs) < r.pageSize {
			break
		}
		after = leadIDs[len(leadIDs)-1]
	}

	report.Duration = time.Since(start)
	metrics.ReconcileRuns.WithLabelValues("ok").Inc()
	metrics.ReconcileLeads.WithLabelValues("total").Set(float64(report.Leads))
	metrics.ReconcileLeads.WithLabelValues("drifted").Set(float64(report.Drifted))
	metrics.ReconcileLeads.WithLabelValues("failed").Set(float64(report.Failed))
	return report, nil
}

// Serve runs a pass at startup and then every interval until ctx is
// cancelled.
func (r *Reconciler) Serve(ctx context.Context) error {
	logger.Info("reconciler started", "interval", r.interval.String())
	r.runLogged(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.runLogged(ctx)
		}
	}
}

func (r *Reconciler) runLogged(ctx context.Context) {
	report, err := r.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrLockHeld):
		logger.Info("reconcile skipped, lock held elsewhere")
	case err != nil:
		logger.Error("reconcile run failed", "error", err)
	default:
		logger.Info("reconcile complete",
			"leads", report.Leads,
			"drifted", report.Drifted,
			"failed", report.Failed,
			"duration", report.Duration.String(),
		)
	}
}
