package engagement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ignite/leadtrack/internal/domain"
	"github.com/ignite/leadtrack/internal/metrics"
	"github.com/ignite/leadtrack/internal/pkg/logger"
	"github.com/ignite/leadtrack/internal/service/tracking"
)

// Aggregator rebuilds a lead's cached engagement from the event log. It is
// safe for concurrent use; concurrent recomputes of one lead share a single
// replay, and a recompute requested while that replay runs gets a fresh
// pass once it has saved.
type Aggregator struct {
	tokens tracking.TokenRepository
	events tracking.EventStore
	repo   Repository
	policy ScorePolicy
	group  singleflight.Group
	now    func() time.Time

	mu    sync.Mutex
	dirty map[string]bool
}

// NewAggregator creates an aggregator with the given scoring policy.
func NewAggregator(tokens tracking.TokenRepository, events tracking.EventStore, repo Repository, policy ScorePolicy) *Aggregator {
	return &Aggregator{
		tokens: tokens,
		events: events,
		repo:   repo,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		dirty:  make(map[string]bool),
	}
}

// Policy returns the scoring policy in use.
func (a *Aggregator) Policy() ScorePolicy {
	return a.policy
}

// Replay computes a lead's state from the log without writing anything.
// Returns ErrNotFound if the lead has no tokens.
func (a *Aggregator) Replay(ctx context.Context, leadID string) (*domain.LeadState, error) {
	state, _, err := a.replay(ctx, leadID)
	return state, err
}

func (a *Aggregator) replay(ctx context.Context, leadID string) (*domain.LeadState, []domain.TrackingEvent, error) {
	tokens, err := a.tokens.ListByLead(ctx, leadID)
	if err != nil {
		return nil, nil, fmt.Errorf("list tokens for lead %s: %w", leadID, err)
	}
	if len(tokens) == 0 {
		return nil, nil, ErrNotFound
	}

	var events []domain.TrackingEvent
	for ev, err := range a.events.ListByLead(ctx, leadID, nil) {
		if err != nil {
			return nil, nil, fmt.Errorf("list events for lead %s: %w", leadID, err)
		}
		events = append(events, ev)
	}
	return Compute(leadID, tokens, events, a.policy, a.now()), events, nil
}

type recomputeResult struct {
	state *domain.LeadState
	drift *DriftError
}

// Recompute replays a lead, reports drift against the cache, and overwrites
// the cache with the replayed state. Drift is logged and counted but is not
// returned as an error.
func (a *Aggregator) Recompute(ctx context.Context, leadID string) (*domain.LeadState, error) {
	state, _, err := a.recompute(ctx, leadID)
	return state, err
}

// recompute marks the lead dirty and runs shared passes until a pass has
// started after the mark. A pass clears the flag before it reads the log, so
// an event appended before the mark is always in the state that gets saved.
func (a *Aggregator) recompute(ctx context.Context, leadID string) (*domain.LeadState, *DriftError, error) {
	a.markDirty(leadID)

	var drift *DriftError
	for {
		v, err, _ := a.group.Do(leadID, func() (interface{}, error) {
			a.clearDirty(leadID)
			return a.recomputeOnce(ctx, leadID)
		})
		if err != nil {
			return nil, nil, err
		}
		res := v.(*recomputeResult)
		if drift == nil {
			drift = res.drift
		}
		if !a.isDirty(leadID) {
			return res.state, drift, nil
		}
	}
}

func (a *Aggregator) markDirty(leadID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dirty[leadID] = true
}

func (a *Aggregator) clearDirty(leadID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.dirty, leadID)
}

func (a *Aggregator) isDirty(leadID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dirty[leadID]
}

func (a *Aggregator) recomputeOnce(ctx context.Context, leadID string) (*recomputeResult, error) {
	start := time.Now()
	defer func() { metrics.RecomputeDuration.Observe(time.Since(start).Seconds()) }()

	state, events, err := a.replay(ctx, leadID)
	if err != nil {
		return nil, err
	}

	drift, err := a.checkDrift(ctx, leadID, events)
	if err != nil {
		return nil, err
	}

	if err := a.repo.SaveLeadState(ctx, state); err != nil {
		return nil, fmt.Errorf("save lead state %s: %w", leadID, err)
	}
	return &recomputeResult{state: state, drift: drift}, nil
}

// checkDrift compares the cache with a replay of the events the cache could
// have seen, i.e. those that occurred by its computed_at.
func (a *Aggregator) checkDrift(ctx context.Context, leadID string, events []domain.TrackingEvent) (*DriftError, error) {
	cached, err := a.repo.GetLeadState(ctx, leadID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cached state %s: %w", leadID, err)
	}

	tokens, err := a.tokens.ListByLead(ctx, leadID)
	if err != nil {
		return nil, fmt.Errorf("list tokens for lead %s: %w", leadID, err)
	}
	expected := Compute(leadID, tokens, eventsAsOf(events, cached.ComputedAt), a.policy, cached.ComputedAt)
	fields := Diff(cached, expected)
	if len(fields) == 0 {
		return nil, nil
	}

	drift := &DriftError{LeadID: leadID, Fields: fields}
	for _, f := range fields {
		metrics.AggregationDrift.WithLabelValues(f).Inc()
	}
	logger.Warn("cached engagement drifted from event log", "lead_id", leadID, "fields", fields, "error", drift)
	return drift, nil
}

// RebuildCampaign recomputes every lead holding a token in the campaign and
// returns how many were rebuilt. Failures for individual leads are joined.
func (a *Aggregator) RebuildCampaign(ctx context.Context, campaignID string) (int, error) {
	leadIDs, err := a.tokens.LeadIDsByCampaign(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("list leads for campaign %s: %w", campaignID, err)
	}

	var errs []error
	rebuilt := 0
	for _, leadID := range leadIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := a.Recompute(ctx, leadID); err != nil {
			errs = append(errs, fmt.Errorf("lead %s: %w", leadID, err))
			continue
		}
		rebuilt++
	}
	return rebuilt, errors.Join(errs...)
}
