package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/leadtrack/internal/domain"
	"github.com/ignite/leadtrack/internal/metrics"
	"github.com/ignite/leadtrack/internal/pkg/logger"
)

// RecomputeTrigger is notified after an event for a lead has been persisted.
// Implementations must not block for long; they run on the append goroutine.
type RecomputeTrigger interface {
	Trigger(ctx context.Context, leadID string)
}

// pipeline is the token lookup, append and trigger sequence shared by the
// ingestor's first attempt and the retrier.
type pipeline struct {
	tokens        TokenRepository
	store         EventStore
	trigger       RecomputeTrigger
	appendTimeout time.Duration
}

func (p *pipeline) deliver(ctx context.Context, ev domain.TrackingEvent) error {
	if p.appendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.appendTimeout)
		defer cancel()
	}

	tok, err := p.tokens.Get(ctx, ev.TokenID)
	if err != nil {
		return classify(err)
	}
	ev.LeadID = tok.LeadID
	ev.CampaignID = tok.CampaignID

	start := time.Now()
	_, err = p.store.Append(ctx, ev)
	metrics.AppendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return classify(err)
	}

	if p.trigger != nil {
		p.trigger.Trigger(context.WithoutCancel(ctx), ev.LeadID)
	}
	return nil
}

// classify makes sure timeouts surface as ErrStoreUnavailable.
func classify(err error) error {
	if errors.Is(err, ErrUnknownToken) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownToken):
		return "unknown_token"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func logUnknownToken(tokenID string, kind domain.EventKind, meta domain.ClientMeta) {
	metrics.UnknownTokens.Inc()
	logger.Warn("beacon for unknown tracking token",
		"signal", "security",
		"token_id", tokenID,
		"kind", string(kind),
		"ip", meta.IPAddress,
		"user_agent", meta.UserAgent,
	)
}
