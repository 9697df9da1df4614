package tracking

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/ignite/leadtrack/internal/domain"
	"github.com/ignite/leadtrack/internal/metrics"
	"github.com/ignite/leadtrack/internal/pkg/logger"
)

// BreakerConfig configures the circuit breaker shared by the token lookup
// and the event append.
type BreakerConfig struct {
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// Breaker is one circuit over the tracking database. The token lookup and
// the append both run through it, so an outage seen by either trips it and
// an open breaker fails both fast.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "event-store"
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		// An unknown token is a caller problem, not a sign of backend trouble.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnknownToken)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	metrics.BreakerState.WithLabelValues(cfg.Name).Set(float64(gobreaker.StateClosed))
	return &Breaker{cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// State returns the breaker state name (closed, half-open, open).
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Store wraps an EventStore so its appends run through the breaker.
func (b *Breaker) Store(next EventStore) *BreakerStore {
	return &BreakerStore{next: next, breaker: b}
}

// Tokens wraps a TokenRepository so its lookups run through the breaker.
func (b *Breaker) Tokens(next TokenRepository) *BreakerTokens {
	return &BreakerTokens{TokenRepository: next, breaker: b}
}

// execute runs fn through the breaker. An open breaker fails fast with
// ErrStoreUnavailable.
func (b *Breaker) execute(fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return v, err
}

// BreakerStore is an EventStore whose appends run through a Breaker so that
// a failing backend is short circuited instead of tying up every beacon's
// append goroutine. Reads pass straight through.
type BreakerStore struct {
	next    EventStore
	breaker *Breaker
}

// NewBreakerStore wraps next with a breaker of its own.
func NewBreakerStore(next EventStore, cfg BreakerConfig) *BreakerStore {
	return NewBreaker(cfg).Store(next)
}

// State returns the state of the underlying breaker.
func (s *BreakerStore) State() string {
	return s.breaker.State()
}

// Append runs the wrapped append through the breaker.
func (s *BreakerStore) Append(ctx context.Context, ev domain.TrackingEvent) (string, error) {
	v, err := s.breaker.execute(func() (any, error) {
		return s.next.Append(ctx, ev)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ListByToken passes through to the wrapped store.
func (s *BreakerStore) ListByToken(ctx context.Context, tokenID string) ([]domain.TrackingEvent, error) {
	return s.next.ListByToken(ctx, tokenID)
}

// ListByLead passes through to the wrapped store.
func (s *BreakerStore) ListByLead(ctx context.Context, leadID string, since *time.Time) iter.Seq2[domain.TrackingEvent, error] {
	return s.next.ListByLead(ctx, leadID, since)
}

// BreakerTokens is a TokenRepository whose Get runs through a Breaker. The
// other methods pass straight through.
type BreakerTokens struct {
	TokenRepository
	breaker *Breaker
}

// Get runs the wrapped lookup through the breaker.
func (t *BreakerTokens) Get(ctx context.Context, tokenID string) (*domain.TrackingToken, error) {
	v, err := t.breaker.execute(func() (any, error) {
		return t.TokenRepository.Get(ctx, tokenID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.TrackingToken), nil
}
