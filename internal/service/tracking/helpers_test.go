package tracking_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ignite/leadtrack/internal/domain"
	"github.com/ignite/leadtrack/internal/repository/memory"
	"github.com/ignite/leadtrack/internal/service/tracking"
)

// recordingTrigger remembers which leads were sent for recompute.
type recordingTrigger struct {
	mu    sync.Mutex
	leads []string
}

func (t *recordingTrigger) Trigger(ctx context.Context, leadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leads = append(t.leads, leadID)
}

func (t *recordingTrigger) Leads() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.leads...)
}

// flakyStore wraps an EventStore and can be told to fail or stall appends.
type flakyStore struct {
	tracking.EventStore
	failing atomic.Bool
	stall   chan struct{}
	calls   atomic.Int32
}

func (s *flakyStore) Append(ctx context.Context, ev domain.TrackingEvent) (string, error) {
	s.calls.Add(1)
	if s.stall != nil {
		select {
		case <-s.stall:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.failing.Load() {
		return "", tracking.ErrStoreUnavailable
	}
	return s.EventStore.Append(ctx, ev)
}

// countingTokens counts token lookups.
type countingTokens struct {
	tracking.TokenRepository
	gets atomic.Int32
}

func (c *countingTokens) Get(ctx context.Context, tokenID string) (*domain.TrackingToken, error) {
	c.gets.Add(1)
	return c.TokenRepository.Get(ctx, tokenID)
}

type fixture struct {
	db       *memory.DB
	tokens   *countingTokens
	store    *flakyStore
	trigger  *recordingTrigger
	issuer   *tracking.Issuer
	policy   *tracking.RedirectPolicy
	ingestor *tracking.Ingestor
}

func newFixture(t *testing.T, retrier func(f *fixture) *tracking.Retrier) *fixture {
	t.Helper()
	db := memory.New()
	f := &fixture{
		db:      db,
		tokens:  &countingTokens{TokenRepository: db.Tokens()},
		store:   &flakyStore{EventStore: db.Events()},
		trigger: &recordingTrigger{},
	}
	f.issuer = tracking.NewIssuer(db.Tokens(), "https://t.example.com/", "https://www.example.com/")
	f.policy = tracking.NewRedirectPolicy(
		[]string{"example.com"}, nil,
		"https://www.example.com/", "https://www.example.com/fallback",
	)
	var r *tracking.Retrier
	if retrier != nil {
		r = retrier(f)
	}
	f.ingestor = tracking.NewIngestor(f.tokens, f.store, f.policy, f.trigger, r, tracking.IngestorConfig{
		ResponseDeadline: 150 * time.Millisecond,
		AppendTimeout:    time.Second,
	})
	return f
}

func (f *fixture) issue(t *testing.T, leadID, campaignID string) *tracking.IssuedToken {
	t.Helper()
	in := tracking.IssueInput{LeadID: leadID, Subject: "Spring offer"}
	if campaignID != "" {
		in.CampaignID = &campaignID
	}
	issued, err := f.issuer.Issue(context.Background(), in)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return issued
}

func (f *fixture) events(t *testing.T, tokenID string) []domain.TrackingEvent {
	t.Helper()
	evs, err := f.db.Events().ListByToken(context.Background(), tokenID)
	if err != nil {
		t.Fatalf("ListByToken: %v", err)
	}
	return evs
}

func countKind(evs []domain.TrackingEvent, kind domain.EventKind) int {
	n := 0
	for _, ev := range evs {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
