package tracking

import (
	"context"
	"iter"
	"time"

	"github.com/ignite/leadtrack/internal/domain"
)

// EventStore is the append-only event log. There is deliberately no update
// or delete operation.
type EventStore interface {
	// Append persists one event and returns its event id. An event whose
	// token was never issued fails with ErrUnknownToken and creates no row.
	// Transient failures wrap ErrStoreUnavailable. Appending an event id that
	// already exists is a no-op, so retries are safe.
	Append(ctx context.Context, ev domain.TrackingEvent) (string, error)

	// ListByToken returns all events for a token ordered by (occurred_at, event_id).
	ListByToken(ctx context.Context, tokenID string) ([]domain.TrackingEvent, error)

	// ListByLead streams every event for every token of a lead, optionally
	// restricted to events at or after since. The sequence is lazy and may be
	// ranged over more than once; each range re-reads the store.
	ListByLead(ctx context.Context, leadID string, since *time.Time) iter.Seq2[domain.TrackingEvent, error]
}

// TokenRepository persists issued tracking tokens.
type TokenRepository interface {
	// Create stores a token together with its "sent" event in one
	// transaction. Either both are persisted or neither is.
	Create(ctx context.Context, tok *domain.TrackingToken, sent domain.TrackingEvent) error

	// Get returns a token by id, or ErrUnknownToken.
	Get(ctx context.Context, tokenID string) (*domain.TrackingToken, error)

	// ListByLead returns every token issued to a lead, oldest first.
	ListByLead(ctx context.Context, leadID string) ([]domain.TrackingToken, error)

	// LeadIDs pages through the distinct lead ids that own at least one
	// token, ordered ascending, starting after afterLeadID.
	LeadIDs(ctx context.Context, afterLeadID string, limit int) ([]string, error)

	// LeadIDsByCampaign returns the distinct leads with a token in the campaign.
	LeadIDsByCampaign(ctx context.Context, campaignID string) ([]string, error)
}
