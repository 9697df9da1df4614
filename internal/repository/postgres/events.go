package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/ignite/leadtrack/internal/domain"
	"github.com/ignite/leadtrack/internal/service/tracking"
)

// EventRepo implements tracking.EventStore against PostgreSQL. The table
// only ever sees INSERTs; a trigger installed by the migration rejects
// UPDATE and DELETE.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed event store.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

const selectEvents = `
	SELECT e.event_id, e.token_id, e.kind, e.occurred_at, e.client_meta, t.lead_id, t.campaign_id
	FROM tracking_events e
	JOIN tracking_tokens t ON t.token_id = e.token_id
`

func (r *EventRepo) Append(ctx context.Context, ev domain.TrackingEvent) (string, error) {
	if !ev.Kind.Valid() {
		return "", fmt.Errorf("append event: %w: unknown kind %q", tracking.ErrInvalidInput, ev.Kind)
	}
	if _, err := uuid.Parse(ev.TokenID); err != nil {
		return "", tracking.ErrUnknownToken
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	meta, err := json.Marshal(ev.Meta)
	if err != nil {
		return "", fmt.Errorf("append event: marshal meta: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tracking_events (event_id, token_id, kind, occurred_at, client_meta)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`, ev.ID, ev.TokenID, string(ev.Kind), ev.OccurredAt, meta)
	if err != nil {
		return "", classify("append event", err)
	}
	return ev.ID, nil
}

func (r *EventRepo) ListByToken(ctx context.Context, tokenID string) ([]domain.TrackingEvent, error) {
	if _, err := uuid.Parse(tokenID); err != nil {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, selectEvents+`
		WHERE e.token_id = $1
		ORDER BY e.occurred_at, e.event_id
	`, tokenID)
	if err != nil {
		return nil, classify("list events by token", err)
	}
	defer rows.Close()

	var out []domain.TrackingEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, classify("list events by token", rows.Err())
}

func (r *EventRepo) ListByLead(ctx context.Context, leadID string, since *time.Time) iter.Seq2[domain.TrackingEvent, error] {
	return func(yield func(domain.TrackingEvent, error) bool) {
		rows, err := r.db.QueryContext(ctx, selectEvents+`
			WHERE t.lead_id = $1 AND ($2::timestamptz IS NULL OR e.occurred_at >= $2)
			ORDER BY e.occurred_at, e.event_id
		`, leadID, since)
		if err != nil {
			yield(domain.TrackingEvent{}, classify("list events by lead", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			ev, err := scanEvent(rows)
			if err != nil {
				yield(domain.TrackingEvent{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.TrackingEvent{}, classify("list events by lead", err))
		}
	}
}

func scanEvent(rows *sql.Rows) (domain.TrackingEvent, error) {
	var (
		ev   domain.TrackingEvent
		kind string
		meta []byte
	)
	if err := rows.Scan(&ev.ID, &ev.TokenID, &kind, &ev.OccurredAt, &meta, &ev.LeadID, &ev.CampaignID); err != nil {
		return ev, fmt.Errorf("scan event: %w", err)
	}
	ev.Kind = domain.EventKind(kind)
	ev.OccurredAt = ev.OccurredAt.UTC()
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &ev.Meta); err != nil {
			return ev, fmt.Errorf("decode client_meta for event %s: %w", ev.ID, err)
		}
	}
	return ev, nil
}
