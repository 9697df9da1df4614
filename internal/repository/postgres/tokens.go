package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/ignite/leadtrack/internal/domain"
	"github.com/ignite/leadtrack/internal/service/tracking"
)

// TokenRepo implements tracking.TokenRepository against PostgreSQL.
type TokenRepo struct{ db *sql.DB }

// NewTokenRepo creates a Postgres-backed token repository.
func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{db: db} }

func (r *TokenRepo) Create(ctx context.Context, tok *domain.TrackingToken, sent domain.TrackingEvent) error {
	meta, err := json.Marshal(sent.Meta)
	if err != nil {
		return fmt.Errorf("create token: marshal meta: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("create token: begin", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tracking_tokens (token_id, lead_id, campaign_id, subject, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, tok.ID, tok.LeadID, tok.CampaignID, tok.Subject, tok.CreatedAt)
	if err != nil {
		return classify("create token", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tracking_events (event_id, token_id, kind, occurred_at, client_meta)
		VALUES ($1, $2, $3, $4, $5)
	`, sent.ID, tok.ID, string(domain.EventSent), sent.OccurredAt, meta)
	if err != nil {
		return classify("create token: sent event", err)
	}

	if err := tx.Commit(); err != nil {
		return classify("create token: commit", err)
	}
	return nil
}

func (r *TokenRepo) Get(ctx context.Context, tokenID string) (*domain.TrackingToken, error) {
	if _, err := uuid.Parse(tokenID); err != nil {
		return nil, tracking.ErrUnknownToken
	}
	var tok domain.TrackingToken
	err := r.db.QueryRowContext(ctx, `
		SELECT token_id, lead_id, campaign_id, subject, created_at
		FROM tracking_tokens WHERE token_id = $1
	`, tokenID).Scan(&tok.ID, &tok.LeadID, &tok.CampaignID, &tok.Subject, &tok.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tracking.ErrUnknownToken
	}
	if err != nil {
		return nil, classify("get token", err)
	}
	return &tok, nil
}

func (r *TokenRepo) ListByLead(ctx context.Context, leadID string) ([]domain.TrackingToken, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT token_id, lead_id, campaign_id, subject, created_at
		FROM tracking_tokens WHERE lead_id = $1
		ORDER BY created_at, token_id
	`, leadID)
	if err != nil {
		return nil, classify("list tokens", err)
	}
	defer rows.Close()

	var out []domain.TrackingToken
	for rows.Next() {
		var tok domain.TrackingToken
		if err := rows.Scan(&tok.ID, &tok.LeadID, &tok.CampaignID, &tok.Subject, &tok.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		out = append(out, tok)
	}
	return out, classify("list tokens", rows.Err())
}

func (r *TokenRepo) LeadIDs(ctx context.Context, afterLeadID string, limit int) ([]string, error) {
	return r.leadIDs(ctx, "page lead ids", `
		SELECT DISTINCT lead_id FROM tracking_tokens
		WHERE lead_id > $1
		ORDER BY lead_id
		LIMIT $2
	`, afterLeadID, limit)
}

func (r *TokenRepo) LeadIDsByCampaign(ctx context.Context, campaignID string) ([]string, error) {
	return r.leadIDs(ctx, "campaign lead ids", `
		SELECT DISTINCT lead_id FROM tracking_tokens
		WHERE campaign_id = $1
		ORDER BY lead_id
	`, campaignID)
}

func (r *TokenRepo) leadIDs(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		ids = append(ids, id)
	}
	return ids, classify(op, rows.Err())
}
