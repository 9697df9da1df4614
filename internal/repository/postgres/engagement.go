package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ignite/leadtrack/internal/domain"
	"github.com/ignite/leadtrack/internal/service/engagement"
)

// EngagementRepo implements engagement.Repository against PostgreSQL.
type EngagementRepo struct{ db *sql.DB }

// NewEngagementRepo creates a Postgres-backed engagement cache repository.
func NewEngagementRepo(db *sql.DB) *EngagementRepo { return &EngagementRepo{db: db} }

const leadStateColumns = `lead_id, engagement_score, last_email_sent, last_email_opened, last_link_clicked,
	tokens_sent, tokens_opened, tokens_clicked, unique_opens, unique_clicks, raw_opens, raw_clicks, computed_at`

const interactionColumns = `campaign_id, lead_id, email_sent_at, first_opened_at, first_clicked_at,
	open_count, click_count, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanLeadState(row scanner) (*domain.LeadState, error) {
	var s domain.LeadState
	err := row.Scan(&s.LeadID, &s.EngagementScore, &s.LastEmailSent, &s.LastEmailOpened, &s.LastLinkClicked,
		&s.TokensSent, &s.TokensOpened, &s.TokensClicked, &s.UniqueOpens, &s.UniqueClicks,
		&s.RawOpens, &s.RawClicks, &s.ComputedAt)
	if err != nil {
		return nil, err
	}
	s.ComputedAt = s.ComputedAt.UTC()
	s.Tier = domain.TierFor(s.EngagementScore)
	return &s, nil
}

func scanInteraction(row scanner) (domain.CampaignInteraction, error) {
	var ci domain.CampaignInteraction
	err := row.Scan(&ci.CampaignID, &ci.LeadID, &ci.EmailSentAt, &ci.FirstOpenedAt, &ci.FirstClickedAt,
		&ci.OpenCount, &ci.ClickCount, &ci.UpdatedAt)
	return ci, err
}

func (r *EngagementRepo) GetLeadState(ctx context.Context, leadID string) (*domain.LeadState, error) {
	s, err := scanLeadState(r.db.QueryRowContext(ctx,
		`SELECT `+leadStateColumns+` FROM lead_engagement_cache WHERE lead_id = $1`, leadID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engagement.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead state: %w", err)
	}
	return s, nil
}

// SaveLeadState replaces the lead's cache row and campaign rows and updates
// the engagement columns on leads, in one transaction. CRM-owned columns of
// leads are never written.
func (r *EngagementRepo) SaveLeadState(ctx context.Context, s *domain.LeadState) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save lead state: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO lead_engagement_cache (`+leadStateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (lead_id) DO UPDATE SET
			engagement_score = EXCLUDED.engagement_score,
			last_email_sent = EXCLUDED.last_email_sent,
			last_email_opened = EXCLUDED.last_email_opened,
			last_link_clicked = EXCLUDED.last_link_clicked,
			tokens_sent = EXCLUDED.tokens_sent,
			tokens_opened = EXCLUDED.tokens_opened,
			tokens_clicked = EXCLUDED.tokens_clicked,
			unique_opens = EXCLUDED.unique_opens,
			unique_clicks = EXCLUDED.unique_clicks,
			raw_opens = EXCLUDED.raw_opens,
			raw_clicks = EXCLUDED.raw_clicks,
			computed_at = EXCLUDED.computed_at
	`, s.LeadID, s.EngagementScore, s.LastEmailSent, s.LastEmailOpened, s.LastLinkClicked,
		s.TokensSent, s.TokensOpened, s.TokensClicked, s.UniqueOpens, s.UniqueClicks,
		s.RawOpens, s.RawClicks, s.ComputedAt)
	if err != nil {
		return fmt.Errorf("save lead state: upsert cache: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_interactions WHERE lead_id = $1`, s.LeadID); err != nil {
		return fmt.Errorf("save lead state: clear interactions: %w", err)
	}
	for _, ci := range s.Campaigns {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO campaign_interactions (`+interactionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, ci.CampaignID, s.LeadID, ci.EmailSentAt, ci.FirstOpenedAt, ci.FirstClickedAt,
			ci.OpenCount, ci.ClickCount, ci.UpdatedAt)
		if err != nil {
			return fmt.Errorf("save lead state: interaction %s: %w", ci.CampaignID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE leads SET
			engagement_score = $2,
			last_email_sent = $3,
			last_email_opened = $4,
			last_link_clicked = $5,
			updated_at = NOW()
		WHERE id = $1
	`, s.LeadID, s.EngagementScore, s.LastEmailSent, s.LastEmailOpened, s.LastLinkClicked)
	if err != nil {
		return fmt.Errorf("save lead state: update lead: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save lead state: commit: %w", err)
	}
	return nil
}

func (r *EngagementRepo) ListLeadStates(ctx context.Context, f engagement.LeadFilter) ([]domain.LeadState, error) {
	var (
		where []string
		args  []any
	)
	switch f.Tier {
	case domain.TierHigh:
		where = append(where, "engagement_score >= 3")
	case domain.TierMedium:
		where = append(where, "engagement_score = 2")
	case domain.TierLow:
		where = append(where, "engagement_score <= 1")
	}
	if f.Opened != nil {
		where = append(where, nullCheck("last_email_opened", *f.Opened))
	}
	if f.Clicked != nil {
		where = append(where, nullCheck("last_link_clicked", *f.Clicked))
	}

	query := `SELECT ` + leadStateColumns + ` FROM lead_engagement_cache`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY engagement_score DESC, lead_id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list lead states: %w", err)
	}
	defer rows.Close()

	out := []domain.LeadState{}
	for rows.Next() {
		s, err := scanLeadState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead state: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func nullCheck(column string, present bool) string {
	if present {
		return column + " IS NOT NULL"
	}
	return column + " IS NULL"
}

func (r *EngagementRepo) ListLeadInteractions(ctx context.Context, leadID string) ([]domain.CampaignInteraction, error) {
	return r.listInteractions(ctx, `
		SELECT `+interactionColumns+` FROM campaign_interactions
		WHERE lead_id = $1 ORDER BY campaign_id
	`, leadID)
}

func (r *EngagementRepo) ListCampaignInteractions(ctx context.Context, campaignID string) ([]domain.CampaignInteraction, error) {
	return r.listInteractions(ctx, `
		SELECT `+interactionColumns+` FROM campaign_interactions
		WHERE campaign_id = $1 ORDER BY lead_id
	`, campaignID)
}

func (r *EngagementRepo) listInteractions(ctx context.Context, query string, arg string) ([]domain.CampaignInteraction, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	out := []domain.CampaignInteraction{}
	for rows.Next() {
		ci, err := scanInteraction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		ci.UpdatedAt = ci.UpdatedAt.UTC()
		out = append(out, ci)
	}
	return out, rows.Err()
}

func (r *EngagementRepo) CampaignCounts(ctx context.Context, campaignID string) (*domain.CampaignCounts, error) {
	c := &domain.CampaignCounts{CampaignID: campaignID}
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE email_sent_at IS NOT NULL),
			COUNT(*) FILTER (WHERE open_count > 0),
			COUNT(*) FILTER (WHERE click_count > 0)
		FROM campaign_interactions WHERE campaign_id = $1
	`, campaignID).Scan(&c.Sent, &c.Opened, &c.Clicked)
	if err != nil {
		return nil, fmt.Errorf("campaign counts: %w", err)
	}
	return c, nil
}
