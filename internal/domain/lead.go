package domain

import "time"

// Lead is a marketing contact. Rows are created by the external importer;
// the aggregator only writes EngagementScore and the Last* timestamps.
type Lead struct {
	ID              string     `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	Email           string     `json:"email" db:"email"`
	Status          string     `json:"status" db:"status"`
	Notes           string     `json:"notes" db:"notes"`
	EngagementScore int        `json:"engagement_score" db:"engagement_score"`
	LastEmailSent   *time.Time `json:"last_email_sent" db:"last_email_sent"`
	LastEmailOpened *time.Time `json:"last_email_opened" db:"last_email_opened"`
	LastLinkClicked *time.Time `json:"last_link_clicked" db:"last_link_clicked"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// EngagementTier buckets leads by score for dashboard filtering.
type EngagementTier string

const (
	TierHigh   EngagementTier = "high"
	TierMedium EngagementTier = "medium"
	TierLow    EngagementTier = "low"
)

// TierFor maps a score onto its tier: high >= 3, medium == 2, low <= 1.
func TierFor(score int) EngagementTier {
	switch {
	case score >= 3:
		return TierHigh
	case score == 2:
		return TierMedium
	default:
		return TierLow
	}
}

// Valid reports whether t is a known tier.
func (t EngagementTier) Valid() bool {
	return t == TierHigh || t == TierMedium || t == TierLow
}

// LeadState is the derived engagement aggregate for one lead. It is a cache
// of the event log and can be rebuilt from it at any time.
type LeadState struct {
	LeadID          string         `json:"lead_id" db:"lead_id"`
	EngagementScore int            `json:"engagement_score" db:"engagement_score"`
	Tier            EngagementTier `json:"tier" db:"-"`
	LastEmailSent   *time.Time     `json:"last_email_sent" db:"last_email_sent"`
	LastEmailOpened *time.Time     `json:"last_email_opened" db:"last_email_opened"`
	LastLinkClicked *time.Time     `json:"last_link_clicked" db:"last_link_clicked"`

	TokensSent    int `json:"tokens_sent" db:"tokens_sent"`
	TokensOpened  int `json:"tokens_opened" db:"tokens_opened"`
	TokensClicked int `json:"tokens_clicked" db:"tokens_clicked"`
	UniqueOpens   int `json:"unique_opens" db:"unique_opens"`
	UniqueClicks  int `json:"unique_clicks" db:"unique_clicks"`
	RawOpens      int `json:"raw_opens" db:"raw_opens"`
	RawClicks     int `json:"raw_clicks" db:"raw_clicks"`

	Campaigns  []CampaignInteraction `json:"campaigns,omitempty" db:"-"`
	ComputedAt time.Time             `json:"computed_at" db:"computed_at"`
}
