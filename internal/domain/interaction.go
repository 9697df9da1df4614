package domain

import "time"

// CampaignInteraction is the per (campaign, lead) projection of the event
// log. It is rebuilt by replaying the lead's events for that campaign.
type CampaignInteraction struct {
	CampaignID     string     `json:"campaign_id" db:"campaign_id"`
	LeadID         string     `json:"lead_id" db:"lead_id"`
	EmailSentAt    *time.Time `json:"email_sent_at" db:"email_sent_at"`
	FirstOpenedAt  *time.Time `json:"first_opened_at" db:"first_opened_at"`
	FirstClickedAt *time.Time `json:"first_clicked_at" db:"first_clicked_at"`
	OpenCount      int        `json:"open_count" db:"open_count"`
	ClickCount     int        `json:"click_count" db:"click_count"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// CampaignCounts is the funnel rollup for one campaign.
type CampaignCounts struct {
	CampaignID string  `json:"campaign_id"`
	Sent       int     `json:"sent"`
	Opened     int     `json:"opened"`
	Clicked    int     `json:"clicked"`
	OpenRate   float64 `json:"open_rate"`
	ClickRate  float64 `json:"click_rate"`
}

// WithRates fills OpenRate and ClickRate as percentages of Sent.
func (c CampaignCounts) WithRates() CampaignCounts {
	if c.Sent > 0 {
		c.OpenRate = float64(c.Opened) / float64(c.Sent) * 100
		c.ClickRate = float64(c.Clicked) / float64(c.Sent) * 100
	}
	return c
}
