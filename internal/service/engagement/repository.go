package engagement

import (
	"context"

	"github.com/ignite/leadtrack/internal/domain"
)

// LeadFilter narrows ListLeads. Zero values mean "no filter".
type LeadFilter struct {
	Tier    domain.EngagementTier
	Opened  *bool
	Clicked *bool
	Limit   int
	Offset  int
}

// Matches reports whether a lead state passes the filter. Repositories that
// cannot push the filter down to storage use it directly.
func (f LeadFilter) Matches(s *domain.LeadState) bool {
	if f.Tier != "" && domain.TierFor(s.EngagementScore) != f.Tier {
		return false
	}
	if f.Opened != nil && (s.LastEmailOpened != nil) != *f.Opened {
		return false
	}
	if f.Clicked != nil && (s.LastLinkClicked != nil) != *f.Clicked {
		return false
	}
	return true
}

// Repository persists the derived caches. Implementations overwrite whole
// rows; there is no partial or incremental update.
type Repository interface {
	// GetLeadState returns the cached state for a lead or ErrNotFound.
	// Campaigns is not populated.
	GetLeadState(ctx context.Context, leadID string) (*domain.LeadState, error)

	// SaveLeadState upserts the lead's cache row, its campaign interaction
	// rows and the cached engagement columns of the lead, atomically.
	SaveLeadState(ctx context.Context, state *domain.LeadState) error

	// ListLeadStates returns cached states matching the filter, highest
	// score first, then by lead id.
	ListLeadStates(ctx context.Context, filter LeadFilter) ([]domain.LeadState, error)

	// ListLeadInteractions returns a lead's campaign rows ordered by campaign id.
	ListLeadInteractions(ctx context.Context, leadID string) ([]domain.CampaignInteraction, error)

	// ListCampaignInteractions returns a campaign's rows ordered by lead id.
	ListCampaignInteractions(ctx context.Context, campaignID string) ([]domain.CampaignInteraction, error)

	// CampaignCounts rolls a campaign's rows up into sent/opened/clicked.
	// Rates are left for the caller.
	CampaignCounts(ctx context.Context, campaignID string) (*domain.CampaignCounts, error)
}
