package engagement

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/leadtrack/internal/domain"
	"github.com/ignite/leadtrack/internal/service/tracking"
)

// View answers dashboard reads from the caches, falling back to a replay of
// the log for leads that have not been aggregated yet.
type View struct {
	repo   Repository
	agg    *Aggregator
	tokens tracking.TokenRepository
}

// NewView creates a read view.
func NewView(repo Repository, agg *Aggregator, tokens tracking.TokenRepository) *View {
	return &View{repo: repo, agg: agg, tokens: tokens}
}

// GetLeadEngagement returns a lead's state with its campaign rows. On a
// cache miss the state is computed from the log but not written.
func (v *View) GetLeadEngagement(ctx context.Context, leadID string) (*domain.LeadState, error) {
	state, err := v.repo.GetLeadState(ctx, leadID)
	if errors.Is(err, ErrNotFound) {
		return v.agg.Replay(ctx, leadID)
	}
	if err != nil {
		return nil, fmt.Errorf("get lead state %s: %w", leadID, err)
	}

	state.Tier = domain.TierFor(state.EngagementScore)
	state.Campaigns, err = v.repo.ListLeadInteractions(ctx, leadID)
	if err != nil {
		return nil, fmt.Errorf("list interactions for lead %s: %w", leadID, err)
	}
	return state, nil
}

// GetCampaignInteractions returns the sent/opened/clicked rollup for a
// campaign, or ErrNotFound if nothing was sent in it.
func (v *View) GetCampaignInteractions(ctx context.Context, campaignID string) (*domain.CampaignCounts, error) {
	counts, err := v.repo.CampaignCounts(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign counts %s: %w", campaignID, err)
	}
	if counts.Sent == 0 && counts.Opened == 0 && counts.Clicked == 0 {
		return nil, ErrNotFound
	}
	c := counts.WithRates()
	return &c, nil
}

// ListCampaignInteractions returns one row per lead for a campaign.
func (v *View) ListCampaignInteractions(ctx context.Context, campaignID string) ([]domain.CampaignInteraction, error) {
	rows, err := v.repo.ListCampaignInteractions(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list interactions for campaign %s: %w", campaignID, err)
	}
	return rows, nil
}

// ListLeads returns cached lead states matching the filter.
func (v *View) ListLeads(ctx context.Context, filter LeadFilter) ([]domain.LeadState, error) {
	if filter.Tier != "" && !filter.Tier.Valid() {
		return nil, fmt.Errorf("%w: unknown engagement tier %q", tracking.ErrInvalidInput, filter.Tier)
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	states, err := v.repo.ListLeadStates(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list lead states: %w", err)
	}
	for i := range states {
		states[i].Tier = domain.TierFor(states[i].EngagementScore)
	}
	return states, nil
}

// CountsFromLog rebuilds a campaign's rollup by replaying every lead in it.
// It is slow and meant for verifying the campaign_interactions projection.
func (v *View) CountsFromLog(ctx context.Context, campaignID string) (*domain.CampaignCounts, error) {
	leadIDs, err := v.tokens.LeadIDsByCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list leads for campaign %s: %w", campaignID, err)
	}

	counts := domain.CampaignCounts{CampaignID: campaignID}
	for _, leadID := range leadIDs {
		state, err := v.agg.Replay(ctx, leadID)
		if err != nil {
			return nil, err
		}
		for _, ci := range state.Campaigns {
			if ci.CampaignID != campaignID {
				continue
			}
			if ci.EmailSentAt != nil {
				counts.Sent++
			}
			if ci.OpenCount > 0 {
				counts.Opened++
			}
			if ci.ClickCount > 0 {
				counts.Clicked++
			}
		}
	}
	counts = counts.WithRates()
	return &counts, nil
}
