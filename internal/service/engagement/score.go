package engagement

import (
	"cmp"
	"slices"
	"time"

	"github.com/ignite/leadtrack/internal/domain"
)

// ScorePolicy holds the scoring rules. The zero value scores nothing; start
// from DefaultPolicy.
type ScorePolicy struct {
	// DedupeWindow collapses same-kind hits on one token that land within
	// the window of the first hit of their cluster. Zero disables dedupe.
	DedupeWindow time.Duration

	OpenWeight  int
	ClickWeight int

	// Ceiling caps the final score. Zero or negative means no cap.
	Ceiling int

	// Adjust, when set, rewrites the summed score before the ceiling is
	// applied. It is the hook for decay or negative signals and must be a
	// pure function of its arguments.
	Adjust func(score int, deduped []domain.TrackingEvent, asOf time.Time) int
}

// DefaultPolicy is open = 1, click = 2, five minute dedupe window, capped at 100.
func DefaultPolicy() ScorePolicy {
	return ScorePolicy{
		DedupeWindow: 5 * time.Minute,
		OpenWeight:   1,
		ClickWeight:  2,
		Ceiling:      100,
	}
}

func compareEvents(a, b domain.TrackingEvent) int {
	if c := a.OccurredAt.Compare(b.OccurredAt); c != 0 {
		return c
	}
	if c := cmp.Compare(a.ID, b.ID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.TokenID, b.TokenID); c != 0 {
		return c
	}
	return cmp.Compare(a.Kind, b.Kind)
}

// Dedupe collapses repeated hits. Events are grouped by (token, kind) and
// sorted by (occurred_at, event_id); each event within window of its
// cluster's first event is dropped, and an event outside it starts a new
// cluster. Duplicate event ids are kept once. The result is sorted and does
// not depend on the input order.
func Dedupe(events []domain.TrackingEvent, window time.Duration) []domain.TrackingEvent {
	sorted := slices.Clone(events)
	slices.SortFunc(sorted, compareEvents)

	type groupKey struct {
		token string
		kind  domain.EventKind
	}
	seen := make(map[string]bool, len(sorted))
	clusterStart := make(map[groupKey]time.Time)
	out := make([]domain.TrackingEvent, 0, len(sorted))

	for _, ev := range sorted {
		if ev.ID != "" {
			if seen[ev.ID] {
				continue
			}
			seen[ev.ID] = true
		}
		k := groupKey{ev.TokenID, ev.Kind}
		if start, ok := clusterStart[k]; ok && window > 0 && ev.OccurredAt.Sub(start) < window {
			continue
		}
		clusterStart[k] = ev.OccurredAt
		out = append(out, ev)
	}
	return out
}

// Compute derives a lead's engagement state from its tokens and their
// events. It is pure: the same inputs always give the same state, whatever
// order the events arrive in.
//
// Each token contributes OpenWeight if it has any open and ClickWeight if it
// has any click, so a click without a recorded open still counts in full and
// repeated opens of one email never add more than one open.
func Compute(leadID string, tokens []domain.TrackingToken, events []domain.TrackingEvent, policy ScorePolicy, asOf time.Time) *domain.LeadState {
	campaignOf := make(map[string]string, len(tokens))
	for _, t := range tokens {
		if t.CampaignID != nil {
			campaignOf[t.ID] = *t.CampaignID
		}
	}
	for _, ev := range events {
		if _, ok := campaignOf[ev.TokenID]; !ok && ev.CampaignID != nil {
			campaignOf[ev.TokenID] = *ev.CampaignID
		}
	}

	state := &domain.LeadState{LeadID: leadID, ComputedAt: asOf}
	for _, ev := range events {
		switch ev.Kind {
		case domain.EventOpened:
			state.RawOpens++
		case domain.EventClicked:
			state.RawClicks++
		}
	}

	type tokenFlags struct{ sent, opened, clicked bool }
	flags := make(map[string]*tokenFlags)
	interactions := make(map[string]*domain.CampaignInteraction)

	deduped := Dedupe(events, policy.DedupeWindow)
	for _, ev := range deduped {
		if !ev.Kind.Valid() {
			continue
		}
		f, ok := flags[ev.TokenID]
		if !ok {
			f = &tokenFlags{}
			flags[ev.TokenID] = f
		}

		var ci *domain.CampaignInteraction
		if cid, ok := campaignOf[ev.TokenID]; ok {
			if ci = interactions[cid]; ci == nil {
				ci = &domain.CampaignInteraction{CampaignID: cid, LeadID: leadID, UpdatedAt: asOf}
				interactions[cid] = ci
			}
		}

		at := ev.OccurredAt
		switch ev.Kind {
		case domain.EventSent:
			f.sent = true
			state.LastEmailSent = latest(state.LastEmailSent, at)
			if ci != nil {
				ci.EmailSentAt = earliest(ci.EmailSentAt, at)
			}
		case domain.EventOpened:
			f.opened = true
			state.UniqueOpens++
			state.LastEmailOpened = latest(state.LastEmailOpened, at)
			if ci != nil {
				ci.FirstOpenedAt = earliest(ci.FirstOpenedAt, at)
				ci.OpenCount++
			}
		case domain.EventClicked:
			f.clicked = true
			state.UniqueClicks++
			state.LastLinkClicked = latest(state.LastLinkClicked, at)
			if ci != nil {
				ci.FirstClickedAt = earliest(ci.FirstClickedAt, at)
				ci.ClickCount++
			}
		}
	}

	score := 0
	for _, f := range flags {
		if f.sent {
			state.TokensSent++
		}
		if f.opened {
			state.TokensOpened++
			score += policy.OpenWeight
		}
		if f.clicked {
			state.TokensClicked++
			score += policy.ClickWeight
		}
	}
	if policy.Adjust != nil {
		score = policy.Adjust(score, deduped, asOf)
	}
	if policy.Ceiling > 0 && score > policy.Ceiling {
		score = policy.Ceiling
	}
	state.EngagementScore = score
	state.Tier = domain.TierFor(score)

	if len(interactions) > 0 {
		state.Campaigns = make([]domain.CampaignInteraction, 0, len(interactions))
		for _, ci := range interactions {
			state.Campaigns = append(state.Campaigns, *ci)
		}
		slices.SortFunc(state.Campaigns, func(a, b domain.CampaignInteraction) int {
			return cmp.Compare(a.CampaignID, b.CampaignID)
		})
	}
	return state
}

func latest(cur *time.Time, t time.Time) *time.Time {
	if cur != nil && !t.After(*cur) {
		return cur
	}
	u := t.UTC()
	return &u
}

func earliest(cur *time.Time, t time.Time) *time.Time {
	if cur != nil && !t.Before(*cur) {
		return cur
	}
	u := t.UTC()
	return &u
}

// Diff returns the names of the derived fields that differ between a cached
// state and a fresh replay. Timestamps are compared at microsecond precision,
// the resolution Postgres stores.
func Diff(cached, fresh *domain.LeadState) []string {
	var fields []string
	check := func(name string, differ bool) {
		if differ {
			fields = append(fields, name)
		}
	}
	check("engagement_score", cached.EngagementScore != fresh.EngagementScore)
	check("last_email_sent", !sameTime(cached.LastEmailSent, fresh.LastEmailSent))
	check("last_email_opened", !sameTime(cached.LastEmailOpened, fresh.LastEmailOpened))
	check("last_link_clicked", !sameTime(cached.LastLinkClicked, fresh.LastLinkClicked))
	check("tokens_sent", cached.TokensSent != fresh.TokensSent)
	check("tokens_opened", cached.TokensOpened != fresh.TokensOpened)
	check("tokens_clicked", cached.TokensClicked != fresh.TokensClicked)
	check("unique_opens", cached.UniqueOpens != fresh.UniqueOpens)
	check("unique_clicks", cached.UniqueClicks != fresh.UniqueClicks)
	check("raw_opens", cached.RawOpens != fresh.RawOpens)
	check("raw_clicks", cached.RawClicks != fresh.RawClicks)
	return fields
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Truncate(time.Microsecond).Equal(b.Truncate(time.Microsecond))
}

// eventsAsOf keeps the events that had occurred by t.
func eventsAsOf(events []domain.TrackingEvent, t time.Time) []domain.TrackingEvent {
	out := make([]domain.TrackingEvent, 0, len(events))
	for _, ev := range events {
		if !ev.OccurredAt.After(t) {
			out = append(out, ev)
		}
	}
	return out
}
