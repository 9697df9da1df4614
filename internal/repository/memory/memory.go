// Package memory is an in-process implementation of the tracking and
// engagement repositories. It backs store.type=memory and the service tests.
package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/leadtrack/internal/domain"
	"github.com/ignite/leadtrack/internal/service/engagement"
	"github.com/ignite/leadtrack/internal/service/tracking"
)

// DB holds every table. The repositories returned by its accessors share it.
type DB struct {
	mu           sync.RWMutex
	tokens       map[string]domain.TrackingToken
	events       []domain.TrackingEvent
	eventIDs     map[string]bool
	states       map[string]domain.LeadState
	interactions map[string]map[string]domain.CampaignInteraction // lead -> campaign -> row
	leads        map[string]domain.Lead
}

// New creates an empty database.
func New() *DB {
	return &DB{
		tokens:       make(map[string]domain.TrackingToken),
		eventIDs:     make(map[string]bool),
		states:       make(map[string]domain.LeadState),
		interactions: make(map[string]map[string]domain.CampaignInteraction),
		leads:        make(map[string]domain.Lead),
	}
}

// Tokens returns the token repository.
func (db *DB) Tokens() *TokenRepo { return &TokenRepo{db: db} }

// Events returns the event store.
func (db *DB) Events() *EventRepo { return &EventRepo{db: db} }

// Engagement returns the engagement cache repository.
func (db *DB) Engagement() *EngagementRepo { return &EngagementRepo{db: db} }

// PutLead inserts or replaces a lead row, as the external importer would.
func (db *DB) PutLead(l domain.Lead) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.leads[l.ID] = l
}

// Lead returns a lead row.
func (db *DB) Lead(id string) (domain.Lead, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	l, ok := db.leads[id]
	return l, ok
}

// EventCount returns the number of rows in the event log.
func (db *DB) EventCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.events)
}

func (db *DB) appendLocked(ev domain.TrackingEvent) (string, error) {
	if !ev.Kind.Valid() {
		return "", fmt.Errorf("%w: unknown event kind %q", tracking.ErrInvalidInput, ev.Kind)
	}
	if _, ok := db.tokens[ev.TokenID]; !ok {
		return "", tracking.ErrUnknownToken
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if db.eventIDs[ev.ID] {
		return ev.ID, nil
	}
	ev.LeadID = ""
	ev.CampaignID = nil
	db.eventIDs[ev.ID] = true
	db.events = append(db.events, ev)
	return ev.ID, nil
}

// joined fills the read-side lead and campaign of an event from its token.
func (db *DB) joined(ev domain.TrackingEvent) domain.TrackingEvent {
	if tok, ok := db.tokens[ev.TokenID]; ok {
		ev.LeadID = tok.LeadID
		ev.CampaignID = tok.CampaignID
	}
	return ev
}

func compareEvents(a, b domain.TrackingEvent) int {
	if c := a.OccurredAt.Compare(b.OccurredAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// TokenRepo implements tracking.TokenRepository in memory.
type TokenRepo struct{ db *DB }

func (r *TokenRepo) Create(ctx context.Context, tok *domain.TrackingToken, sent domain.TrackingEvent) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, exists := r.db.tokens[tok.ID]; exists {
		return fmt.Errorf("create token: duplicate token id %s", tok.ID)
	}
	r.db.tokens[tok.ID] = *tok
	if _, err := r.db.appendLocked(sent); err != nil {
		delete(r.db.tokens, tok.ID)
		return fmt.Errorf("create token sent event: %w", err)
	}
	return nil
}

func (r *TokenRepo) Get(ctx context.Context, tokenID string) (*domain.TrackingToken, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	tok, ok := r.db.tokens[tokenID]
	if !ok {
		return nil, tracking.ErrUnknownToken
	}
	return &tok, nil
}

func (r *TokenRepo) ListByLead(ctx context.Context, leadID string) ([]domain.TrackingToken, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []domain.TrackingToken
	for _, tok := range r.db.tokens {
		if tok.LeadID == leadID {
			out = append(out, tok)
		}
	}
	slices.SortFunc(out, func(a, b domain.TrackingToken) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r *TokenRepo) LeadIDs(ctx context.Context, afterLeadID string, limit int) ([]string, error) {
	r.db.mu.RLock()
	seen := make(map[string]bool)
	for _, tok := range r.db.tokens {
		if tok.LeadID > afterLeadID {
			seen[tok.LeadID] = true
		}
	}
	r.db.mu.RUnlock()

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *TokenRepo) LeadIDsByCampaign(ctx context.Context, campaignID string) ([]string, error) {
	r.db.mu.RLock()
	seen := make(map[string]bool)
	for _, tok := range r.db.tokens {
		if tok.CampaignID != nil && *tok.CampaignID == campaignID {
			seen[tok.LeadID] = true
		}
	}
	r.db.mu.RUnlock()

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// EventRepo implements tracking.EventStore in memory.
type EventRepo struct{ db *DB }

func (r *EventRepo) Append(ctx context.Context, ev domain.TrackingEvent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", tracking.ErrStoreUnavailable, err)
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.appendLocked(ev)
}

func (r *EventRepo) ListByToken(ctx context.Context, tokenID string) ([]domain.TrackingEvent, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []domain.TrackingEvent
	for _, ev := range r.db.events {
		if ev.TokenID == tokenID {
			out = append(out, r.db.joined(ev))
		}
	}
	slices.SortFunc(out, compareEvents)
	return out, nil
}

func (r *EventRepo) ListByLead(ctx context.Context, leadID string, since *time.Time) iter.Seq2[domain.TrackingEvent, error] {
	return func(yield func(domain.TrackingEvent, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(domain.TrackingEvent{}, err)
			return
		}
		r.db.mu.RLock()
		var snapshot []domain.TrackingEvent
		for _, ev := range r.db.events {
			ev = r.db.joined(ev)
			if ev.LeadID != leadID {
				continue
			}
			if since != nil && ev.OccurredAt.Before(*since) {
				continue
			}
			snapshot = append(snapshot, ev)
		}
		r.db.mu.RUnlock()

		slices.SortFunc(snapshot, compareEvents)
		for _, ev := range snapshot {
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// EngagementRepo implements engagement.Repository in memory.
type EngagementRepo struct{ db *DB }

func (r *EngagementRepo) GetLeadState(ctx context.Context, leadID string) (*domain.LeadState, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	s, ok := r.db.states[leadID]
	if !ok {
		return nil, engagement.ErrNotFound
	}
	return &s, nil
}

func (r *EngagementRepo) SaveLeadState(ctx context.Context, state *domain.LeadState) error {
	if state == nil || state.LeadID == "" {
		return errors.New("save lead state: lead id is required")
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	s := *state
	s.Campaigns = nil
	r.db.states[s.LeadID] = s

	rows := make(map[string]domain.CampaignInteraction, len(state.Campaigns))
	for _, ci := range state.Campaigns {
		rows[ci.CampaignID] = ci
	}
	r.db.interactions[s.LeadID] = rows

	lead := r.db.leads[s.LeadID]
	lead.ID = s.LeadID
	lead.EngagementScore = s.EngagementScore
	lead.LastEmailSent = s.LastEmailSent
	lead.LastEmailOpened = s.LastEmailOpened
	lead.LastLinkClicked = s.LastLinkClicked
	lead.UpdatedAt = s.ComputedAt
	r.db.leads[s.LeadID] = lead
	return nil
}

func (r *EngagementRepo) ListLeadStates(ctx context.Context, filter engagement.LeadFilter) ([]domain.LeadState, error) {
	r.db.mu.RLock()
	var out []domain.LeadState
	for _, s := range r.db.states {
		if filter.Matches(&s) {
			out = append(out, s)
		}
	}
	r.db.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.LeadState) int {
		if c := cmp.Compare(b.EngagementScore, a.EngagementScore); c != 0 {
			return c
		}
		return cmp.Compare(a.LeadID, b.LeadID)
	})
	if filter.Offset >= len(out) {
		return []domain.LeadState{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *EngagementRepo) ListLeadInteractions(ctx context.Context, leadID string) ([]domain.CampaignInteraction, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := make([]domain.CampaignInteraction, 0, len(r.db.interactions[leadID]))
	for _, ci := range r.db.interactions[leadID] {
		out = append(out, ci)
	}
	slices.SortFunc(out, func(a, b domain.CampaignInteraction) int {
		return cmp.Compare(a.CampaignID, b.CampaignID)
	})
	return out, nil
}

func (r *EngagementRepo) ListCampaignInteractions(ctx context.Context, campaignID string) ([]domain.CampaignInteraction, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := []domain.CampaignInteraction{}
	for _, rows := range r.db.interactions {
		if ci, ok := rows[campaignID]; ok {
			out = append(out, ci)
		}
	}
	slices.SortFunc(out, func(a, b domain.CampaignInteraction) int {
		return cmp.Compare(a.LeadID, b.LeadID)
	})
	return out, nil
}

func (r *EngagementRepo) CampaignCounts(ctx context.Context, campaignID string) (*domain.CampaignCounts, error) {
	rows, err := r.ListCampaignInteractions(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	counts := &domain.CampaignCounts{CampaignID: campaignID}
	for _, ci := range rows {
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
	return counts, nil
}
