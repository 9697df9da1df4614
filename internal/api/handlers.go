// Package api serves the dashboard and sender-facing JSON endpoints: token
// issuance, lead engagement reads and operator recompute tools.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/leadtrack/internal/domain"
	"github.com/ignite/leadtrack/internal/pkg/httputil"
	"github.com/ignite/leadtrack/internal/service/engagement"
	"github.com/ignite/leadtrack/internal/service/tracking"
)

// maxLeadsPage caps limit on GET /api/leads.
const maxLeadsPage = 500

// Handlers holds the services behind the API routes.
type Handlers struct {
	issuer *tracking.Issuer
	view   *engagement.View
	agg    *engagement.Aggregator
}

// NewHandlers creates the API handlers.
func NewHandlers(issuer *tracking.Issuer, view *engagement.View, agg *engagement.Aggregator) *Handlers {
	return &Handlers{issuer: issuer, view: view, agg: agg}
}

// IssueTokenResponse is returned by POST /api/tokens.
type IssueTokenResponse struct {
	TokenID  string `json:"token_id"`
	PixelURL string `json:"pixel_url"`
	ClickURL string `json:"click_url"`
}

// IssueToken handles POST /api/tokens. A 503 means the token could not be
// persisted and the email must not be sent.
func (h *Handlers) IssueToken(w http.ResponseWriter, r *http.Request) {
	var in tracking.IssueInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	issued, err := h.issuer.Issue(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, IssueTokenResponse{
		TokenID:  issued.Token.ID,
		PixelURL: issued.PixelURL,
		ClickURL: issued.ClickURL,
	})
}

// GetLeadEngagement handles GET /api/leads/{id}/engagement.
func (h *Handlers) GetLeadEngagement(w http.ResponseWriter, r *http.Request) {
	state, err := h.view.GetLeadEngagement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, state)
}

// ListLeads handles GET /api/leads?engagement=&opened=&clicked=&limit=&offset=.
func (h *Handlers) ListLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := engagement.LeadFilter{Tier: domain.EngagementTier(q.Get("engagement"))}

	var err error
	if filter.Opened, err = boolParam(q.Get("opened")); err != nil {
		httputil.BadRequest(w, "opened must be a boolean")
		return
	}
	if filter.Clicked, err = boolParam(q.Get("clicked")); err != nil {
		httputil.BadRequest(w, "clicked must be a boolean")
		return
	}
	page, err := ParsePage(r, maxLeadsPage)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	filter.Limit, filter.Offset = page.Limit, page.Offset

	leads, err := h.view.ListLeads(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"leads":  leads,
		"count":  len(leads),
		"paging": page,
	})
}

// RecomputeLead handles POST /api/leads/{id}/recompute.
func (h *Handlers) RecomputeLead(w http.ResponseWriter, r *http.Request) {
	state, err := h.agg.Recompute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, state)
}

// GetCampaignInteractions handles GET /api/campaigns/{id}/interactions.
func (h *Handlers) GetCampaignInteractions(w http.ResponseWriter, r *http.Request) {
	counts, err := h.view.GetCampaignInteractions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, counts)
}

// ListCampaignInteractions handles GET /api/campaigns/{id}/interactions/leads.
func (h *Handlers) ListCampaignInteractions(w http.ResponseWriter, r *http.Request) {
	rows, err := h.view.ListCampaignInteractions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"interactions": rows,
		"count":        len(rows),
	})
}

// VerifyCampaignInteractions handles GET /api/campaigns/{id}/interactions/verify:
// the cached rollup next to one replayed from the log.
func (h *Handlers) VerifyCampaignInteractions(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")
	replayed, err := h.view.CountsFromLog(r.Context(), campaignID)
	if err != nil {
		writeError(w, err)
		return
	}
	cached, err := h.view.GetCampaignInteractions(r.Context(), campaignID)
	if err != nil && !errors.Is(err, engagement.ErrNotFound) {
		writeError(w, err)
		return
	}
	if cached == nil {
		cached = &domain.CampaignCounts{CampaignID: campaignID}
	}
	httputil.OK(w, map[string]any{
		"cached":   cached,
		"replayed": replayed,
		"match":    cached.Sent == replayed.Sent && cached.Opened == replayed.Opened && cached.Clicked == replayed.Clicked,
	})
}

// RebuildCampaign handles POST /api/campaigns/{id}/rebuild.
func (h *Handlers) RebuildCampaign(w http.ResponseWriter, r *http.Request) {
	rebuilt, err := h.agg.RebuildCampaign(r.Context(), chi.URLParam(r, "id"))
	resp := map[string]any{"rebuilt": rebuilt}
	if err != nil {
		resp["error"] = err.Error()
		httputil.JSON(w, http.StatusMultiStatus, resp)
		return
	}
	httputil.OK(w, resp)
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tracking.ErrInvalidInput):
		httputil.JSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error(), Code: "invalid_input"})
	case errors.Is(err, engagement.ErrNotFound):
		httputil.NotFound(w, "not found")
	case errors.Is(err, tracking.ErrStoreUnavailable):
		httputil.Unavailable(w, err)
	default:
		httputil.InternalError(w, err)
	}
}

func boolParam(v string) (*bool, error) {
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
