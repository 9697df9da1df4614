package api_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/leadtrack/internal/api"
	"github.com/ignite/leadtrack/internal/domain"
	"github.com/ignite/leadtrack/internal/repository/memory"
	"github.com/ignite/leadtrack/internal/service/engagement"
	"github.com/ignite/leadtrack/internal/service/tracking"
)

type apiEnv struct {
	db     *memory.DB
	router http.Handler
}

func newAPI(t *testing.T) *apiEnv {
	t.Helper()
	db := memory.New()
	issuer := tracking.NewIssuer(db.Tokens(), "https://t.example.com", "https://www.example.com/")
	agg := engagement.NewAggregator(db.Tokens(), db.Events(), db.Engagement(), engagement.DefaultPolicy())
	view := engagement.NewView(db.Engagement(), agg, db.Tokens())

	r := chi.NewRouter()
	api.SetupRoutes(r, api.NewHandlers(issuer, view, agg), api.RouterConfig{CORSOrigins: []string{"*"}})
	return &apiEnv{db: db, router: r}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// issue creates a token through the API and returns its id.
func (e *apiEnv) issue(t *testing.T, leadID, campaignID string) string {
	t.Helper()
	body := map[string]any{"lead_id": leadID, "subject": "Spring offer"}
	if campaignID != "" {
		body["campaign_id"] = campaignID
	}
	rec := e.do(t, http.MethodPost, "/api/tokens", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.IssueTokenResponse](t, rec).TokenID
}

func (e *apiEnv) hit(t *testing.T, tokenID string, kind domain.EventKind, at time.Time) {
	t.Helper()
	_, err := e.db.Events().Append(context.Background(), domain.TrackingEvent{TokenID: tokenID, Kind: kind, OccurredAt: at})
	require.NoError(t, err)
}

func TestIssueToken(t *testing.T) {
	e := newAPI(t)

	rec := e.do(t, http.MethodPost, "/api/tokens", map[string]any{
		"lead_id":     "lead-1",
		"campaign_id": "camp-7",
		"subject":     "Spring offer",
		"destination": "https://www.example.com/spring",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[api.IssueTokenResponse](t, rec)
	assert.NotEmpty(t, resp.TokenID)
	assert.Equal(t, "https://t.example.com/pixel/"+resp.TokenID, resp.PixelURL)
	assert.Contains(t, resp.ClickURL, "/click/"+resp.TokenID+"?dest=")

	evs, err := e.db.Events().ListByToken(context.Background(), resp.TokenID)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventSent, evs[0].Kind)
}

func TestIssueToken_Validation(t *testing.T) {
	e := newAPI(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing lead", map[string]any{"subject": "Hi"}},
		{"missing subject", map[string]any{"lead_id": "lead-1"}},
		{"bad destination", map[string]any{"lead_id": "lead-1", "subject": "Hi", "destination": "not a url"}},
		{"blank subject", map[string]any{"lead_id": "lead-1", "subject": "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/api/tokens", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	assert.Zero(t, e.db.EventCount())
}

type brokenTokens struct{ tracking.TokenRepository }

func (brokenTokens) Create(context.Context, *domain.TrackingToken, domain.TrackingEvent) error {
	return errors.New("pq: column \"subject\" does not exist")
}

func TestIssueToken_PersistenceFailureIsUnavailable(t *testing.T) {
	db := memory.New()
	issuer := tracking.NewIssuer(brokenTokens{db.Tokens()}, "https://t.example.com", "https://www.example.com/")
	agg := engagement.NewAggregator(db.Tokens(), db.Events(), db.Engagement(), engagement.DefaultPolicy())
	view := engagement.NewView(db.Engagement(), agg, db.Tokens())
	r := chi.NewRouter()
	api.SetupRoutes(r, api.NewHandlers(issuer, view, agg), api.RouterConfig{})
	e := &apiEnv{db: db, router: r}

	rec := e.do(t, http.MethodPost, "/api/tokens", map[string]any{"lead_id": "lead-1", "subject": "Hi"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	assert.Zero(t, db.EventCount())
}

func TestLeadEngagement_AfterRecompute(t *testing.T) {
	e := newAPI(t)
	tok := e.issue(t, "lead-1", "camp-7")
	now := time.Now().UTC()
	e.hit(t, tok, domain.EventOpened, now)
	e.hit(t, tok, domain.EventClicked, now.Add(time.Minute))

	rec := e.do(t, http.MethodPost, "/api/leads/lead-1/recompute", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, decode[domain.LeadState](t, rec).EngagementScore)

	rec = e.do(t, http.MethodGet, "/api/leads/lead-1/engagement", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[domain.LeadState](t, rec)
	assert.Equal(t, domain.TierHigh, state.Tier)
	require.Len(t, state.Campaigns, 1)
	assert.Equal(t, "camp-7", state.Campaigns[0].CampaignID)
}

func TestLeadEngagement_Unknown(t *testing.T) {
	e := newAPI(t)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/leads/nobody/engagement", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/api/leads/nobody/recompute", nil).Code)
}

func TestListLeads(t *testing.T) {
	e := newAPI(t)
	now := time.Now().UTC()

	hot := e.issue(t, "lead-hot", "camp-1")
	e.hit(t, hot, domain.EventOpened, now)
	e.hit(t, hot, domain.EventClicked, now)
	warm := e.issue(t, "lead-warm", "camp-1")
	e.hit(t, warm, domain.EventClicked, now)
	e.issue(t, "lead-cold", "camp-1")

	rec := e.do(t, http.MethodPost, "/api/campaigns/camp-1/rebuild", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	type listResp struct {
		Leads []domain.LeadState `json:"leads"`
		Count int                `json:"count"`
	}

	got := decode[listResp](t, e.do(t, http.MethodGet, "/api/leads?engagement=high", nil))
	require.Equal(t, 1, got.Count)
	assert.Equal(t, "lead-hot", got.Leads[0].LeadID)

	got = decode[listResp](t, e.do(t, http.MethodGet, "/api/leads?clicked=1", nil))
	assert.Equal(t, 2, got.Count)

	got = decode[listResp](t, e.do(t, http.MethodGet, "/api/leads?clicked=false", nil))
	require.Equal(t, 1, got.Count)
	assert.Equal(t, "lead-cold", got.Leads[0].LeadID)

	got = decode[listResp](t, e.do(t, http.MethodGet, "/api/leads?limit=2", nil))
	assert.Equal(t, 2, got.Count)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/leads?engagement=scorching", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/leads?opened=maybe", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/leads?limit=ten", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/leads?offset=-1", nil).Code)
}

func TestCampaignInteractions(t *testing.T) {
	e := newAPI(t)
	now := time.Now().UTC()
	a := e.issue(t, "lead-a", "camp-9")
	e.hit(t, a, domain.EventOpened, now)
	e.issue(t, "lead-b", "camp-9")

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/campaigns/camp-9/interactions", nil).Code)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/campaigns/camp-9/rebuild", nil).Code)

	rec := e.do(t, http.MethodGet, "/api/campaigns/camp-9/interactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	counts := decode[domain.CampaignCounts](t, rec)
	assert.Equal(t, 2, counts.Sent)
	assert.Equal(t, 1, counts.Opened)
	assert.InDelta(t, 50.0, counts.OpenRate, 0.001)

	rec = e.do(t, http.MethodGet, "/api/campaigns/camp-9/interactions/leads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode[map[string]any](t, rec)["count"])

	rec = e.do(t, http.MethodGet, "/api/campaigns/camp-9/interactions/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["match"])
}

func TestMetricsEndpoint(t *testing.T) {
	e := newAPI(t)
	rec := e.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "leadtrack_")
}

func TestParsePage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/leads?limit=900&offset=20", nil)
	p, err := api.ParsePage(req, 500)
	require.NoError(t, err)
	assert.Equal(t, api.PageParams{Limit: 500, Offset: 20}, p)

	p, err = api.ParsePage(httptest.NewRequest(http.MethodGet, "/api/leads", nil), 500)
	require.NoError(t, err)
	assert.Zero(t, p)
}
