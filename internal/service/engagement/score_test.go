package engagement

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/ignite/leadtrack/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func ev(id, token string, kind domain.EventKind, at time.Time) domain.TrackingEvent {
	return domain.TrackingEvent{ID: id, TokenID: token, Kind: kind, OccurredAt: at}
}

func token(id, lead, campaign string) domain.TrackingToken {
	tok := domain.TrackingToken{ID: id, LeadID: lead, CreatedAt: t0}
	if campaign != "" {
		tok.CampaignID = strPtr(campaign)
	}
	return tok
}

func TestDedupe_CollapsesHitsWithinWindow(t *testing.T) {
	events := []domain.TrackingEvent{
		ev("e1", "T1", domain.EventOpened, t0),
		ev("e2", "T1", domain.EventOpened, t0.Add(2*time.Second)),
		ev("e3", "T1", domain.EventOpened, t0.Add(5*time.Second)),
		ev("e4", "T1", domain.EventOpened, t0.Add(40*time.Second)),
	}
	got := Dedupe(events, 5*time.Minute)
	if len(got) != 1 || got[0].ID != "e1" {
		t.Fatalf("Dedupe = %+v, want only e1", got)
	}
}

func TestDedupe_ClustersFromFirstEvent(t *testing.T) {
	events := []domain.TrackingEvent{
		ev("a", "T1", domain.EventOpened, t0),
		ev("b", "T1", domain.EventOpened, t0.Add(4*time.Minute)),
		ev("c", "T1", domain.EventOpened, t0.Add(6*time.Minute)),
		ev("d", "T1", domain.EventOpened, t0.Add(10*time.Minute)),
	}
	got := Dedupe(events, 5*time.Minute)
	var ids []string
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	if !reflect.DeepEqual(ids, []string{"a", "c"}) {
		t.Fatalf("cluster heads = %v, want [a c]", ids)
	}
}

func TestDedupe_KeysByTokenAndKind(t *testing.T) {
	events := []domain.TrackingEvent{
		ev("a", "T1", domain.EventOpened, t0),
		ev("b", "T1", domain.EventClicked, t0.Add(time.Second)),
		ev("c", "T2", domain.EventOpened, t0.Add(time.Second)),
	}
	if got := Dedupe(events, 5*time.Minute); len(got) != 3 {
		t.Fatalf("Dedupe merged different tokens or kinds: %+v", got)
	}
}

func TestDedupe_ZeroWindowKeepsEverything(t *testing.T) {
	events := []domain.TrackingEvent{
		ev("a", "T1", domain.EventOpened, t0),
		ev("b", "T1", domain.EventOpened, t0),
		ev("a", "T1", domain.EventOpened, t0),
	}
	if got := Dedupe(events, 0); len(got) != 2 {
		t.Fatalf("Dedupe(window=0) = %d events, want 2 (duplicate ids still collapse)", len(got))
	}
}

func TestCompute_ScenarioOpenedThenClicked(t *testing.T) {
	tokens := []domain.TrackingToken{token("T1", "L1", "C7")}
	clickAt := t0.Add(20 * time.Minute)
	events := []domain.TrackingEvent{
		ev("s1", "T1", domain.EventSent, t0),
		ev("o1", "T1", domain.EventOpened, t0.Add(10*time.Minute)),
		ev("o2", "T1", domain.EventOpened, t0.Add(10*time.Minute+3*time.Second)),
		ev("o3", "T1", domain.EventOpened, t0.Add(10*time.Minute+9*time.Second)),
		ev("k1", "T1", domain.EventClicked, clickAt),
	}

	state := Compute("L1", tokens, events, DefaultPolicy(), t0.Add(time.Hour))

	if state.EngagementScore != 3 {
		t.Errorf("score = %d, want 3", state.EngagementScore)
	}
	if state.Tier != domain.TierHigh {
		t.Errorf("tier = %s, want high", state.Tier)
	}
	if state.RawOpens != 3 || state.UniqueOpens != 1 {
		t.Errorf("opens raw=%d unique=%d, want 3/1", state.RawOpens, state.UniqueOpens)
	}
	if state.LastLinkClicked == nil || !state.LastLinkClicked.Equal(clickAt) {
		t.Errorf("last_link_clicked = %v, want %v", state.LastLinkClicked, clickAt)
	}
	if state.LastEmailSent == nil || !state.LastEmailSent.Equal(t0) {
		t.Errorf("last_email_sent = %v", state.LastEmailSent)
	}
	if len(state.Campaigns) != 1 {
		t.Fatalf("campaigns = %+v", state.Campaigns)
	}
	ci := state.Campaigns[0]
	if ci.CampaignID != "C7" || ci.LeadID != "L1" {
		t.Errorf("interaction keys = %s/%s", ci.CampaignID, ci.LeadID)
	}
	if ci.FirstClickedAt == nil || !ci.FirstClickedAt.Equal(clickAt) {
		t.Errorf("first_clicked_at = %v, want %v", ci.FirstClickedAt, clickAt)
	}
	if ci.FirstOpenedAt == nil || !ci.FirstOpenedAt.Equal(t0.Add(10*time.Minute)) {
		t.Errorf("first_opened_at = %v", ci.FirstOpenedAt)
	}
	if ci.OpenCount != 1 || ci.ClickCount != 1 {
		t.Errorf("counts open=%d click=%d, want 1/1", ci.OpenCount, ci.ClickCount)
	}
}

func TestCompute_ClickWithoutOpenCountsFully(t *testing.T) {
	tokens := []domain.TrackingToken{token("T2", "L1", "")}
	events := []domain.TrackingEvent{
		ev("s", "T2", domain.EventSent, t0),
		ev("k", "T2", domain.EventClicked, t0.Add(time.Minute)),
	}
	state := Compute("L1", tokens, events, DefaultPolicy(), t0)
	if state.EngagementScore != 2 {
		t.Fatalf("score = %d, want 2", state.EngagementScore)
	}
	if state.LastEmailOpened != nil {
		t.Errorf("last_email_opened = %v, want nil", state.LastEmailOpened)
	}
	if state.Tier != domain.TierMedium {
		t.Errorf("tier = %s, want medium", state.Tier)
	}
}

func TestCompute_SpacedHitsScoreOncePerToken(t *testing.T) {
	tokens := []domain.TrackingToken{token("T1", "L1", "")}
	var events []domain.TrackingEvent
	for i := 0; i < 5; i++ {
		events = append(events, ev(fmt.Sprintf("o%d", i), "T1", domain.EventOpened, t0.Add(time.Duration(i)*time.Hour)))
	}
	state := Compute("L1", tokens, events, DefaultPolicy(), t0)
	if state.EngagementScore != 1 {
		t.Fatalf("score = %d, want 1", state.EngagementScore)
	}
	if state.UniqueOpens != 5 {
		t.Errorf("unique opens = %d, want 5", state.UniqueOpens)
	}
}

func TestCompute_SumsAcrossTokensWithCeiling(t *testing.T) {
	var tokens []domain.TrackingToken
	var events []domain.TrackingEvent
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("T%d", i)
		tokens = append(tokens, token(id, "L1", "C1"))
		events = append(events,
			ev(id+"-o", id, domain.EventOpened, t0),
			ev(id+"-k", id, domain.EventClicked, t0),
		)
	}

	policy := DefaultPolicy()
	policy.Ceiling = 0
	if got := Compute("L1", tokens, events, policy, t0).EngagementScore; got != 15 {
		t.Errorf("uncapped score = %d, want 15", got)
	}

	policy.Ceiling = 10
	if got := Compute("L1", tokens, events, policy, t0).EngagementScore; got != 10 {
		t.Errorf("capped score = %d, want 10", got)
	}
}

func TestCompute_AdjustHook(t *testing.T) {
	tokens := []domain.TrackingToken{token("T1", "L1", "")}
	events := []domain.TrackingEvent{ev("k", "T1", domain.EventClicked, t0)}

	policy := DefaultPolicy()
	policy.Adjust = func(score int, deduped []domain.TrackingEvent, asOf time.Time) int {
		if asOf.Sub(deduped[len(deduped)-1].OccurredAt) > 30*24*time.Hour {
			return score / 2
		}
		return score
	}

	if got := Compute("L1", tokens, events, policy, t0.Add(time.Hour)).EngagementScore; got != 2 {
		t.Errorf("fresh score = %d, want 2", got)
	}
	if got := Compute("L1", tokens, events, policy, t0.Add(60*24*time.Hour)).EngagementScore; got != 1 {
		t.Errorf("decayed score = %d, want 1", got)
	}
}

func TestCompute_OrderIndependent(t *testing.T) {
	tokens := []domain.TrackingToken{token("T1", "L1", "C1"), token("T2", "L1", "C2"), token("T3", "L1", "C1")}
	events := []domain.TrackingEvent{
		ev("1", "T1", domain.EventSent, t0),
		ev("2", "T2", domain.EventSent, t0.Add(time.Minute)),
		ev("3", "T3", domain.EventSent, t0.Add(2*time.Minute)),
		ev("4", "T1", domain.EventOpened, t0.Add(3*time.Minute)),
		ev("5", "T1", domain.EventOpened, t0.Add(3*time.Minute)),
		ev("6", "T1", domain.EventOpened, t0.Add(7*time.Minute)),
		ev("7", "T1", domain.EventOpened, t0.Add(9*time.Minute)),
		ev("8", "T2", domain.EventClicked, t0.Add(4*time.Minute)),
		ev("9", "T3", domain.EventOpened, t0.Add(time.Hour)),
		ev("10", "T3", domain.EventClicked, t0.Add(time.Hour+time.Second)),
		ev("11", "T3", domain.EventClicked, t0.Add(2*time.Hour)),
	}
	asOf := t0.Add(24 * time.Hour)
	want := Compute("L1", tokens, events, DefaultPolicy(), asOf)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		shuffled := append([]domain.TrackingEvent(nil), events...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := Compute("L1", tokens, shuffled, DefaultPolicy(), asOf)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("permutation %d changed the result:\n got  %+v\n want %+v", i, got, want)
		}
	}
	if want.EngagementScore != 1+2+1+2 {
		t.Errorf("score = %d, want 6", want.EngagementScore)
	}
}

func TestCompute_Idempotent(t *testing.T) {
	tokens := []domain.TrackingToken{token("T1", "L1", "C1")}
	events := []domain.TrackingEvent{
		ev("1", "T1", domain.EventSent, t0),
		ev("2", "T1", domain.EventOpened, t0.Add(time.Minute)),
	}
	a := Compute("L1", tokens, events, DefaultPolicy(), t0)
	b := Compute("L1", tokens, events, DefaultPolicy(), t0)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("replaying the same log gave different states")
	}
	if len(Diff(a, b)) != 0 {
		t.Fatalf("Diff of identical states = %v", Diff(a, b))
	}
}

func TestDiff_ReportsChangedFields(t *testing.T) {
	opened := t0.Add(time.Minute)
	cached := &domain.LeadState{LeadID: "L1", EngagementScore: 9, RawOpens: 1}
	fresh := &domain.LeadState{LeadID: "L1", EngagementScore: 1, RawOpens: 1, LastEmailOpened: &opened}

	got := Diff(cached, fresh)
	want := []string{"engagement_score", "last_email_opened"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Diff = %v, want %v", got, want)
	}
}

func TestDiff_IgnoresSubMicrosecond(t *testing.T) {
	a := t0.Add(1500 * time.Nanosecond)
	b := t0.Add(1000 * time.Nanosecond)
	cached := &domain.LeadState{LastEmailSent: &a}
	fresh := &domain.LeadState{LastEmailSent: &b}
	if got := Diff(cached, fresh); len(got) != 0 {
		t.Fatalf("Diff = %v, want none", got)
	}
}
