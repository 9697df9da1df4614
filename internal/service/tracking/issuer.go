package tracking

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/leadtrack/internal/domain"
)

// IssueInput describes the email a token is minted for.
type IssueInput struct {
	LeadID      string  `json:"lead_id" validate:"required"`
	CampaignID  *string `json:"campaign_id,omitempty"`
	Subject     string  `json:"subject" validate:"required"`
	Destination string  `json:"destination,omitempty" validate:"omitempty,url"`
}

// IssuedToken is a persisted token plus the URLs to embed in the email body.
type IssuedToken struct {
	Token    domain.TrackingToken `json:"token"`
	PixelURL string               `json:"pixel_url"`
	ClickURL string               `json:"click_url"`

	baseURL string
}

// LinkFor returns a click URL for dest carrying this token. Use it for every
// additional link in the email body.
func (t *IssuedToken) LinkFor(dest string) string {
	return clickURL(t.baseURL, t.Token.ID, dest)
}

// Issuer mints tracking tokens. It is safe for concurrent use.
type Issuer struct {
	tokens      TokenRepository
	baseURL     string
	defaultDest string
	now         func() time.Time
}

// NewIssuer creates an issuer that builds URLs under baseURL. defaultDest is
// used for the click URL when an issue request has no destination.
func NewIssuer(tokens TokenRepository, baseURL, defaultDest string) *Issuer {
	return &Issuer{
		tokens:      tokens,
		baseURL:     strings.TrimRight(baseURL, "/"),
		defaultDest: defaultDest,
		now:         func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Issue mints a token, persists it with its "sent" event, and returns the
// pixel and click URLs. Every persistence error wraps ErrStoreUnavailable;
// the caller must not send the email.
func (i *Issuer) Issue(ctx context.Context, in IssueInput) (*IssuedToken, error) {
	leadID := strings.TrimSpace(in.LeadID)
	subject := strings.TrimSpace(in.Subject)
	if leadID == "" {
		return nil, fmt.Errorf("%w: lead_id is required", ErrInvalidInput)
	}
	if subject == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}

	var campaignID *string
	if in.CampaignID != nil && strings.TrimSpace(*in.CampaignID) != "" {
		c := strings.TrimSpace(*in.CampaignID)
		campaignID = &c
	}

	tokenID, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generate token id: %w", err)
	}
	eventID, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generate event id: %w", err)
	}

	now := i.now()
	tok := domain.TrackingToken{
		ID:         tokenID.String(),
		LeadID:     leadID,
		CampaignID: campaignID,
		Subject:    subject,
		CreatedAt:  now,
	}
	sent := domain.TrackingEvent{
		ID:         eventID.String(),
		TokenID:    tok.ID,
		Kind:       domain.EventSent,
		OccurredAt: now,
	}
	if err := i.tokens.Create(ctx, &tok, sent); err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return nil, fmt.Errorf("persist tracking token: %w", err)
		}
		return nil, fmt.Errorf("persist tracking token: %w: %w", ErrStoreUnavailable, err)
	}

	dest := strings.TrimSpace(in.Destination)
	if dest == "" {
		dest = i.defaultDest
	}
	return &IssuedToken{
		Token:    tok,
		PixelURL: i.baseURL + "/pixel/" + tok.ID,
		ClickURL: clickURL(i.baseURL, tok.ID, dest),
		baseURL:  i.baseURL,
	}, nil
}

func clickURL(base, tokenID, dest string) string {
	u := base + "/click/" + tokenID
	if dest != "" {
		u += "?dest=" + url.QueryEscape(dest)
	}
	return u
}
