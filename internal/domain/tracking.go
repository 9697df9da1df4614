package domain

import "time"

// EventKind enumerates the kinds of raw tracking events in the event log.
type EventKind string

const (
	EventSent    EventKind = "sent"
	EventOpened  EventKind = "opened"
	EventClicked EventKind = "clicked"
)

// Valid reports whether k is one of the known event kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventSent, EventOpened, EventClicked:
		return true
	}
	return false
}

// TrackingToken binds one outbound email to a lead (and optionally a
// campaign). It is immutable once issued.
type TrackingToken struct {
	ID         string    `json:"token_id" db:"token_id"`
	LeadID     string    `json:"lead_id" db:"lead_id"`
	CampaignID *string   `json:"campaign_id,omitempty" db:"campaign_id"`
	Subject    string    `json:"subject" db:"subject"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ClientMeta is request metadata captured alongside a beacon hit.
type ClientMeta struct {
	IPAddress   string `json:"ip_address,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	DeviceType  string `json:"device_type,omitempty"`
	Scanner     bool   `json:"scanner,omitempty"`
	Destination string `json:"destination,omitempty"`
}

// TrackingEvent is a single append-only record in the event log.
// LeadID and CampaignID are read-side joins from the owning token and are
// never written by an append.
type TrackingEvent struct {
	ID         string     `json:"event_id" db:"event_id"`
	TokenID    string     `json:"token_id" db:"token_id"`
	Kind       EventKind  `json:"kind" db:"kind"`
	OccurredAt time.Time  `json:"occurred_at" db:"occurred_at"`
	Meta       ClientMeta `json:"client_meta" db:"client_meta"`

	LeadID     string  `json:"lead_id,omitempty" db:"lead_id"`
	CampaignID *string `json:"campaign_id,omitempty" db:"campaign_id"`
}
