package audit

import "time"

// Event is an append-only record of dialer activity.
//
// Events are never updated or deleted. Writers treat audit as best-effort and
// never fail a dialer operation because an event could not be stored.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	// AgentID is the user on whose behalf the dialer acted, if any.
	AgentID string `json:"agent_id,omitempty" db:"agent_id"`

	SessionID  string `json:"session_id,omitempty" db:"session_id"`
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	ContactID  string `json:"contact_id,omitempty" db:"contact_id"`
	CallID     string `json:"call_id,omitempty" db:"call_id"`

	Message string `json:"message,omitempty" db:"message"`
	// Metadata is optional JSON with event specific details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventSessionStarted       EventType = "session_started"
	EventSessionStopped       EventType = "session_stopped"
	EventContactClaimed       EventType = "contact_claimed"
	EventContactSkipped       EventType = "contact_skipped"
	EventCallPlaced           EventType = "call_placed"
	EventCallFailed           EventType = "call_failed"
	EventCallHungUp           EventType = "call_hung_up"
	EventDispositionSubmitted EventType = "disposition_submitted"
	EventProviderStatus       EventType = "provider_status"
)

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	SessionID  string
	CampaignID string
	CallID     string
	Limit      int
}
