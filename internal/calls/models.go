package calls

import "time"

// Call is the durable record of one dialer-placed call.
//
// ExternalSID ties the row 1:1 to a provider call leg. Disposition stays empty
// until the agent closes the call out; Status is completed from then on.
type Call struct {
	ID         string `json:"id" db:"id"`
	SessionID  string `json:"session_id,omitempty" db:"session_id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	ContactID  string `json:"contact_id" db:"contact_id"`
	LeadID     string `json:"lead_id" db:"lead_id"`
	AgentID    string `json:"agent_id" db:"agent_id"`

	Direction   Direction `json:"direction" db:"direction"`
	ExternalSID string    `json:"external_sid" db:"external_sid"`
	To          string    `json:"to" db:"to_number"`
	From        string    `json:"from,omitempty" db:"from_number"`

	Status Status `json:"status" db:"status"`
	// ProviderStatus is the last raw status the carrier reported (e.g. "no-answer").
	ProviderStatus  string `json:"provider_status,omitempty" db:"provider_status"`
	DurationSeconds int    `json:"duration" db:"duration_seconds"`

	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	Disposition string `json:"disposition,omitempty" db:"disposition"`
	Notes       string `json:"notes,omitempty" db:"notes"`
	Transcript  string `json:"transcript,omitempty" db:"transcript"`
	// Feedback is the agent's free-form review of the call (coaching, quality).
	Feedback string `json:"feedback,omitempty" db:"feedback"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (c Call) Completed() bool { return c.Status == StatusCompleted }

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Status is the internal call lifecycle:
// initiated -> ringing -> answered -> completed.
// The provider's in-progress report is the answer signal and maps to answered.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusRinging   Status = "ringing"
	StatusAnswered  Status = "answered"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	return s.rank() > 0
}

func (s Status) rank() int {
	switch s {
	case StatusInitiated:
		return 1
	case StatusRinging:
		return 2
	case StatusAnswered:
		return 3
	case StatusCompleted:
		return 4
	default:
		return 0
	}
}

// Advances reports whether moving from s to next goes forward without closing the call.
// Completion only happens through Finalize.
func (s Status) Advances(next Status) bool {
	if s == StatusCompleted || next == StatusCompleted {
		return false
	}
	return next.rank() > s.rank()
}

// Progress is a non-terminal update reported by the provider.
type Progress struct {
	Status          Status
	ProviderStatus  string
	DurationSeconds int
	AnsweredAt      *time.Time
	At              time.Time
}

// Final closes a call out.
type Final struct {
	Disposition     string
	Notes           string
	Transcript      string
	Feedback        string
	EndedAt         time.Time
	ProviderStatus  string
	DurationSeconds int
}
