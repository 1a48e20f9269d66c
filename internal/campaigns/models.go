package campaigns

import "time"

type Campaign struct {
	ID     string         `json:"id" db:"id"`
	Name   string         `json:"name" db:"name"`
	Status CampaignStatus `json:"status" db:"status"`
	// CallerID is the number presented to leads; empty means the provider default.
	CallerID  string    `json:"caller_id,omitempty" db:"caller_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// Contact is a lead's membership in one campaign. Its dialing status is
// independent of the lead's global pipeline status.
type Contact struct {
	ID         string `json:"id" db:"id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	LeadID     string `json:"lead_id" db:"lead_id"`
	LeadName   string `json:"lead_name,omitempty" db:"lead_name"`
	Phone      string `json:"phone" db:"phone"`

	Status       ContactStatus `json:"status" db:"status"`
	AttemptCount int           `json:"attempt_count" db:"attempt_count"`

	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	// NextAttemptAt gates a pending contact until the retry time has passed.
	NextAttemptAt   *time.Time `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	LastDisposition string     `json:"last_disposition,omitempty" db:"last_disposition"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DueAt reports whether a pending contact may be dialed at now.
func (c Contact) DueAt(now time.Time) bool {
	if c.Status != ContactPending {
		return false
	}
	return c.NextAttemptAt == nil || !c.NextAttemptAt.After(now)
}

type ContactStatus string

const (
	ContactPending   ContactStatus = "pending"
	ContactDialing   ContactStatus = "dialing"
	ContactCompleted ContactStatus = "completed"
	ContactFailed    ContactStatus = "failed"
	ContactSkipped   ContactStatus = "skipped"
)

func (s ContactStatus) Valid() bool {
	switch s {
	case ContactPending, ContactDialing, ContactCompleted, ContactFailed, ContactSkipped:
		return true
	default:
		return false
	}
}

// Settlement is the outcome applied to a dialing contact.
type Settlement struct {
	Status        ContactStatus
	NextAttemptAt *time.Time
	Disposition   string
}
