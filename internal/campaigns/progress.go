package campaigns

import "time"

// Progress is derived from the contact rows on every read; nothing is stored.
type Progress struct {
	CampaignID string `json:"campaign_id"`
	Total      int    `json:"total"`
	Pending    int    `json:"pending"`
	// Due counts pending contacts whose retry time has passed.
	Due       int `json:"due"`
	Dialing   int `json:"dialing"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Attempts  int `json:"attempts"`

	// NextDueAt is the earliest retry time among pending contacts that are not due yet.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`
}

// Exhausted reports that no contact can ever be dialed again.
func (p Progress) Exhausted() bool { return p.Pending == 0 && p.Dialing == 0 }

func Summarize(campaignID string, contacts []Contact, now time.Time) Progress {
	p := Progress{CampaignID: campaignID}
	for _, c := range contacts {
		p.Total++
		p.Attempts += c.AttemptCount
		switch c.Status {
		case ContactPending:
			p.Pending++
			if c.DueAt(now) {
				p.Due++
			} else if p.NextDueAt == nil || c.NextAttemptAt.Before(*p.NextDueAt) {
				at := *c.NextAttemptAt
				p.NextDueAt = &at
			}
		case ContactDialing:
			p.Dialing++
		case ContactCompleted:
			p.Completed++
		case ContactFailed:
			p.Failed++
		case ContactSkipped:
			p.Skipped++
		}
	}
	return p
}
