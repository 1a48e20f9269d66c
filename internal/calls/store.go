package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("calls: not found")
	ErrAlreadyCompleted = errors.New("calls: already completed")
	ErrDuplicateSID     = errors.New("calls: external sid already recorded")
	ErrInvalidCall      = errors.New("calls: invalid call")
)

// Store persists call records.
//
// Finalize is the single point where a call becomes completed and must be
// conditional: of two concurrent finalizations exactly one succeeds, the other
// gets ErrAlreadyCompleted.
type Store interface {
	Create(ctx context.Context, c Call) (Call, error)
	Get(ctx context.Context, id string) (Call, error)

	// RecordProgress applies a forward-only, non-terminal update. It is a no-op
	// (returning the current row) for completed calls or backward moves.
	RecordProgress(ctx context.Context, id string, p Progress) (Call, error)
	Finalize(ctx context.Context, id string, f Final) (Call, error)

	// ListByCampaign returns calls started in [from, to), oldest first.
	ListByCampaign(ctx context.Context, campaignID string, from, to time.Time) ([]Call, error)
}

func validateNew(c Call) error {
	if c.ID == "" || c.CampaignID == "" || c.ContactID == "" || c.AgentID == "" {
		return ErrInvalidCall
	}
	if c.ExternalSID == "" || c.To == "" {
		return ErrInvalidCall
	}
	if !c.Status.Valid() || c.Status == StatusCompleted {
		return ErrInvalidCall
	}
	return nil
}

// applyProgress mutates c in place and reports whether anything changed.
func applyProgress(c *Call, p Progress) bool {
	if c.Completed() {
		return false
	}
	changed := false
	if p.Status != "" && c.Status.Advances(p.Status) {
		c.Status = p.Status
		changed = true
	}
	if p.ProviderStatus != "" && p.ProviderStatus != c.ProviderStatus {
		c.ProviderStatus = p.ProviderStatus
		changed = true
	}
	if p.DurationSeconds > c.DurationSeconds {
		c.DurationSeconds = p.DurationSeconds
		changed = true
	}
	if p.AnsweredAt != nil && c.AnsweredAt == nil {
		at := p.AnsweredAt.UTC()
		c.AnsweredAt = &at
		changed = true
	}
	if changed {
		c.UpdatedAt = p.At.UTC()
	}
	return changed
}

func applyFinal(c *Call, f Final) {
	ended := f.EndedAt.UTC()
	c.Status = StatusCompleted
	c.Disposition = f.Disposition
	c.Notes = f.Notes
	c.Transcript = f.Transcript
	c.Feedback = f.Feedback
	c.EndedAt = &ended
	if f.ProviderStatus != "" {
		c.ProviderStatus = f.ProviderStatus
	}
	if f.DurationSeconds > c.DurationSeconds {
		c.DurationSeconds = f.DurationSeconds
	}
	c.UpdatedAt = ended
}
