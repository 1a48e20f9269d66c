package campaigns

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu        sync.Mutex
	campaigns map[string]Campaign
	contacts  map[string]Contact
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		campaigns: make(map[string]Campaign),
		contacts:  make(map[string]Contact),
	}
}

// PutCampaign inserts or replaces a campaign.
func (r *MemoryRepo) PutCampaign(c Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = c
}

// PutContact inserts or replaces a contact.
func (r *MemoryRepo) PutContact(c Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.Status == "" {
		c.Status = ContactPending
	}
	r.contacts[c.ID] = c
}

func (r *MemoryRepo) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) ListContacts(ctx context.Context, campaignID string) ([]Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Contact, 0)
	for _, c := range r.contacts {
		if c.CampaignID == campaignID {
			out = append(out, c)
		}
	}
	SortForDialing(out)
	return out, nil
}

func (r *MemoryRepo) GetContact(ctx context.Context, id string) (Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) ClaimContact(ctx context.Context, id string, now time.Time) (Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok {
		return Contact{}, ErrNotFound
	}
	if c.Status != ContactPending {
		return c, ErrNotClaimable
	}
	at := now.UTC()
	c.Status = ContactDialing
	c.AttemptCount++
	c.LastAttemptAt = &at
	c.NextAttemptAt = nil
	r.contacts[id] = c
	return c, nil
}

func (r *MemoryRepo) SettleContact(ctx context.Context, id string, s Settlement) (Contact, error) {
	if err := validateSettlement(s); err != nil {
		return Contact{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok {
		return Contact{}, ErrNotFound
	}
	if c.Status != ContactDialing {
		return c, ErrInvalidTransition
	}
	c.Status = s.Status
	c.NextAttemptAt = nil
	if s.Status == ContactPending && s.NextAttemptAt != nil {
		at := s.NextAttemptAt.UTC()
		c.NextAttemptAt = &at
	}
	if s.Disposition != "" {
		c.LastDisposition = s.Disposition
	}
	r.contacts[id] = c
	return c, nil
}
