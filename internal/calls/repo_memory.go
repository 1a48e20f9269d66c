package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps calls in process memory. Used by tests and local runs.
type MemoryStore struct {
	mu    sync.Mutex
	calls map[string]Call
	bySID map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls: make(map[string]Call),
		bySID: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, c Call) (Call, error) {
	if err := validateNew(c); err != nil {
		return Call{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.calls[c.ID]; ok {
		return Call{}, ErrInvalidCall
	}
	if _, ok := s.bySID[c.ExternalSID]; ok {
		return Call{}, ErrDuplicateSID
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = c.StartedAt
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	s.calls[c.ID] = c
	s.bySID[c.ExternalSID] = c.ID
	return c, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) RecordProgress(ctx context.Context, id string, p Progress) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	if applyProgress(&c, p) {
		s.calls[id] = c
	}
	return c, nil
}

func (s *MemoryStore) Finalize(ctx context.Context, id string, f Final) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	if c.Completed() {
		return c, ErrAlreadyCompleted
	}
	applyFinal(&c, f)
	s.calls[id] = c
	return c, nil
}

func (s *MemoryStore) ListByCampaign(ctx context.Context, campaignID string, from, to time.Time) ([]Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range s.calls {
		if c.CampaignID != campaignID {
			continue
		}
		if c.StartedAt.Before(from) || !c.StartedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}
