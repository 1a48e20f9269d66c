package campaigns

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seed(t *testing.T) (*MemoryRepo, time.Time) {
	t.Helper()
	now := time.Unix(1700000000, 0).UTC()
	r := NewMemoryRepo()
	r.PutCampaign(Campaign{ID: "camp", Name: "Q3 settlement", Status: CampaignActive, CreatedAt: now})
	r.PutContact(Contact{ID: "b", CampaignID: "camp", LeadID: "lb", Phone: "+1555000002", CreatedAt: now.Add(time.Second)})
	r.PutContact(Contact{ID: "a", CampaignID: "camp", LeadID: "la", Phone: "+1555000001", CreatedAt: now})
	r.PutContact(Contact{ID: "c", CampaignID: "camp", LeadID: "lc", Phone: "+1555000003", AttemptCount: 2, CreatedAt: now.Add(-time.Hour)})
	r.PutContact(Contact{ID: "x", CampaignID: "other", LeadID: "lx", Phone: "+1555000009", CreatedAt: now})
	return r, now
}

func TestListContactsDialingOrder(t *testing.T) {
	r, _ := seed(t)
	got, err := r.ListContacts(context.Background(), "camp")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 contacts, got %d", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Fatalf("unexpected order %s %s %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestClaimContactIsCompareAndSet(t *testing.T) {
	r, now := seed(t)
	ctx := context.Background()

	c, err := r.ClaimContact(ctx, "a", now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if c.Status != ContactDialing || c.AttemptCount != 1 || c.LastAttemptAt == nil || !c.LastAttemptAt.Equal(now) {
		t.Fatalf("unexpected claimed contact %+v", c)
	}
	if _, err := r.ClaimContact(ctx, "a", now); !errors.Is(err, ErrNotClaimable) {
		t.Fatalf("expected ErrNotClaimable on second claim, got %v", err)
	}
	if _, err := r.ClaimContact(ctx, "missing", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSettleContact(t *testing.T) {
	r, now := seed(t)
	ctx := context.Background()

	if _, err := r.SettleContact(ctx, "a", Settlement{Status: ContactCompleted}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for pending contact, got %v", err)
	}
	if _, err := r.ClaimContact(ctx, "a", now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := r.SettleContact(ctx, "a", Settlement{Status: ContactDialing}); !errors.Is(err, ErrInvalidSettlement) {
		t.Fatalf("expected ErrInvalidSettlement, got %v", err)
	}

	retry := now.Add(time.Hour)
	c, err := r.SettleContact(ctx, "a", Settlement{Status: ContactPending, NextAttemptAt: &retry, Disposition: "NO_ANSWER"})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if c.Status != ContactPending || c.NextAttemptAt == nil || !c.NextAttemptAt.Equal(retry) || c.LastDisposition != "NO_ANSWER" {
		t.Fatalf("unexpected settled contact %+v", c)
	}
	if c.DueAt(now) || !c.DueAt(retry) {
		t.Fatalf("expected contact due only from the retry time")
	}
}

func TestSummarize(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	later := now.Add(30 * time.Minute)
	p := Summarize("camp", []Contact{
		{ID: "1", Status: ContactPending},
		{ID: "2", Status: ContactPending, NextAttemptAt: &later, AttemptCount: 1},
		{ID: "3", Status: ContactDialing, AttemptCount: 1},
		{ID: "4", Status: ContactCompleted, AttemptCount: 2},
		{ID: "5", Status: ContactFailed, AttemptCount: 3},
		{ID: "6", Status: ContactSkipped},
	}, now)

	if p.Total != 6 || p.Pending != 2 || p.Due != 1 || p.Dialing != 1 || p.Completed != 1 || p.Failed != 1 || p.Skipped != 1 {
		t.Fatalf("unexpected progress %+v", p)
	}
	if p.Attempts != 7 {
		t.Fatalf("expected 7 attempts, got %d", p.Attempts)
	}
	if p.NextDueAt == nil || !p.NextDueAt.Equal(later) {
		t.Fatalf("expected next due at %v, got %v", later, p.NextDueAt)
	}
	if p.Exhausted() {
		t.Fatalf("campaign with pending contacts is not exhausted")
	}
	if !Summarize("camp", []Contact{{Status: ContactCompleted}}, now).Exhausted() {
		t.Fatalf("expected exhausted")
	}
}
