package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newCall(id, sid string, at time.Time) Call {
	return Call{
		ID:          id,
		CampaignID:  "camp",
		ContactID:   "contact-" + id,
		LeadID:      "lead-" + id,
		AgentID:     "agent",
		Direction:   DirectionOutbound,
		ExternalSID: sid,
		To:          "+15550000000",
		Status:      StatusInitiated,
		StartedAt:   at,
	}
}

func TestMemoryStore_CreateValidates(t *testing.T) {
	s := NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()

	bad := newCall("c1", "", now)
	if _, err := s.Create(context.Background(), bad); !errors.Is(err, ErrInvalidCall) {
		t.Fatalf("expected ErrInvalidCall without sid, got %v", err)
	}

	done := newCall("c1", "SID1", now)
	done.Status = StatusCompleted
	if _, err := s.Create(context.Background(), done); !errors.Is(err, ErrInvalidCall) {
		t.Fatalf("expected ErrInvalidCall for completed insert, got %v", err)
	}
}

func TestMemoryStore_DuplicateSID(t *testing.T) {
	s := NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	if _, err := s.Create(context.Background(), newCall("c1", "SID1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(context.Background(), newCall("c2", "SID1", now)); !errors.Is(err, ErrDuplicateSID) {
		t.Fatalf("expected ErrDuplicateSID, got %v", err)
	}
}

func TestMemoryStore_ProgressIsForwardOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	if _, err := s.Create(ctx, newCall("c1", "SID1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	answered := now.Add(5 * time.Second)
	c, err := s.RecordProgress(ctx, "c1", Progress{Status: StatusAnswered, ProviderStatus: "in-progress", AnsweredAt: &answered, At: answered})
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if c.Status != StatusAnswered || c.AnsweredAt == nil {
		t.Fatalf("expected answered, got %+v", c)
	}

	c, err = s.RecordProgress(ctx, "c1", Progress{Status: StatusRinging, At: answered.Add(time.Second)})
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if c.Status != StatusAnswered {
		t.Fatalf("late ringing must not regress status, got %s", c.Status)
	}

	if _, err := s.RecordProgress(ctx, "missing", Progress{Status: StatusRinging}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_FinalizeOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	if _, err := s.Create(ctx, newCall("c1", "SID1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	c, err := s.Finalize(ctx, "c1", Final{Disposition: "ENROLLED", Notes: "signed", Transcript: "agent: hi", Feedback: "good rapport", EndedAt: now.Add(time.Minute)})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if c.Status != StatusCompleted || c.Disposition != "ENROLLED" || c.EndedAt == nil || c.Transcript != "agent: hi" || c.Feedback != "good rapport" {
		t.Fatalf("unexpected final call %+v", c)
	}

	if _, err := s.Finalize(ctx, "c1", Final{Disposition: "DNC", EndedAt: now.Add(2 * time.Minute)}); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}
	got, _ := s.Get(ctx, "c1")
	if got.Disposition != "ENROLLED" {
		t.Fatalf("second finalize must not overwrite, got %s", got.Disposition)
	}

	// Progress after completion is ignored.
	got, err = s.RecordProgress(ctx, "c1", Progress{Status: StatusAnswered, ProviderStatus: "in-progress", At: now.Add(3 * time.Minute)})
	if err != nil || got.Status != StatusCompleted || got.ProviderStatus != "" {
		t.Fatalf("expected completed call untouched, got %+v err=%v", got, err)
	}
}

func TestMemoryStore_ConcurrentFinalizeSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	if _, err := s.Create(ctx, newCall("c1", "SID1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Finalize(ctx, "c1", Final{Disposition: "NO_ANSWER", EndedAt: now}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one finalize to win, got %d", wins)
	}
}

func TestMemoryStore_ListByCampaignRange(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	_, _ = s.Create(ctx, newCall("c2", "SID2", now.Add(time.Minute)))
	_, _ = s.Create(ctx, newCall("c1", "SID1", now))
	_, _ = s.Create(ctx, newCall("c3", "SID3", now.Add(2*time.Hour)))
	other := newCall("c4", "SID4", now)
	other.CampaignID = "other"
	_, _ = s.Create(ctx, other)

	got, err := s.ListByCampaign(ctx, "camp", now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c1" || got[1].ID != "c2" {
		t.Fatalf("unexpected calls %+v", got)
	}
}

func TestStatusAdvances(t *testing.T) {
	if !StatusInitiated.Advances(StatusRinging) || !StatusRinging.Advances(StatusAnswered) {
		t.Fatalf("expected forward moves to advance")
	}
	if StatusAnswered.Advances(StatusRinging) {
		t.Fatalf("expected backward move rejected")
	}
	if StatusAnswered.Advances(StatusCompleted) {
		t.Fatalf("completion goes through Finalize only")
	}
	if Status("in_progress").Valid() {
		t.Fatalf("in-progress is a provider status, not a call status")
	}
	if StatusInitiated.Advances(Status("in_progress")) {
		t.Fatalf("unknown status must never advance a call")
	}
}
