package telephony

import (
	"context"
	"errors"
	"testing"
)

func TestSimulatedProviderLifecycle(t *testing.T) {
	p := NewSimulatedProvider()
	ctx := context.Background()

	sess, err := p.PlaceCall(ctx, PlaceCallRequest{To: "+15550001111", ConnectTo: "client:a1"})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if sess.SID == "" || sess.Status != StatusQueued {
		t.Fatalf("unexpected session %+v", sess)
	}

	ev, err := p.SetStatus(sess.SID, StatusInProgress, 0)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if ev.AnsweredAt == nil {
		t.Fatalf("expected answered_at on in-progress")
	}

	if err := p.EndCall(ctx, sess.SID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if !p.Ended(sess.SID) {
		t.Fatalf("expected call ended")
	}
	info, err := p.GetCallStatus(ctx, sess.SID)
	if err != nil || info.Status != StatusCompleted {
		t.Fatalf("expected completed, got %+v err=%v", info, err)
	}
}

func TestSimulatedProviderFailNextPlace(t *testing.T) {
	p := NewSimulatedProvider()
	boom := errors.New("carrier down")
	p.FailNextPlace(boom)

	if _, err := p.PlaceCall(context.Background(), PlaceCallRequest{To: "+15550001111"}); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if _, err := p.PlaceCall(context.Background(), PlaceCallRequest{To: "+15550001111"}); err != nil {
		t.Fatalf("expected second place to succeed, got %v", err)
	}
	if p.Placed() != 1 {
		t.Fatalf("expected 1 placed call, got %d", p.Placed())
	}
}

func TestSimulatedProviderUnknownSid(t *testing.T) {
	p := NewSimulatedProvider()
	if _, err := p.GetCallStatus(context.Background(), "nope"); !errors.Is(err, ErrUnknownCall) {
		t.Fatalf("expected ErrUnknownCall, got %v", err)
	}
}
