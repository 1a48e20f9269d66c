package dialer

import (
	"context"
	"testing"
)

func TestMemoryLineLimiter(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLineLimiter(2)

	for i := 0; i < 2; i++ {
		ok, err := l.Acquire(ctx, "camp")
		if err != nil || !ok {
			t.Fatalf("acquire %d: %v %v", i, ok, err)
		}
	}
	if ok, _ := l.Acquire(ctx, "camp"); ok {
		t.Fatalf("expected cap reached")
	}
	if ok, _ := l.Acquire(ctx, "other"); !ok {
		t.Fatalf("caps are per campaign")
	}

	if err := l.Release(ctx, "camp"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if n, _ := l.InUse(ctx, "camp"); n != 1 {
		t.Fatalf("expected 1 in use, got %d", n)
	}
	_ = l.Release(ctx, "camp")
	_ = l.Release(ctx, "camp")
	if n, _ := l.InUse(ctx, "camp"); n != 0 {
		t.Fatalf("release must not go negative, got %d", n)
	}
}

func TestLineKey(t *testing.T) {
	if got := lineKey("abc"); got != "dialer:lines:campaign:abc" {
		t.Fatalf("unexpected key %q", got)
	}
}
