package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterRefill(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := New(2, 1)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatalf("bucket should start full")
	}
	if l.Allow("a") {
		t.Fatalf("bucket should be empty")
	}
	if !l.Allow("b") {
		t.Fatalf("keys must not share buckets")
	}
	now = now.Add(1500 * time.Millisecond)
	if !l.Allow("a") {
		t.Fatalf("expected a refilled token")
	}

	now = now.Add(time.Hour)
	if n := l.Prune(time.Minute); n != 2 {
		t.Fatalf("expected 2 idle buckets pruned, got %d", n)
	}
}
