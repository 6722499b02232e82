package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterStoreAllow(t *testing.T) {
	// allow 5 events immediately then the 6th should be rejected
	s := NewLimiterStore(5, 5, time.Minute)
	defer s.Stop()

	key := "conn-1"
	for i := 0; i < 5; i++ {
		if !s.Allow(key) {
			t.Fatalf("expected allow at iteration %d", i)
		}
	}

	if s.Allow(key) {
		t.Fatal("expected limiter to block after burst consumed")
	}
}

func TestLimiterStoreIndependentKeys(t *testing.T) {
	s := NewLimiterStore(1, 1, time.Minute)
	defer s.Stop()

	if !s.Allow("a") {
		t.Fatal("first event for key a should be allowed")
	}
	if s.Allow("a") {
		t.Fatal("second event for key a should be blocked")
	}
	if !s.Allow("b") {
		t.Fatal("key b has its own bucket and should be allowed")
	}
}

func TestLimiterStoreForget(t *testing.T) {
	s := NewLimiterStore(1, 1, time.Minute)
	defer s.Stop()

	if !s.Allow("conn") {
		t.Fatal("first event should be allowed")
	}
	if s.Allow("conn") {
		t.Fatal("bucket should be drained")
	}

	// Forgetting the key resets its bucket.
	s.Forget("conn")
	if !s.Allow("conn") {
		t.Fatal("fresh bucket after Forget should allow")
	}
}

func TestLimiterStoreDefaults(t *testing.T) {
	s := NewLimiterStore(0, 0, time.Minute)
	defer s.Stop()

	if !s.Allow("x") {
		t.Fatal("default limiter should allow the first event")
	}
}
