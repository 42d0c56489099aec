package ratelimit

import (
	"testing"
	"time"
)

func TestRingLimiterExceedsAfterMax(t *testing.T) {
	l := NewRingLimiter()
	now := time.Now()

	for i := 0; i < 3; i++ {
		exceeded, _ := l.RecordAndCheck("call:callee", "call:caller", 3, time.Minute, now)
		if exceeded {
			t.Fatalf("attempt %d should not exceed max=3", i+1)
		}
		now = now.Add(time.Second)
	}

	exceeded, count := l.RecordAndCheck("call:callee", "call:caller", 3, time.Minute, now)
	if !exceeded {
		t.Fatalf("4th attempt should exceed max=3, count=%d", count)
	}
}

func TestRingLimiterWindowExpires(t *testing.T) {
	l := NewRingLimiter()
	now := time.Now()

	for i := 0; i < 5; i++ {
		l.RecordAndCheck("call:callee", "call:caller", 5, time.Minute, now)
	}

	later := now.Add(2 * time.Minute)
	exceeded, count := l.RecordAndCheck("call:callee", "call:caller", 5, time.Minute, later)
	if exceeded {
		t.Fatalf("expected old attempts to have expired out of the window, count=%d", count)
	}
}

func TestConnectionLimiterPerIPBurst(t *testing.T) {
	cl := NewConnectionLimiter(ConnectionLimiterConfig{IPBurst: 2, IPRate: 0.001, GlobalBurst: 100, GlobalRate: 100})

	if !cl.Allow("1.2.3.4") {
		t.Fatal("expected first connection allowed")
	}
	if !cl.Allow("1.2.3.4") {
		t.Fatal("expected second connection allowed (within burst)")
	}
	if cl.Allow("1.2.3.4") {
		t.Fatal("expected third connection to be rate limited")
	}
}
