package resource

import (
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/callhub/signalhub/internal/config"
)

func newTestGuard(t *testing.T, conns *atomic.Int64) *Guard {
	t.Helper()
	cfg := &config.Config{
		MaxConnections:     10,
		CPURejectThreshold: 75,
		CPUPauseThreshold:  80,
		MemoryLimitBytes:   1 << 30,
		MaxGoroutines:      1000,
	}
	return New(cfg, zerolog.Nop(), conns)
}

func TestShouldAcceptConnectionRejectsAtMaxConnections(t *testing.T) {
	var conns atomic.Int64
	conns.Store(10)
	g := newTestGuard(t, &conns)

	accept, reason := g.ShouldAcceptConnection()
	if accept {
		t.Fatalf("expected rejection at max connections, reason=%q", reason)
	}
}

func TestShouldAcceptConnectionRejectsOnCPUOverload(t *testing.T) {
	var conns atomic.Int64
	g := newTestGuard(t, &conns)
	g.currentCPU.Store(90.0)

	accept, reason := g.ShouldAcceptConnection()
	if accept {
		t.Fatalf("expected rejection on cpu overload, reason=%q", reason)
	}
}

func TestShouldAcceptConnectionAllowsUnderLimits(t *testing.T) {
	var conns atomic.Int64
	g := newTestGuard(t, &conns)
	g.currentCPU.Store(10.0)

	accept, reason := g.ShouldAcceptConnection()
	if !accept {
		t.Fatalf("expected acceptance, got rejection: %s", reason)
	}
}

func TestShouldPauseKafka(t *testing.T) {
	var conns atomic.Int64
	g := newTestGuard(t, &conns)

	g.currentCPU.Store(50.0)
	if g.ShouldPauseKafka() {
		t.Fatalf("did not expect pause at 50%% CPU")
	}

	g.currentCPU.Store(95.0)
	if !g.ShouldPauseKafka() {
		t.Fatalf("expected pause at 95%% CPU")
	}
}

func TestGoroutineLimiterAcquireRelease(t *testing.T) {
	gl := NewGoroutineLimiter(2)

	if !gl.Acquire() {
		t.Fatalf("expected first acquire to succeed")
	}
	if !gl.Acquire() {
		t.Fatalf("expected second acquire to succeed")
	}
	if gl.Acquire() {
		t.Fatalf("expected third acquire to fail at limit")
	}

	gl.Release()
	if !gl.Acquire() {
		t.Fatalf("expected acquire to succeed after release")
	}
}

func TestGoroutineLimiterUnbounded(t *testing.T) {
	gl := NewGoroutineLimiter(0)
	for i := 0; i < 100; i++ {
		if !gl.Acquire() {
			t.Fatalf("expected unbounded limiter to always accept")
		}
	}
}
