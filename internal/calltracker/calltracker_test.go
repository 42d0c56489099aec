package calltracker

import (
	"context"
	"testing"
	"time"

	"github.com/callhub/signalhub/internal/identity"
	"github.com/callhub/signalhub/internal/store"
	"github.com/callhub/signalhub/internal/store/memory"
	"github.com/callhub/signalhub/internal/usage"
	"github.com/rs/zerolog"
)

func newTestTracker() (*Tracker, store.Store) {
	st := memory.New()
	u := usage.New(st.Usage())
	return New(st.ActiveCalls(), u, zerolog.Nop()), st
}

func TestStartRejectsSecondFreeCall(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()

	first := &store.ActiveCall{
		CallSessionID: "sess-1",
		CallerAddress: "call:alice",
		CalleeAddress: "call:bob",
		CallerTier:    identity.PlanFree,
		CalleeTier:    identity.PlanFree,
	}
	if err := tr.Start(ctx, first); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	second := &store.ActiveCall{
		CallSessionID: "sess-2",
		CallerAddress: "call:alice",
		CalleeAddress: "call:carol",
		CallerTier:    identity.PlanFree,
		CalleeTier:    identity.PlanFree,
	}
	err := tr.Start(ctx, second)
	if err == nil {
		t.Fatalf("expected Invariant I5 rejection for second concurrent free-tier call")
	}
	if _, ok := err.(*ErrAlreadyInCall); !ok {
		t.Fatalf("expected *ErrAlreadyInCall, got %T: %v", err, err)
	}
}

func TestEndCreditsDurationToBothParticipants(t *testing.T) {
	tr, st := newTestTracker()
	ctx := context.Background()

	c := &store.ActiveCall{
		CallSessionID: "sess-3",
		CallerAddress: "call:dave",
		CalleeAddress: "call:erin",
		CallerTier:    identity.PlanPro,
		CalleeTier:    identity.PlanPro,
	}
	if err := tr.Start(ctx, c); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Simulate 30 elapsed seconds by backdating StartedAt directly in the store.
	stored, _, err := st.ActiveCalls().Get(ctx, c.CallSessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	stored.StartedAt = time.Now().Add(-30 * time.Second)
	if err := st.ActiveCalls().Create(ctx, stored); err != nil {
		t.Fatalf("re-Create: %v", err)
	}

	if _, err := tr.End(ctx, c.CallSessionID); err != nil {
		t.Fatalf("End: %v", err)
	}

	callerUsage, err := st.Usage().Get(ctx, "call:dave")
	if err != nil {
		t.Fatalf("Usage.Get caller: %v", err)
	}
	if callerUsage.SecondsUsedMonth < 29 || callerUsage.SecondsUsedMonth > 31 {
		t.Fatalf("expected ~30s credited to caller, got %d", callerUsage.SecondsUsedMonth)
	}

	calleeUsage, err := st.Usage().Get(ctx, "call:erin")
	if err != nil {
		t.Fatalf("Usage.Get callee: %v", err)
	}
	if calleeUsage.SecondsUsedMonth < 29 || calleeUsage.SecondsUsedMonth > 31 {
		t.Fatalf("expected ~30s credited to callee, got %d", calleeUsage.SecondsUsedMonth)
	}

	if _, ok, _ := st.ActiveCalls().Get(ctx, c.CallSessionID); ok {
		t.Fatalf("expected active-call row deleted after End")
	}
}

func TestSweepTerminatesStaleHeartbeats(t *testing.T) {
	tr, st := newTestTracker()
	ctx := context.Background()

	c := &store.ActiveCall{
		CallSessionID: "sess-4",
		CallerAddress: "call:frank",
		CalleeAddress: "call:grace",
		CallerTier:    identity.PlanPro,
		CalleeTier:    identity.PlanPro,
	}
	if err := tr.Start(ctx, c); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stale := time.Now().Add(-2 * StaleHeartbeatThreshold)
	stored, _, _ := st.ActiveCalls().Get(ctx, c.CallSessionID)
	stored.LastHeartbeatCaller = stale
	stored.LastHeartbeatCallee = stale
	stored.StartedAt = stale
	if err := st.ActiveCalls().Create(ctx, stored); err != nil {
		t.Fatalf("re-Create: %v", err)
	}

	ended, err := tr.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(ended) != 1 || ended[0].Reason != EndReasonHeartbeatLost {
		t.Fatalf("expected one heartbeat_timeout termination, got %+v", ended)
	}
}

func TestSweepLeavesFreshCallsAlone(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()

	c := &store.ActiveCall{
		CallSessionID: "sess-5",
		CallerAddress: "call:hank",
		CalleeAddress: "call:ivy",
		CallerTier:    identity.PlanPro,
		CalleeTier:    identity.PlanPro,
	}
	if err := tr.Start(ctx, c); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ended, err := tr.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(ended) != 0 {
		t.Fatalf("expected no terminations for a fresh call, got %+v", ended)
	}
}

func TestSweepTerminatesPastMaxDuration(t *testing.T) {
	tr, st := newTestTracker()
	ctx := context.Background()

	maxDur := 60
	c := &store.ActiveCall{
		CallSessionID:      "sess-6",
		CallerAddress:      "call:jack",
		CalleeAddress:      "call:kate",
		CallerTier:         identity.PlanFree,
		CalleeTier:         identity.PlanFree,
		MaxDurationSeconds: &maxDur,
	}
	if err := tr.Start(ctx, c); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stored, _, _ := st.ActiveCalls().Get(ctx, c.CallSessionID)
	stored.StartedAt = time.Now().Add(-90 * time.Second)
	if err := st.ActiveCalls().Create(ctx, stored); err != nil {
		t.Fatalf("re-Create: %v", err)
	}

	ended, err := tr.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(ended) != 1 || ended[0].Reason != EndReasonDurationCap {
		t.Fatalf("expected one duration_cap termination, got %+v", ended)
	}
}
