package policy

import (
	"context"
	"testing"
	"time"

	"github.com/callhub/signalhub/internal/identity"
	"github.com/callhub/signalhub/internal/ratelimit"
	"github.com/callhub/signalhub/internal/store"
	"github.com/callhub/signalhub/internal/store/memory"
	"github.com/callhub/signalhub/internal/usage"
)

func newTestEngine() (*Engine, store.Store) {
	st := memory.New()
	u := usage.New(st.Usage())
	e := New(st.Policies(), st.Contacts(), st.Passes(), st.ActiveCalls(), u, ratelimit.NewRingLimiter())
	return e, st
}

func baseAttempt() Attempt {
	return Attempt{
		CallerAddress: "call:alice",
		CalleeAddress: "call:bob",
		CallerPlan:    identity.PlanPro,
		CalleePlan:    identity.PlanPro,
		IsContact:     true,
		CalleeOnline:  true,
	}
}

func TestBlocklistWinsFirst(t *testing.T) {
	e, st := newTestEngine()
	ctx := context.Background()

	if err := st.Policies().Block(ctx, "call:bob", "call:alice", nil); err != nil {
		t.Fatalf("Block: %v", err)
	}

	d, err := e.Evaluate(ctx, baseAttempt())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != KindBlock || d.Reason != ReasonBlocklisted {
		t.Fatalf("expected blocklisted block, got %+v", d)
	}
}

func TestAutoBlockThreshold(t *testing.T) {
	e, st := newTestEngine()
	ctx := context.Background()

	p, err := st.Policies().Get(ctx, "call:bob")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p.AutoBlockAfterRejects = 3
	if err := st.Policies().Save(ctx, p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := st.Policies().RecordRejection(ctx, "call:bob", "call:alice"); err != nil {
			t.Fatalf("RecordRejection: %v", err)
		}
	}

	d, err := e.Evaluate(ctx, baseAttempt())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != KindBlock || d.Reason != ReasonAutoBlocked {
		t.Fatalf("expected auto_blocked, got %+v", d)
	}

	blocked, err := st.Policies().IsBlocked(ctx, "call:bob", "call:alice")
	if err != nil {
		t.Fatalf("IsBlocked: %v", err)
	}
	if !blocked {
		t.Fatalf("expected auto-block to add caller to blocklist")
	}
}

func TestFreeTierDailyCallsCapAcceptsFifthRejectsSixth(t *testing.T) {
	e, st := newTestEngine()
	ctx := context.Background()

	u := usage.New(st.Usage())
	for i := 0; i < usage.FreeDailyCallsCap-1; i++ {
		if _, err := u.IncrementCallsStarted(ctx, "call:quinn"); err != nil {
			t.Fatalf("IncrementCallsStarted: %v", err)
		}
	}

	a := baseAttempt()
	a.CallerAddress = "call:quinn"
	a.CallerPlan = identity.PlanFree

	d, err := e.Evaluate(ctx, a)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != KindRing {
		t.Fatalf("expected the 5th attempt to ring, got %+v", d)
	}

	if _, err := u.IncrementCallsStarted(ctx, "call:quinn"); err != nil {
		t.Fatalf("IncrementCallsStarted: %v", err)
	}

	d, err = e.Evaluate(ctx, a)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != KindBlock || d.Reason != ReasonLimitDailyCalls {
		t.Fatalf("expected limit_daily_calls on the 6th attempt, got %+v", d)
	}
}

func TestContactRequirementBlocksNonContactFreeCallee(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()

	a := baseAttempt()
	a.CalleePlan = identity.PlanFree
	a.IsContact = false
	a.IsEitherContact = false

	d, err := e.Evaluate(ctx, a)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != KindBlock || d.Reason != ReasonNotApprovedContact {
		t.Fatalf("expected not_approved_contact, got %+v", d)
	}
}

func TestValidPassBypassesContactRequirement(t *testing.T) {
	e, st := newTestEngine()
	ctx := context.Background()

	pass := &store.Pass{ID: "pass-1", OwnerAddress: "call:bob", Kind: store.PassOneTime}
	if err := st.Passes().Create(ctx, pass); err != nil {
		t.Fatalf("Create pass: %v", err)
	}

	a := baseAttempt()
	a.CalleePlan = identity.PlanFree
	a.IsContact = false
	a.IsEitherContact = false
	a.PassID = "pass-1"

	d, err := e.Evaluate(ctx, a)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != KindRing || d.UsedPass != "pass-1" {
		t.Fatalf("expected ring via consumed pass, got %+v", d)
	}

	if _, ok, err := st.Passes().Get(ctx, "pass-1"); err != nil || ok {
		t.Fatalf("expected one-time pass consumed and removed, ok=%v err=%v", ok, err)
	}
}

func TestContactOverrideBlockedShortCircuits(t *testing.T) {
	e, st := newTestEngine()
	ctx := context.Background()

	if err := st.Contacts().SetOverride(ctx, "call:bob", "call:alice", store.OverrideBlocked); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}

	d, err := e.Evaluate(ctx, baseAttempt())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != KindBlock || d.Reason != ReasonBlockedByContact {
		t.Fatalf("expected blocked_by_contact, got %+v", d)
	}
}

func TestAllowCallsFromInviteOnlyBlocksWithoutPass(t *testing.T) {
	e, st := newTestEngine()
	ctx := context.Background()

	p, err := st.Policies().Get(ctx, "call:bob")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p.AllowCallsFrom = store.AllowInviteOnly
	if err := st.Policies().Save(ctx, p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	d, err := e.Evaluate(ctx, baseAttempt())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != KindBlock || d.Reason != ReasonInviteOnly {
		t.Fatalf("expected invite_only block, got %+v", d)
	}
}

func TestDNDBlocksOutsideBusinessHoursWithoutVoicemail(t *testing.T) {
	e, st := newTestEngine()
	ctx := context.Background()

	p, err := st.Policies().Get(ctx, "call:bob")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p.VoicemailEnabled = false
	now := time.Now()
	// Force "now" outside business hours by shrinking the window to
	// exclude the current hour.
	p.BusinessHoursStart = (now.Hour() + 1) % 24
	p.BusinessHoursEnd = (now.Hour() + 1) % 24
	if err := st.Policies().Save(ctx, p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	a := baseAttempt()
	a.CalleeOnline = false

	d, err := e.Evaluate(ctx, a)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != KindBlock || d.Reason != ReasonDND {
		t.Fatalf("expected dnd block, got %+v", d)
	}
}

func TestVoicemailAutoReplyOutsideBusinessHours(t *testing.T) {
	e, st := newTestEngine()
	ctx := context.Background()

	p, err := st.Policies().Get(ctx, "call:bob")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p.VoicemailEnabled = true
	now := time.Now()
	p.BusinessHoursStart = (now.Hour() + 1) % 24
	p.BusinessHoursEnd = (now.Hour() + 1) % 24
	if err := st.Policies().Save(ctx, p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	a := baseAttempt()
	a.CalleeOnline = false

	d, err := e.Evaluate(ctx, a)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != KindAutoReply || d.Message == "" {
		t.Fatalf("expected auto_reply with a voicemail message, got %+v", d)
	}
}

func TestPaymentGateBlocksUnpaidCall(t *testing.T) {
	e, st := newTestEngine()
	ctx := context.Background()

	p, err := st.Policies().Get(ctx, "call:bob")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p.RequiresPayment = true
	if err := st.Policies().Save(ctx, p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	d, err := e.Evaluate(ctx, baseAttempt())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != KindBlock || d.Reason != ReasonPaymentRequired {
		t.Fatalf("expected payment_required block, got %+v", d)
	}
}

func TestHappyPathRingsForMutualContacts(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()

	d, err := e.Evaluate(ctx, baseAttempt())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Kind != KindRing {
		t.Fatalf("expected ring for mutual contacts with no restrictions, got %+v", d)
	}
}
