// Package policy implements the call policy engine (spec.md §4.5): the
// 11-step, first-match-wins evaluation of a call attempt against
// blocklists, quotas, contacts, passes, overrides, business hours, and
// payment requirements.
package policy

import (
	"context"
	"time"

	"github.com/callhub/signalhub/internal/identity"
	"github.com/callhub/signalhub/internal/ratelimit"
	"github.com/callhub/signalhub/internal/store"
	"github.com/callhub/signalhub/internal/usage"
)

// Kind is the outcome category of a policy evaluation.
type Kind int

const (
	KindRing Kind = iota
	KindRequest
	KindBlock
	KindAutoReply
)

// Stable block-reason codes. limit_daily_calls appears verbatim in
// spec.md §8; the others follow its naming convention.
const (
	ReasonBlocklisted           = "blocklisted"
	ReasonAutoBlocked           = "auto_blocked"
	ReasonRingRateLimited       = "limit_ring_rate"
	ReasonLimitHourlyAttempts   = "limit_hourly_attempts"
	ReasonLimitDailyFailedStart = "limit_daily_failed_starts"
	ReasonLimitDailyCalls       = "limit_daily_calls"
	ReasonLimitMonthlySeconds   = "limit_monthly_seconds"
	ReasonLimitConcurrentCalls  = "limit_concurrent_calls"
	ReasonFreeTierCalleeBusy    = "free_tier_callee_restricted"
	ReasonNotApprovedContact    = "not_approved_contact"
	ReasonBlockedByContact      = "blocked_by_contact"
	ReasonInviteOnly            = "invite_only"
	ReasonDND                   = "dnd"
	ReasonPaymentRequired       = "payment_required"
)

// Decision is the result of evaluating a call attempt.
type Decision struct {
	Kind      Kind
	Reason    string // set when Kind == KindBlock
	IsUnknown bool   // set when Kind == KindRing: callee should be told caller isn't a contact
	Message   string // set when Kind == KindAutoReply
	UsedPass  string // set when a pass was consumed
}

// Attempt carries the side context spec.md §4.5 evaluates a call
// attempt against, beyond the two addresses themselves.
type Attempt struct {
	CallerAddress   string
	CalleeAddress   string
	CallerPlan      identity.Plan
	CalleePlan      identity.Plan
	IsContact       bool // caller is in callee's contacts (callee -> caller direction only)
	IsEitherContact bool // either direction has added the other
	IsGroup         bool
	IsExternalLink  bool
	IsPaidCall      bool
	PassID          string
	CalleeOnline    bool
}

// Engine evaluates call attempts. It is constructed once per process
// and is safe for concurrent use.
type Engine struct {
	policies    store.PolicyStore
	contacts    store.ContactStore
	passes      store.PassStore
	activeCalls store.ActiveCallStore
	usage       *usage.Service
	rings       *ratelimit.RingLimiter
}

func New(policies store.PolicyStore, contacts store.ContactStore, passes store.PassStore, activeCalls store.ActiveCallStore, u *usage.Service, rings *ratelimit.RingLimiter) *Engine {
	return &Engine{policies: policies, contacts: contacts, passes: passes, activeCalls: activeCalls, usage: u, rings: rings}
}

// Evaluate runs the full 11-step evaluation order against a.
func (e *Engine) Evaluate(ctx context.Context, a Attempt) (Decision, error) {
	now := time.Now()

	calleePolicy, err := e.policies.Get(ctx, a.CalleeAddress)
	if err != nil {
		return Decision{}, err
	}

	// 1. Hard blocklist.
	blocked, err := e.policies.IsBlocked(ctx, a.CalleeAddress, a.CallerAddress)
	if err != nil {
		return Decision{}, err
	}
	if blocked {
		return block(ReasonBlocklisted), nil
	}

	// 2. Auto-block threshold.
	rejections, err := e.policies.RejectionCount(ctx, a.CalleeAddress, a.CallerAddress)
	if err != nil {
		return Decision{}, err
	}
	if calleePolicy.AutoBlockAfterRejects > 0 && rejections >= calleePolicy.AutoBlockAfterRejects {
		if err := e.policies.Block(ctx, a.CalleeAddress, a.CallerAddress, nil); err != nil {
			return Decision{}, err
		}
		return block(ReasonAutoBlocked), nil
	}

	// 3. Ring rate limit.
	window := time.Duration(calleePolicy.RingWindowMinutes) * time.Minute
	if calleePolicy.MaxRingsPerSender > 0 && window > 0 {
		if exceeded, _ := e.rings.RecordAndCheck(a.CalleeAddress, a.CallerAddress, calleePolicy.MaxRingsPerSender, window, now); exceeded {
			return block(ReasonRingRateLimited), nil
		}
	}

	// 4. Free-tier caller quotas.
	if a.CallerPlan == identity.PlanFree {
		if d, matched, err := e.checkFreeTierQuotas(ctx, a, now); err != nil {
			return Decision{}, err
		} else if matched {
			return d, nil
		}
	}

	// 5. Free-tier callee ban of group/external-link callers unless paid.
	if a.CalleePlan == identity.PlanFree && (a.IsGroup || a.IsExternalLink) && !a.IsPaidCall {
		return block(ReasonFreeTierCalleeBusy), nil
	}

	// 6. Contact requirement (free tier).
	if a.CalleePlan == identity.PlanFree && !a.IsEitherContact && a.PassID == "" {
		return block(ReasonNotApprovedContact), nil
	}

	// 7. Valid invite-pass.
	if a.PassID != "" {
		if d, matched, err := e.checkPass(ctx, a); err != nil {
			return Decision{}, err
		} else if matched {
			return d, nil
		}
	}

	// 8. Per-contact override.
	override, err := e.contacts.Override(ctx, a.CalleeAddress, a.CallerAddress)
	if err != nil {
		return Decision{}, err
	}
	if d, matched := resolveOverride(override); matched {
		return d, nil
	}

	// 9. Policy allow_calls_from.
	candidate := e.evaluateAllowCallsFrom(calleePolicy, a)
	if candidate.Kind == KindBlock {
		return candidate, nil
	}

	// 10. Business-hours and DND.
	if d, matched := e.evaluateBusinessHours(calleePolicy, a, now); matched {
		return d, nil
	}

	// 11. Payment gate.
	if calleePolicy.RequiresPayment && !a.IsPaidCall {
		return block(ReasonPaymentRequired), nil
	}

	return candidate, nil
}

func block(reason string) Decision {
	return Decision{Kind: KindBlock, Reason: reason}
}

func (e *Engine) checkFreeTierQuotas(ctx context.Context, a Attempt, now time.Time) (Decision, bool, error) {
	uc, err := e.usage.GetOrCreate(ctx, a.CallerAddress)
	if err != nil {
		return Decision{}, false, err
	}

	switch {
	case uc.CallAttemptsHour >= usage.FreeHourlyAttemptsCap:
		return block(ReasonLimitHourlyAttempts), true, nil
	case uc.FailedStartsToday >= usage.FreeDailyFailedStartsCap:
		return block(ReasonLimitDailyFailedStart), true, nil
	case uc.CallsStartedToday >= usage.FreeDailyCallsCap:
		return block(ReasonLimitDailyCalls), true, nil
	case uc.SecondsUsedMonth >= usage.FreeMonthlySecondsCap:
		return block(ReasonLimitMonthlySeconds), true, nil
	}

	if _, ok, err := e.activeCalls.GetByParticipant(ctx, a.CallerAddress); err != nil {
		return Decision{}, false, err
	} else if ok {
		return block(ReasonLimitConcurrentCalls), true, nil
	}

	return Decision{}, false, nil
}

func (e *Engine) checkPass(ctx context.Context, a Attempt) (Decision, bool, error) {
	p, ok, err := e.passes.Get(ctx, a.PassID)
	if err != nil {
		return Decision{}, false, err
	}
	if !ok || p.OwnerAddress != a.CalleeAddress {
		return Decision{}, false, nil
	}
	if p.ExpiresAt != nil && p.ExpiresAt.Before(time.Now()) {
		return Decision{}, false, nil
	}

	valid, err := e.passes.Consume(ctx, a.PassID)
	if err != nil {
		return Decision{}, false, err
	}
	if !valid {
		return Decision{}, false, nil
	}

	return Decision{Kind: KindRing, IsUnknown: true, UsedPass: a.PassID}, true, nil
}

// resolveOverride turns a raw override value into a terminal decision.
// blocked/always/one_time resolve directly, bypassing steps 9-11;
// scheduled and "no override" fall through to the rest of the
// evaluation (see DESIGN.md for the reasoning).
func resolveOverride(o store.ContactOverride) (Decision, bool) {
	switch o {
	case store.OverrideBlocked:
		return block(ReasonBlockedByContact), true
	case store.OverrideAlways, store.OverrideOneTime:
		return Decision{Kind: KindRing, IsUnknown: false}, true
	default:
		return Decision{}, false
	}
}

func (e *Engine) evaluateAllowCallsFrom(p *store.Policy, a Attempt) Decision {
	switch p.AllowCallsFrom {
	case store.AllowAnyone:
		return Decision{Kind: KindRing, IsUnknown: !a.IsContact}
	case store.AllowInviteOnly:
		return block(ReasonInviteOnly)
	case store.AllowContacts:
		if a.IsContact {
			return Decision{Kind: KindRing, IsUnknown: false}
		}
		switch p.UnknownCallerBehavior {
		case store.UnknownRingUnknown:
			return Decision{Kind: KindRing, IsUnknown: true}
		case store.UnknownRequest:
			return Decision{Kind: KindRequest}
		default:
			return block(ReasonNotApprovedContact)
		}
	default:
		return block(ReasonNotApprovedContact)
	}
}

func (e *Engine) evaluateBusinessHours(p *store.Policy, a Attempt, now time.Time) (Decision, bool) {
	if a.CalleeOnline {
		return Decision{}, false
	}

	hour := now.Hour()
	withinBusinessHours := hour >= p.BusinessHoursStart && hour < p.BusinessHoursEnd
	if withinBusinessHours {
		return Decision{}, false
	}

	if p.VoicemailEnabled {
		return Decision{Kind: KindAutoReply, Message: "The person you're calling is unavailable. Leave a voicemail message after the tone."}, true
	}
	return block(ReasonDND), true
}
