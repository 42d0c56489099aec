// Package usage implements the business logic wrapped around
// internal/store's UsageStore: lazy day/month/hour window rollover
// (spec.md §4.3, Invariant I4), the counter-increment operations, and
// the rolling 24h relay-penalty computation (SPEC_FULL.md Open
// Question 3).
package usage

import (
	"context"
	"time"

	"github.com/callhub/signalhub/internal/identity"
	"github.com/callhub/signalhub/internal/store"
)

// Free-tier quota defaults (spec.md §4.5 item 4, §8 "calls_started_today
// ≤ 5"). These are policy-engine tunables, not wire-level configuration,
// so they live here rather than in internal/config.
const (
	FreeDailyCallsCap        = 5
	FreeDailyFailedStartsCap = 10
	FreeHourlyAttemptsCap    = 20
	FreeMonthlySecondsCap    = 3 * 60 * 60 // 3h/month of talk time
	FreeConcurrentCallCap    = 1

	RelayPenaltyThreshold = 2
	RelayPenaltyWindow    = 24 * time.Hour
	RelayPenaltyDuration  = 7 * 24 * time.Hour

	FreeBaseMaxDuration      = 15 * time.Minute
	FreePenalizedMaxDuration = 5 * time.Minute
)

// Service wraps a store.UsageStore with the rollover and quota logic
// spec.md assigns to the usage-counter store.
type Service struct {
	store store.UsageStore
}

func New(s store.UsageStore) *Service {
	return &Service{store: s}
}

func dayKey(t time.Time) string   { return t.UTC().Format("2006-01-02") }
func monthKey(t time.Time) string { return t.UTC().Format("2006-01") }
func hourKey(t time.Time) string  { return t.UTC().Format("2006-01-02T15") }

// rollover zeroes daily/monthly/hourly fields whose window key has
// moved on, per Invariant I4. Returns true if it changed anything.
func rollover(uc *store.UsageCounter, now time.Time) bool {
	changed := false

	dk := dayKey(now)
	if uc.DayKey != dk {
		uc.DayKey = dk
		uc.CallsStartedToday = 0
		uc.FailedStartsToday = 0
		changed = true
	}

	mk := monthKey(now)
	if uc.MonthKey != mk {
		uc.MonthKey = mk
		uc.SecondsUsedMonth = 0
		changed = true
	}

	hk := hourKey(now)
	if uc.HourKey != hk {
		uc.HourKey = hk
		uc.CallAttemptsHour = 0
		changed = true
	}

	if pruned := pruneRelayWindow(uc, now); pruned {
		changed = true
	}

	return changed
}

// pruneRelayWindow drops relay-call timestamps older than the rolling
// 24h window (Open Question 3).
func pruneRelayWindow(uc *store.UsageCounter, now time.Time) bool {
	if len(uc.RelayCallsAt) == 0 {
		return false
	}
	cutoff := now.Add(-RelayPenaltyWindow)
	kept := uc.RelayCallsAt[:0:0]
	changed := false
	for _, at := range uc.RelayCallsAt {
		if at.After(cutoff) {
			kept = append(kept, at)
		} else {
			changed = true
		}
	}
	uc.RelayCallsAt = kept
	return changed
}

// GetOrCreate returns the caller's counter with rollover already
// applied, persisting the rolled-over values so later reads are cheap.
func (s *Service) GetOrCreate(ctx context.Context, address string) (*store.UsageCounter, error) {
	uc, err := s.store.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	if rollover(uc, time.Now()) {
		if err := s.store.Save(ctx, uc); err != nil {
			return nil, err
		}
	}
	return uc, nil
}

func (s *Service) load(ctx context.Context, address string, now time.Time) (*store.UsageCounter, error) {
	uc, err := s.store.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	rollover(uc, now)
	return uc, nil
}

// IncrementCallsStarted records an outbound call start against the
// daily cap.
func (s *Service) IncrementCallsStarted(ctx context.Context, address string) (*store.UsageCounter, error) {
	now := time.Now()
	uc, err := s.load(ctx, address, now)
	if err != nil {
		return nil, err
	}
	uc.CallsStartedToday++
	if err := s.store.Save(ctx, uc); err != nil {
		return nil, err
	}
	return uc, nil
}

// IncrementFailedStarts records a failed call-start attempt.
func (s *Service) IncrementFailedStarts(ctx context.Context, address string) (*store.UsageCounter, error) {
	now := time.Now()
	uc, err := s.load(ctx, address, now)
	if err != nil {
		return nil, err
	}
	uc.FailedStartsToday++
	if err := s.store.Save(ctx, uc); err != nil {
		return nil, err
	}
	return uc, nil
}

// IncrementCallAttempts records an attempt against the hourly cap.
func (s *Service) IncrementCallAttempts(ctx context.Context, address string) (*store.UsageCounter, error) {
	now := time.Now()
	uc, err := s.load(ctx, address, now)
	if err != nil {
		return nil, err
	}
	uc.CallAttemptsHour++
	if err := s.store.Save(ctx, uc); err != nil {
		return nil, err
	}
	return uc, nil
}

// AddSecondsUsed credits completed call duration to the monthly total.
func (s *Service) AddSecondsUsed(ctx context.Context, address string, seconds int64) (*store.UsageCounter, error) {
	now := time.Now()
	uc, err := s.load(ctx, address, now)
	if err != nil {
		return nil, err
	}
	uc.SecondsUsedMonth += seconds
	if err := s.store.Save(ctx, uc); err != nil {
		return nil, err
	}
	return uc, nil
}

// IncrementRelayCalls records a TURN-relay call and re-evaluates the
// rolling relay-penalty window (RelayPenaltyThreshold calls in
// RelayPenaltyWindow triggers RelayPenaltyDuration of reduced
// max-duration, per spec.md §4.5 "Relay penalty").
func (s *Service) IncrementRelayCalls(ctx context.Context, address string) (*store.UsageCounter, error) {
	now := time.Now()
	uc, err := s.load(ctx, address, now)
	if err != nil {
		return nil, err
	}

	uc.RelayCallsAt = append(uc.RelayCallsAt, now)
	pruneRelayWindow(uc, now)

	if len(uc.RelayCallsAt) >= RelayPenaltyThreshold {
		until := now.Add(RelayPenaltyDuration)
		if uc.RelayPenaltyUntil == nil || until.After(*uc.RelayPenaltyUntil) {
			uc.RelayPenaltyUntil = &until
		}
	}

	if err := s.store.Save(ctx, uc); err != nil {
		return nil, err
	}
	return uc, nil
}

// InRelayPenalty reports whether uc is currently within a relay-penalty
// window.
func InRelayPenalty(uc *store.UsageCounter, now time.Time) bool {
	return uc.RelayPenaltyUntil != nil && now.Before(*uc.RelayPenaltyUntil)
}

// MaxDurationSeconds computes the free-tier duration cap for uc at now:
// base 15 minutes, reduced to 5 minutes under a relay penalty, then
// clamped to the participant's remaining monthly seconds (spec.md §4.5
// "Max-duration for a free-tier participant"). Paid participants are
// uncapped here — paid caps, if any, are a billing-layer concern outside
// this hub.
func MaxDurationSeconds(plan identity.Plan, uc *store.UsageCounter, now time.Time) *int {
	if plan != identity.PlanFree {
		return nil
	}

	base := FreeBaseMaxDuration
	if InRelayPenalty(uc, now) {
		base = FreePenalizedMaxDuration
	}

	capSeconds := int(base.Seconds())
	remaining := FreeMonthlySecondsCap - int(uc.SecondsUsedMonth)
	if remaining < 0 {
		remaining = 0
	}
	if remaining < capSeconds {
		capSeconds = remaining
	}
	return &capSeconds
}

// TighterMaxDuration applies "the tighter of the two participants' caps
// applies" (spec.md §4.5): a nil cap means unlimited, so the non-nil,
// smaller value always wins.
func TighterMaxDuration(a, b *int) *int {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *a <= *b:
		return a
	default:
		return b
	}
}
