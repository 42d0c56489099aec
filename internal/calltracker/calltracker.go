// Package calltracker implements the active-call tracker and its
// background heartbeat sweeper (spec.md §4.4, §4.9).
package calltracker

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/callhub/signalhub/internal/identity"
	"github.com/callhub/signalhub/internal/store"
	"github.com/callhub/signalhub/internal/usage"
	"github.com/rs/zerolog"
)

// StaleHeartbeatThreshold is the age beyond which both heartbeats must
// fall for a call to be considered abandoned (spec.md §4.4/§4.9).
const StaleHeartbeatThreshold = 45 * time.Second

// DefaultSweepInterval matches spec.md §4.9's "≈ every 10 s" cadence.
const DefaultSweepInterval = 10 * time.Second

// EndReason distinguishes how an active call ended, for notifying
// participants and crediting usage.
type EndReason string

const (
	EndReasonHangup        EndReason = "call:end"
	EndReasonHeartbeatLost EndReason = "heartbeat_timeout"
	EndReasonDurationCap   EndReason = "duration_cap"
)

// Ended describes a call the tracker terminated, for the caller to
// notify connected participants.
type Ended struct {
	Call   *store.ActiveCall
	Reason EndReason
}

// Tracker wraps the ActiveCallStore with the create/heartbeat/end
// operations spec.md §4.4 assigns to the active-call tracker, enforcing
// Invariant I5 (one active call per free-tier participant).
type Tracker struct {
	store  store.ActiveCallStore
	usage  *usage.Service
	logger zerolog.Logger
}

func New(s store.ActiveCallStore, u *usage.Service, logger zerolog.Logger) *Tracker {
	return &Tracker{store: s, usage: u, logger: logger}
}

// ErrAlreadyInCall signals Invariant I5: a free-tier participant already
// has an active-call row.
type ErrAlreadyInCall struct{ Address string }

func (e *ErrAlreadyInCall) Error() string {
	return "calltracker: " + e.Address + " already has an active call"
}

// Start creates the active-call row at call connect. For free-tier
// participants it first checks Invariant I5 — no row may already exist
// for either side.
func (t *Tracker) Start(ctx context.Context, c *store.ActiveCall) error {
	if c.CallerTier == identity.PlanFree {
		if _, ok, err := t.store.GetByParticipant(ctx, c.CallerAddress); err != nil {
			return err
		} else if ok {
			return &ErrAlreadyInCall{Address: c.CallerAddress}
		}
	}
	if c.CalleeTier == identity.PlanFree {
		if _, ok, err := t.store.GetByParticipant(ctx, c.CalleeAddress); err != nil {
			return err
		} else if ok {
			return &ErrAlreadyInCall{Address: c.CalleeAddress}
		}
	}

	now := time.Now()
	c.StartedAt = now
	c.LastHeartbeatCaller = now
	c.LastHeartbeatCallee = now
	return t.store.Create(ctx, c)
}

// Heartbeat refreshes who's heartbeat timestamp for an in-flight call.
func (t *Tracker) Heartbeat(ctx context.Context, callSessionID, who string, at time.Time) error {
	return t.store.UpdateHeartbeat(ctx, callSessionID, who, at)
}

// End deletes the active-call row and credits both participants'
// monthly-seconds counters for the elapsed duration.
func (t *Tracker) End(ctx context.Context, callSessionID string) (*store.ActiveCall, error) {
	c, ok, err := t.store.Get(ctx, callSessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}

	if err := t.creditDuration(ctx, c, time.Now()); err != nil {
		return nil, err
	}
	if err := t.store.Delete(ctx, callSessionID); err != nil {
		return nil, err
	}
	return c, nil
}

func (t *Tracker) creditDuration(ctx context.Context, c *store.ActiveCall, endedAt time.Time) error {
	elapsed := int64(endedAt.Sub(c.StartedAt).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}
	if _, err := t.usage.AddSecondsUsed(ctx, c.CallerAddress, elapsed); err != nil {
		return err
	}
	if _, err := t.usage.AddSecondsUsed(ctx, c.CalleeAddress, elapsed); err != nil {
		return err
	}
	return nil
}

// Sweep scans every active call once and terminates rows that are
// stale (both heartbeats older than StaleHeartbeatThreshold) or past
// their max_duration_seconds, per spec.md §4.9. It returns the set of
// calls it ended so the caller can notify participants.
func (t *Tracker) Sweep(ctx context.Context) ([]Ended, error) {
	calls, err := t.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var ended []Ended

	for _, c := range calls {
		reason, expired := t.expiryReason(c, now)
		if !expired {
			continue
		}

		if err := t.creditDuration(ctx, c, now); err != nil {
			t.logger.Error().Err(err).Str("call_session_id", c.CallSessionID).Msg("failed to credit duration during sweep")
			continue
		}
		if err := t.store.Delete(ctx, c.CallSessionID); err != nil {
			t.logger.Error().Err(err).Str("call_session_id", c.CallSessionID).Msg("failed to delete stale active-call row")
			continue
		}
		ended = append(ended, Ended{Call: c, Reason: reason})
	}

	return ended, nil
}

func (t *Tracker) expiryReason(c *store.ActiveCall, now time.Time) (EndReason, bool) {
	callerStale := now.Sub(c.LastHeartbeatCaller) > StaleHeartbeatThreshold
	calleeStale := now.Sub(c.LastHeartbeatCallee) > StaleHeartbeatThreshold
	if callerStale && calleeStale {
		return EndReasonHeartbeatLost, true
	}

	if c.MaxDurationSeconds != nil {
		if now.Sub(c.StartedAt) > time.Duration(*c.MaxDurationSeconds)*time.Second {
			return EndReasonDurationCap, true
		}
	}

	return "", false
}

// RunSweeper runs Sweep on interval until ctx is cancelled, recovering
// from any panic inside a single pass the way the teacher's worker pool
// recovers task panics — one bad pass logs and retries on the next tick
// instead of killing the process.
func (t *Tracker) RunSweeper(ctx context.Context, interval time.Duration, onEnded func([]Ended)) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.runPass(ctx, onEnded)
		case <-ctx.Done():
			t.logger.Debug().Msg("heartbeat sweeper shutting down")
			return
		}
	}
}

func (t *Tracker) runPass(ctx context.Context, onEnded func([]Ended)) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("heartbeat sweeper pass panicked, continuing on next tick")
		}
	}()

	ended, err := t.Sweep(ctx)
	if err != nil {
		t.logger.Error().Err(err).Msg("heartbeat sweep failed")
		return
	}
	if len(ended) > 0 && onEnded != nil {
		onEnded(ended)
	}
}
