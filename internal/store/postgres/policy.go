package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/callhub/signalhub/internal/store"
)

type policyStore struct {
	db *sqlx.DB
}

type policyRow struct {
	UserAddress           string `db:"user_address"`
	AllowCallsFrom        string `db:"allow_calls_from"`
	UnknownCallerBehavior string `db:"unknown_caller_behavior"`
	MaxRingsPerSender     int    `db:"max_rings_per_sender"`
	RingWindowMinutes     int    `db:"ring_window_minutes"`
	AutoBlockAfterRejects int    `db:"auto_block_after_rejects"`
	VoicemailEnabled      bool   `db:"voicemail_enabled"`
	RequiresPayment       bool   `db:"requires_payment"`
	BusinessHoursStart    int    `db:"business_hours_start"`
	BusinessHoursEnd      int    `db:"business_hours_end"`
}

func (r policyRow) toDomain() *store.Policy {
	return &store.Policy{
		UserAddress:           r.UserAddress,
		AllowCallsFrom:        store.AllowCallsFrom(r.AllowCallsFrom),
		UnknownCallerBehavior: store.UnknownCallerBehavior(r.UnknownCallerBehavior),
		MaxRingsPerSender:     r.MaxRingsPerSender,
		RingWindowMinutes:     r.RingWindowMinutes,
		AutoBlockAfterRejects: r.AutoBlockAfterRejects,
		VoicemailEnabled:      r.VoicemailEnabled,
		RequiresPayment:       r.RequiresPayment,
		BusinessHoursStart:    r.BusinessHoursStart,
		BusinessHoursEnd:      r.BusinessHoursEnd,
	}
}

// Get auto-provisions the default free-tier policy on first read, the
// same contract internal/store/memory implements with a plain map
// check; here that's an INSERT ... ON CONFLICT DO NOTHING followed by
// a read, since there's no single round-trip upsert-and-return for a
// "only if absent" default.
func (s *policyStore) Get(ctx context.Context, address string) (*store.Policy, error) {
	d := store.DefaultPolicy(address)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policies (user_address, allow_calls_from, unknown_caller_behavior, max_rings_per_sender,
			ring_window_minutes, auto_block_after_rejects, voicemail_enabled, requires_payment,
			business_hours_start, business_hours_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_address) DO NOTHING`,
		d.UserAddress, string(d.AllowCallsFrom), string(d.UnknownCallerBehavior), d.MaxRingsPerSender,
		d.RingWindowMinutes, d.AutoBlockAfterRejects, d.VoicemailEnabled, d.RequiresPayment,
		d.BusinessHoursStart, d.BusinessHoursEnd)
	if err != nil {
		return nil, err
	}

	var r policyRow
	err = s.db.GetContext(ctx, &r, `
		SELECT user_address, allow_calls_from, unknown_caller_behavior, max_rings_per_sender,
			ring_window_minutes, auto_block_after_rejects, voicemail_enabled, requires_payment,
			business_hours_start, business_hours_end
		FROM policies WHERE user_address = $1`, address)
	if err != nil {
		return nil, err
	}
	return r.toDomain(), nil
}

func (s *policyStore) Save(ctx context.Context, p *store.Policy) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policies (user_address, allow_calls_from, unknown_caller_behavior, max_rings_per_sender,
			ring_window_minutes, auto_block_after_rejects, voicemail_enabled, requires_payment,
			business_hours_start, business_hours_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_address) DO UPDATE SET
			allow_calls_from = $2, unknown_caller_behavior = $3, max_rings_per_sender = $4,
			ring_window_minutes = $5, auto_block_after_rejects = $6, voicemail_enabled = $7,
			requires_payment = $8, business_hours_start = $9, business_hours_end = $10`,
		p.UserAddress, string(p.AllowCallsFrom), string(p.UnknownCallerBehavior), p.MaxRingsPerSender,
		p.RingWindowMinutes, p.AutoBlockAfterRejects, p.VoicemailEnabled, p.RequiresPayment,
		p.BusinessHoursStart, p.BusinessHoursEnd)
	return err
}

func (s *policyStore) IsBlocked(ctx context.Context, owner, blocked string) (bool, error) {
	var until sql.NullTime
	err := s.db.GetContext(ctx, &until, `
		SELECT until FROM policy_blocks WHERE owner_address = $1 AND blocked_address = $2`, owner, blocked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !until.Valid {
		return true, nil
	}
	return time.Now().Before(until.Time), nil
}

func (s *policyStore) Block(ctx context.Context, owner, blocked string, until *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policy_blocks (owner_address, blocked_address, until)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_address, blocked_address) DO UPDATE SET until = $3`,
		owner, blocked, until)
	return err
}

func (s *policyStore) Unblock(ctx context.Context, owner, blocked string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM policy_blocks WHERE owner_address = $1 AND blocked_address = $2`, owner, blocked)
	return err
}

func (s *policyStore) RejectionCount(ctx context.Context, callee, caller string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT count FROM policy_rejections WHERE callee_address = $1 AND caller_address = $2`, callee, caller)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

func (s *policyStore) RecordRejection(ctx context.Context, callee, caller string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		INSERT INTO policy_rejections (callee_address, caller_address, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (callee_address, caller_address) DO UPDATE SET count = policy_rejections.count + 1
		RETURNING count`, callee, caller)
	return count, err
}
