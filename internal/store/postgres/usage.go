package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/callhub/signalhub/internal/store"
)

type usageStore struct {
	db *sqlx.DB
}

type usageRow struct {
	UserAddress       string       `db:"user_address"`
	DayKey            string       `db:"day_key"`
	MonthKey          string       `db:"month_key"`
	CallsStartedToday int          `db:"calls_started_today"`
	FailedStartsToday int          `db:"failed_starts_today"`
	CallAttemptsHour  int          `db:"call_attempts_hour"`
	HourKey           string       `db:"hour_key"`
	SecondsUsedMonth  int64        `db:"seconds_used_month"`
	RelayPenaltyUntil sql.NullTime `db:"relay_penalty_until"`
}

func (r usageRow) toDomain(relayCallsAt []time.Time) *store.UsageCounter {
	uc := &store.UsageCounter{
		UserAddress:       r.UserAddress,
		DayKey:            r.DayKey,
		MonthKey:          r.MonthKey,
		CallsStartedToday: r.CallsStartedToday,
		FailedStartsToday: r.FailedStartsToday,
		CallAttemptsHour:  r.CallAttemptsHour,
		HourKey:           r.HourKey,
		SecondsUsedMonth:  r.SecondsUsedMonth,
		RelayCallsAt:      relayCallsAt,
	}
	if r.RelayPenaltyUntil.Valid {
		at := r.RelayPenaltyUntil.Time
		uc.RelayPenaltyUntil = &at
	}
	return uc
}

// Get auto-provisions a zero-value counter on first read, mirroring
// internal/store/memory's lazy-create Get.
func (s *usageStore) Get(ctx context.Context, address string) (*store.UsageCounter, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_counters (user_address) VALUES ($1) ON CONFLICT (user_address) DO NOTHING`, address)
	if err != nil {
		return nil, err
	}

	var r usageRow
	if err := s.db.GetContext(ctx, &r, `
		SELECT user_address, day_key, month_key, calls_started_today, failed_starts_today,
			call_attempts_hour, hour_key, seconds_used_month, relay_penalty_until
		FROM usage_counters WHERE user_address = $1`, address); err != nil {
		return nil, err
	}

	var relayCallsAt []time.Time
	if err := s.db.SelectContext(ctx, &relayCallsAt, `
		SELECT at FROM usage_relay_calls WHERE user_address = $1 ORDER BY at`, address); err != nil {
		return nil, err
	}
	return r.toDomain(relayCallsAt), nil
}

// Save replaces the counter row and the full relay-call timestamp set
// in one transaction; callers always pass the complete slice (the
// internal/usage rollover logic trims it before saving), so a
// delete-then-bulk-insert is simpler than a diff.
func (s *usageStore) Save(ctx context.Context, uc *store.UsageCounter) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_counters (user_address, day_key, month_key, calls_started_today, failed_starts_today,
			call_attempts_hour, hour_key, seconds_used_month, relay_penalty_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_address) DO UPDATE SET
			day_key = $2, month_key = $3, calls_started_today = $4, failed_starts_today = $5,
			call_attempts_hour = $6, hour_key = $7, seconds_used_month = $8, relay_penalty_until = $9`,
		uc.UserAddress, uc.DayKey, uc.MonthKey, uc.CallsStartedToday, uc.FailedStartsToday,
		uc.CallAttemptsHour, uc.HourKey, uc.SecondsUsedMonth, uc.RelayPenaltyUntil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM usage_relay_calls WHERE user_address = $1`, uc.UserAddress); err != nil {
		return err
	}
	for _, at := range uc.RelayCallsAt {
		if _, err := tx.ExecContext(ctx, `INSERT INTO usage_relay_calls (user_address, at) VALUES ($1, $2)`, uc.UserAddress, at); err != nil {
			return err
		}
	}

	return tx.Commit()
}
