package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/callhub/signalhub/internal/identity"
	"github.com/callhub/signalhub/internal/store"
)

type activeCallStore struct {
	db *sqlx.DB
}

type activeCallRow struct {
	CallSessionID       string    `db:"call_session_id"`
	CallerAddress       string    `db:"caller_address"`
	CalleeAddress       string    `db:"callee_address"`
	CallerTier          string    `db:"caller_tier"`
	CalleeTier          string    `db:"callee_tier"`
	StartedAt           time.Time `db:"started_at"`
	LastHeartbeatCaller time.Time `db:"last_heartbeat_caller"`
	LastHeartbeatCallee time.Time `db:"last_heartbeat_callee"`
	MaxDurationSeconds  *int      `db:"max_duration_seconds"`
	RelayUsed           bool      `db:"relay_used"`
}

func (r activeCallRow) toDomain() *store.ActiveCall {
	return &store.ActiveCall{
		CallSessionID:       r.CallSessionID,
		CallerAddress:       r.CallerAddress,
		CalleeAddress:       r.CalleeAddress,
		CallerTier:          identity.Plan(r.CallerTier),
		CalleeTier:          identity.Plan(r.CalleeTier),
		StartedAt:           r.StartedAt,
		LastHeartbeatCaller: r.LastHeartbeatCaller,
		LastHeartbeatCallee: r.LastHeartbeatCallee,
		MaxDurationSeconds:  r.MaxDurationSeconds,
		RelayUsed:           r.RelayUsed,
	}
}

func (s *activeCallStore) Create(ctx context.Context, c *store.ActiveCall) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO active_calls (call_session_id, caller_address, callee_address, caller_tier, callee_tier,
			started_at, last_heartbeat_caller, last_heartbeat_callee, max_duration_seconds, relay_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.CallSessionID, c.CallerAddress, c.CalleeAddress, string(c.CallerTier), string(c.CalleeTier),
		c.StartedAt, c.LastHeartbeatCaller, c.LastHeartbeatCallee, c.MaxDurationSeconds, c.RelayUsed)
	return err
}

const activeCallCols = `call_session_id, caller_address, callee_address, caller_tier, callee_tier,
	started_at, last_heartbeat_caller, last_heartbeat_callee, max_duration_seconds, relay_used`

func (s *activeCallStore) Get(ctx context.Context, id string) (*store.ActiveCall, bool, error) {
	var r activeCallRow
	err := s.db.GetContext(ctx, &r, `SELECT `+activeCallCols+` FROM active_calls WHERE call_session_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r.toDomain(), true, nil
}

func (s *activeCallStore) GetByParticipant(ctx context.Context, address string) (*store.ActiveCall, bool, error) {
	var r activeCallRow
	err := s.db.GetContext(ctx, &r, `
		SELECT `+activeCallCols+` FROM active_calls WHERE caller_address = $1 OR callee_address = $1 LIMIT 1`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r.toDomain(), true, nil
}

func (s *activeCallStore) UpdateHeartbeat(ctx context.Context, id, who string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE active_calls SET
			last_heartbeat_caller = CASE WHEN caller_address = $2 THEN $3 ELSE last_heartbeat_caller END,
			last_heartbeat_callee = CASE WHEN callee_address = $2 THEN $3 ELSE last_heartbeat_callee END
		WHERE call_session_id = $1`, id, who, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *activeCallStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM active_calls WHERE call_session_id = $1`, id)
	return err
}

func (s *activeCallStore) ListAll(ctx context.Context) ([]*store.ActiveCall, error) {
	var rows []activeCallRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+activeCallCols+` FROM active_calls`); err != nil {
		return nil, err
	}
	out := make([]*store.ActiveCall, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}
