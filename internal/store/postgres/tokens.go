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

type tokenStore struct {
	db *sqlx.DB
}

type callTokenRow struct {
	Token         string       `db:"token"`
	NonceHash     []byte       `db:"nonce_hash"`
	UserAddress   string       `db:"user_address"`
	TargetAddress string       `db:"target_address"`
	Plan          string       `db:"plan"`
	AllowTURN     bool         `db:"allow_turn"`
	AllowVideo    bool         `db:"allow_video"`
	IssuedAt      time.Time    `db:"issued_at"`
	ExpiresAt     time.Time    `db:"expires_at"`
	UsedAt        sql.NullTime `db:"used_at"`
	UsedByIP      string       `db:"used_by_ip"`
}

func (r callTokenRow) toDomain() *store.CallToken {
	t := &store.CallToken{
		Token:         r.Token,
		UserAddress:   r.UserAddress,
		TargetAddress: r.TargetAddress,
		Plan:          identity.Plan(r.Plan),
		AllowTURN:     r.AllowTURN,
		AllowVideo:    r.AllowVideo,
		IssuedAt:      r.IssuedAt,
		ExpiresAt:     r.ExpiresAt,
		UsedByIP:      r.UsedByIP,
	}
	copy(t.NonceHash[:], r.NonceHash)
	if r.UsedAt.Valid {
		at := r.UsedAt.Time
		t.UsedAt = &at
	}
	return t
}

const callTokenCols = `token, nonce_hash, user_address, target_address, plan, allow_turn, allow_video,
	issued_at, expires_at, used_at, used_by_ip`

func (s *tokenStore) Create(ctx context.Context, t *store.CallToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_tokens (`+callTokenCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.Token, t.NonceHash[:], t.UserAddress, t.TargetAddress, string(t.Plan), t.AllowTURN, t.AllowVideo,
		t.IssuedAt, t.ExpiresAt, t.UsedAt, t.UsedByIP)
	return err
}

func (s *tokenStore) Get(ctx context.Context, token string) (*store.CallToken, bool, error) {
	var r callTokenRow
	err := s.db.GetContext(ctx, &r, `SELECT `+callTokenCols+` FROM call_tokens WHERE token = $1`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r.toDomain(), true, nil
}

// MarkUsed implements Invariant I3 (single-use) as a single UPDATE
// guarded by `used_at IS NULL`: the affected-row count tells us whether
// this call won the race or lost it to a concurrent replay.
func (s *tokenStore) MarkUsed(ctx context.Context, token string, usedAt time.Time, byIP string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE call_tokens SET used_at = $2, used_by_ip = $3 WHERE token = $1 AND used_at IS NULL`,
		token, usedAt, byIP)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		var exists bool
		if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM call_tokens WHERE token = $1)`, token); err != nil {
			return false, err
		}
		if !exists {
			return false, store.ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (s *tokenStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM call_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
