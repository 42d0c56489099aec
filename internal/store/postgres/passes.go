package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/callhub/signalhub/internal/store"
)

type passStore struct {
	db *sqlx.DB
}

type passRow struct {
	ID           string          `db:"id"`
	OwnerAddress string          `db:"owner_address"`
	Kind         string          `db:"kind"`
	UsesLeft     int             `db:"uses_left"`
	PriceCents   decimal.Decimal `db:"price_cents"`
	ExpiresAt    sql.NullTime    `db:"expires_at"`
}

func (r passRow) toDomain() *store.Pass {
	p := &store.Pass{
		ID:           r.ID,
		OwnerAddress: r.OwnerAddress,
		Kind:         store.PassKind(r.Kind),
		UsesLeft:     r.UsesLeft,
		PriceCents:   r.PriceCents,
	}
	if r.ExpiresAt.Valid {
		at := r.ExpiresAt.Time
		p.ExpiresAt = &at
	}
	return p
}

const passCols = `id, owner_address, kind, uses_left, price_cents, expires_at`

func (s *passStore) Create(ctx context.Context, p *store.Pass) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO passes (`+passCols+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.OwnerAddress, string(p.Kind), p.UsesLeft, p.PriceCents, p.ExpiresAt)
	return err
}

func (s *passStore) Get(ctx context.Context, id string) (*store.Pass, bool, error) {
	var r passRow
	err := s.db.GetContext(ctx, &r, `SELECT `+passCols+` FROM passes WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r.toDomain(), true, nil
}

// Consume mirrors internal/store/memory's Consume contract inside a
// single transaction: unlimited passes are a pure read, one-time passes
// delete themselves, limited passes decrement and self-delete at zero.
func (s *passStore) Consume(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var r passRow
	err = tx.QueryRowContext(ctx, `SELECT `+passCols+` FROM passes WHERE id = $1 FOR UPDATE`, id).
		Scan(&r.ID, &r.OwnerAddress, &r.Kind, &r.UsesLeft, &r.PriceCents, &r.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, store.ErrNotFound
	}
	if err != nil {
		return false, err
	}

	if r.ExpiresAt.Valid && r.ExpiresAt.Time.Before(time.Now()) {
		return false, tx.Commit()
	}

	var ok bool
	switch store.PassKind(r.Kind) {
	case store.PassUnlimited:
		ok = true
	case store.PassOneTime:
		if _, err := tx.ExecContext(ctx, `DELETE FROM passes WHERE id = $1`, id); err != nil {
			return false, err
		}
		ok = true
	case store.PassLimited:
		if r.UsesLeft <= 0 {
			ok = false
		} else {
			r.UsesLeft--
			if r.UsesLeft <= 0 {
				if _, err := tx.ExecContext(ctx, `DELETE FROM passes WHERE id = $1`, id); err != nil {
					return false, err
				}
			} else if _, err := tx.ExecContext(ctx, `UPDATE passes SET uses_left = $2 WHERE id = $1`, id, r.UsesLeft); err != nil {
				return false, err
			}
			ok = true
		}
	default:
		ok = false
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return ok, nil
}
