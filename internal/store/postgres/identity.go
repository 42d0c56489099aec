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

type identityStore struct {
	db *sqlx.DB
}

// identityRow mirrors identities for sqlx scanning; identity.Identity
// itself carries no db tags so it stays a plain domain type shared with
// internal/store/memory.
type identityRow struct {
	Address        string    `db:"address"`
	PublicKey      []byte    `db:"public_key"`
	Plan           string    `db:"plan"`
	PlanStatus     string    `db:"plan_status"`
	Role           string    `db:"role"`
	TrialState     string    `db:"trial_state"`
	SuspendedState string    `db:"suspended_state"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r identityRow) toDomain() *identity.Identity {
	return &identity.Identity{
		Address:        r.Address,
		PublicKey:      r.PublicKey,
		Plan:           identity.Plan(r.Plan),
		PlanStatus:     identity.PlanStatus(r.PlanStatus),
		Role:           identity.Role(r.Role),
		TrialState:     r.TrialState,
		SuspendedState: r.SuspendedState,
		CreatedAt:      r.CreatedAt,
	}
}

func (s *identityStore) Get(ctx context.Context, address string) (*identity.Identity, error) {
	var r identityRow
	err := s.db.GetContext(ctx, &r, `SELECT address, public_key, plan, plan_status, role, trial_state, suspended_state, created_at FROM identities WHERE address = $1`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.toDomain(), nil
}

// GetOrCreate inserts a fresh free-tier identity on first sight and is a
// no-op read on every later call; ON CONFLICT DO NOTHING plus a RETURNING
// fallback avoids a separate existence check.
func (s *identityStore) GetOrCreate(ctx context.Context, address string, pubkey []byte) (*identity.Identity, error) {
	var r identityRow
	err := s.db.GetContext(ctx, &r, `
		INSERT INTO identities (address, public_key, plan, plan_status, role, created_at)
		VALUES ($1, $2, 'free', 'active', 'user', now())
		ON CONFLICT (address) DO UPDATE SET address = identities.address
		RETURNING address, public_key, plan, plan_status, role, trial_state, suspended_state, created_at`,
		address, pubkey)
	if err != nil {
		return nil, err
	}
	return r.toDomain(), nil
}

func (s *identityStore) Update(ctx context.Context, id *identity.Identity) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE identities SET plan = $2, plan_status = $3, role = $4, trial_state = $5, suspended_state = $6
		WHERE address = $1`,
		id.Address, string(id.Plan), string(id.PlanStatus), string(id.Role), id.TrialState, id.SuspendedState)
	return err
}
