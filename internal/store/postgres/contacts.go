package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/callhub/signalhub/internal/store"
)

type contactStore struct {
	db *sqlx.DB
}

func (s *contactStore) Add(ctx context.Context, c *store.Contact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (owner_address, contact_address, name, always_allowed)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_address, contact_address) DO UPDATE SET name = $3, always_allowed = $4`,
		c.OwnerAddress, c.ContactAddress, c.Name, c.AlwaysAllowed)
	return err
}

func (s *contactStore) Get(ctx context.Context, owner, contact string) (*store.Contact, bool, error) {
	var c store.Contact
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_address, contact_address, name, always_allowed FROM contacts
		WHERE owner_address = $1 AND contact_address = $2`, owner, contact).
		Scan(&c.OwnerAddress, &c.ContactAddress, &c.Name, &c.AlwaysAllowed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &c, true, nil
}

func (s *contactStore) IsRelated(ctx context.Context, a, b string) (bool, error) {
	var related bool
	err := s.db.GetContext(ctx, &related, `
		SELECT EXISTS (
			SELECT 1 FROM contacts
			WHERE (owner_address = $1 AND contact_address = $2)
			   OR (owner_address = $2 AND contact_address = $1)
		)`, a, b)
	return related, err
}

func (s *contactStore) Override(ctx context.Context, owner, contact string) (store.ContactOverride, error) {
	var override sql.NullString
	err := s.db.GetContext(ctx, &override, `
		SELECT override FROM contacts WHERE owner_address = $1 AND contact_address = $2`, owner, contact)
	if errors.Is(err, sql.ErrNoRows) {
		return store.OverrideNone, nil
	}
	if err != nil {
		return store.OverrideNone, err
	}
	return store.ContactOverride(override.String), nil
}

// SetOverride upserts a bare override row: a routing override can be set
// before a corresponding Add call ever creates the contact relationship.
func (s *contactStore) SetOverride(ctx context.Context, owner, contact string, override store.ContactOverride) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (owner_address, contact_address, override)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_address, contact_address) DO UPDATE SET override = $3`,
		owner, contact, string(override))
	return err
}
