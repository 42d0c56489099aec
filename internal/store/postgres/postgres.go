// Package postgres is the sqlx-backed, canonical production
// implementation of internal/store (SPEC_FULL.md Open Question 1):
// cross-process deployments point every hubd instance at the same
// Postgres database so registry state stays process-local while
// everything in this package is shared.
//
// The lib/pq driver registration (its blank import) lives only in
// cmd/hubd/main.go, which opens the database and hands this package a
// *sqlx.DB; this package imports lib/pq only for pq.StringArray and
// pq.Error — nothing here imports database/sql/driver directly.
package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/callhub/signalhub/internal/store"
)

// pgStore wires every sqlx-backed sub-store into store.Store.
type pgStore struct {
	identities    *identityStore
	contacts      *contactStore
	policies      *policyStore
	usage         *usageStore
	activeCalls   *activeCallStore
	conversations *conversationStore
	tokens        *tokenStore
	passes        *passStore
}

// New builds the Postgres-backed Store over an already-open *sqlx.DB.
// Callers are responsible for running the schema migration (Schema)
// before traffic hits it, and for closing db on shutdown.
func New(db *sqlx.DB) store.Store {
	return &pgStore{
		identities:    &identityStore{db: db},
		contacts:      &contactStore{db: db},
		policies:      &policyStore{db: db},
		usage:         &usageStore{db: db},
		activeCalls:   &activeCallStore{db: db},
		conversations: &conversationStore{db: db},
		tokens:        &tokenStore{db: db},
		passes:        &passStore{db: db},
	}
}

func (s *pgStore) Identities() store.IdentityStore { return s.identities }
func (s *pgStore) Contacts() store.ContactStore { return s.contacts }
func (s *pgStore) Policies() store.PolicyStore { return s.policies }
func (s *pgStore) Usage() store.UsageStore { return s.usage }
func (s *pgStore) ActiveCalls() store.ActiveCallStore { return s.activeCalls }
func (s *pgStore) Conversations() store.ConversationStore { return s.conversations }
func (s *pgStore) Tokens() store.TokenStore { return s.tokens }
func (s *pgStore) Passes() store.PassStore { return s.passes }
