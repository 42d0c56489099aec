// Package memory is the in-memory implementation of internal/store,
// canonical for single-process deployments and this repository's test
// suite (SPEC_FULL.md Open Question 1).
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/callhub/signalhub/internal/identity"
	"github.com/callhub/signalhub/internal/store"
)

type identityStore struct {
	mu   sync.RWMutex
	byID map[string]*identity.Identity
}

func newIdentityStore() *identityStore {
	return &identityStore{byID: make(map[string]*identity.Identity)}
}

func (s *identityStore) Get(_ context.Context, address string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byID[address]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *id
	return &cp, nil
}

func (s *identityStore) GetOrCreate(_ context.Context, address string, pubkey []byte) (*identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byID[address]; ok {
		cp := *id
		return &cp, nil
	}

	id := &identity.Identity{
		Address:    address,
		PublicKey:  append([]byte(nil), pubkey...),
		Plan:       identity.PlanFree,
		PlanStatus: identity.PlanStatusActive,
		Role:       identity.RoleUser,
		CreatedAt:  time.Now(),
	}
	s.byID[address] = id
	cp := *id
	return &cp, nil
}

func (s *identityStore) Update(_ context.Context, id *identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *id
	s.byID[id.Address] = &cp
	return nil
}
