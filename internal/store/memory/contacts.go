package memory

import (
	"context"
	"sync"

	"github.com/callhub/signalhub/internal/store"
)

type contactKey struct{ owner, contact string }

type contactStore struct {
	mu        sync.RWMutex
	contacts  map[contactKey]*store.Contact
	overrides map[contactKey]store.ContactOverride
}

func newContactStore() *contactStore {
	return &contactStore{
		contacts:  make(map[contactKey]*store.Contact),
		overrides: make(map[contactKey]store.ContactOverride),
	}
}

func (s *contactStore) Add(_ context.Context, c *store.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.contacts[contactKey{c.OwnerAddress, c.ContactAddress}] = &cp
	return nil
}

func (s *contactStore) Get(_ context.Context, owner, contact string) (*store.Contact, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[contactKey{owner, contact}]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	return &cp, true, nil
}

func (s *contactStore) IsRelated(_ context.Context, a, b string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, fwd := s.contacts[contactKey{a, b}]
	_, rev := s.contacts[contactKey{b, a}]
	return fwd || rev, nil
}

func (s *contactStore) Override(_ context.Context, owner, contact string) (store.ContactOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overrides[contactKey{owner, contact}], nil
}

func (s *contactStore) SetOverride(_ context.Context, owner, contact string, override store.ContactOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[contactKey{owner, contact}] = override
	return nil
}
