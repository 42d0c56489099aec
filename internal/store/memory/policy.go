package memory

import (
	"context"
	"sync"
	"time"

	"github.com/callhub/signalhub/internal/store"
)

type blockKey struct{ owner, blocked string }

type policyStore struct {
	mu         sync.RWMutex
	policies   map[string]*store.Policy
	blocks     map[blockKey]*time.Time // nil = indefinite
	rejections map[blockKey]int
}

func newPolicyStore() *policyStore {
	return &policyStore{
		policies:   make(map[string]*store.Policy),
		blocks:     make(map[blockKey]*time.Time),
		rejections: make(map[blockKey]int),
	}
}

func (s *policyStore) Get(_ context.Context, address string) (*store.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[address]
	if !ok {
		p = store.DefaultPolicy(address)
		s.policies[address] = p
	}
	cp := *p
	return &cp, nil
}

func (s *policyStore) Save(_ context.Context, p *store.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.policies[p.UserAddress] = &cp
	return nil
}

func (s *policyStore) IsBlocked(_ context.Context, owner, blocked string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	until, ok := s.blocks[blockKey{owner, blocked}]
	if !ok {
		return false, nil
	}
	if until == nil {
		return true, nil
	}
	return time.Now().Before(*until), nil
}

func (s *policyStore) Block(_ context.Context, owner, blocked string, until *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[blockKey{owner, blocked}] = until
	return nil
}

func (s *policyStore) Unblock(_ context.Context, owner, blocked string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, blockKey{owner, blocked})
	return nil
}

func (s *policyStore) RejectionCount(_ context.Context, callee, caller string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rejections[blockKey{callee, caller}], nil
}

func (s *policyStore) RecordRejection(_ context.Context, callee, caller string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := blockKey{callee, caller}
	s.rejections[k]++
	return s.rejections[k], nil
}
