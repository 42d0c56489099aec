package memory

import (
	"context"
	"sync"
	"time"

	"github.com/callhub/signalhub/internal/store"
)

type usageStore struct {
	mu     sync.Mutex
	byAddr map[string]*store.UsageCounter
}

func newUsageStore() *usageStore {
	return &usageStore{byAddr: make(map[string]*store.UsageCounter)}
}

func (s *usageStore) Get(_ context.Context, address string) (*store.UsageCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	uc, ok := s.byAddr[address]
	if !ok {
		uc = &store.UsageCounter{UserAddress: address}
		s.byAddr[address] = uc
	}
	cp := *uc
	cp.RelayCallsAt = append([]time.Time(nil), uc.RelayCallsAt...)
	return &cp, nil
}

func (s *usageStore) Save(_ context.Context, uc *store.UsageCounter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *uc
	cp.RelayCallsAt = append([]time.Time(nil), uc.RelayCallsAt...)
	s.byAddr[uc.UserAddress] = &cp
	return nil
}
