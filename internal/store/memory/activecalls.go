package memory

import (
	"context"
	"sync"
	"time"

	"github.com/callhub/signalhub/internal/store"
)

type activeCallStore struct {
	mu            sync.RWMutex
	byID          map[string]*store.ActiveCall
	byParticipant map[string]string // address -> call_session_id
}

func newActiveCallStore() *activeCallStore {
	return &activeCallStore{
		byID:          make(map[string]*store.ActiveCall),
		byParticipant: make(map[string]string),
	}
}

func (s *activeCallStore) Create(_ context.Context, c *store.ActiveCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.byID[c.CallSessionID] = &cp
	s.byParticipant[c.CallerAddress] = c.CallSessionID
	s.byParticipant[c.CalleeAddress] = c.CallSessionID
	return nil
}

func (s *activeCallStore) Get(_ context.Context, id string) (*store.ActiveCall, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	return &cp, true, nil
}

func (s *activeCallStore) GetByParticipant(_ context.Context, address string) (*store.ActiveCall, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byParticipant[address]
	if !ok {
		return nil, false, nil
	}
	c, ok := s.byID[id]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	return &cp, true, nil
}

func (s *activeCallStore) UpdateHeartbeat(_ context.Context, id, who string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	switch who {
	case c.CallerAddress:
		c.LastHeartbeatCaller = at
	case c.CalleeAddress:
		c.LastHeartbeatCallee = at
	}
	return nil
}

func (s *activeCallStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byID, id)
	if s.byParticipant[c.CallerAddress] == id {
		delete(s.byParticipant, c.CallerAddress)
	}
	if s.byParticipant[c.CalleeAddress] == id {
		delete(s.byParticipant, c.CalleeAddress)
	}
	return nil
}

func (s *activeCallStore) ListAll(_ context.Context) ([]*store.ActiveCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.ActiveCall, 0, len(s.byID))
	for _, c := range s.byID {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}
