package memory

import (
	"context"
	"sync"
	"time"

	"github.com/callhub/signalhub/internal/store"
)

type passStore struct {
	mu   sync.Mutex
	byID map[string]*store.Pass
}

func newPassStore() *passStore {
	return &passStore{byID: make(map[string]*store.Pass)}
}

func (s *passStore) Create(_ context.Context, p *store.Pass) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.byID[p.ID] = &cp
	return nil
}

func (s *passStore) Get(_ context.Context, id string) (*store.Pass, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, false, nil
	}
	cp := *p
	return &cp, true, nil
}

// Consume decrements UsesLeft for a limited pass and reports whether the
// pass is still usable. One-time passes are consumed and invalidated in
// a single call; unlimited passes never expire from use.
func (s *passStore) Consume(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if p.ExpiresAt != nil && p.ExpiresAt.Before(time.Now()) {
		return false, nil
	}

	switch p.Kind {
	case store.PassUnlimited:
		return true, nil
	case store.PassOneTime:
		delete(s.byID, id)
		return true, nil
	case store.PassLimited:
		if p.UsesLeft <= 0 {
			return false, nil
		}
		p.UsesLeft--
		if p.UsesLeft <= 0 {
			delete(s.byID, id)
		}
		return true, nil
	default:
		return false, nil
	}
}
