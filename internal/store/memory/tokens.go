package memory

import (
	"context"
	"sync"
	"time"

	"github.com/callhub/signalhub/internal/store"
)

type tokenStore struct {
	mu     sync.Mutex
	tokens map[string]*store.CallToken
}

func newTokenStore() *tokenStore {
	return &tokenStore{tokens: make(map[string]*store.CallToken)}
}

func (s *tokenStore) Create(_ context.Context, t *store.CallToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tokens[t.Token] = &cp
	return nil
}

func (s *tokenStore) Get(_ context.Context, token string) (*store.CallToken, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, false, nil
	}
	cp := *t
	return &cp, true, nil
}

// MarkUsed implements Invariant I3's single-use transition: UsedAt flips
// from nil to non-nil exactly once. Holding the store mutex for the
// whole check-then-set is the in-memory equivalent of the Postgres
// implementation's `UPDATE ... WHERE used_at IS NULL` affected-row check.
func (s *tokenStore) MarkUsed(_ context.Context, token string, usedAt time.Time, byIP string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	if !ok {
		return false, store.ErrNotFound
	}
	if t.UsedAt != nil {
		return false, nil
	}
	at := usedAt
	t.UsedAt = &at
	t.UsedByIP = byIP
	return true, nil
}

func (s *tokenStore) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, t := range s.tokens {
		if t.ExpiresAt.Before(cutoff) {
			delete(s.tokens, k)
			n++
		}
	}
	return n, nil
}
