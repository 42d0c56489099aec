package memory

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/callhub/signalhub/internal/store"
)

const convoLockShards = 64

// conversationStore implements the per-conversation seq assignment
// (spec.md §4.7, Invariant I1/I2) with one mutex per lock-shard keyed by
// hash(convo_id) — the in-memory analogue of the Postgres advisory lock
// the spec calls for. A single mutex already serializes every writer
// for a given shard, so there is no unique-constraint race to retry on;
// the Postgres implementation keeps the retry-with-backoff path because
// its advisory lock and its insert run in separate round-trips.
type conversationStore struct {
	mu         sync.RWMutex
	convos     map[string]*store.Conversation
	messages   map[string][]*store.Message // convoID -> messages ordered by seq
	lockShards [convoLockShards]sync.Mutex
}

func newConversationStore() *conversationStore {
	return &conversationStore{
		convos:   make(map[string]*store.Conversation),
		messages: make(map[string][]*store.Message),
	}
}

func (s *conversationStore) lockFor(convoID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(convoID))
	return &s.lockShards[h.Sum32()%convoLockShards]
}

func (s *conversationStore) GetOrCreate(_ context.Context, conv *store.Conversation) (*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.convos[conv.ID]; ok {
		cp := *existing
		return &cp, nil
	}

	cp := *conv
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	participants := append([]string(nil), cp.Participants...)
	sort.Strings(participants)
	cp.Participants = participants
	s.convos[conv.ID] = &cp

	out := cp
	return &out, nil
}

func (s *conversationStore) Get(_ context.Context, id string) (*store.Conversation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convos[id]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	return &cp, true, nil
}

func (s *conversationStore) ListForParticipant(_ context.Context, address string) ([]*store.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.Conversation
	for _, c := range s.convos {
		for _, p := range c.Participants {
			if p == address {
				cp := *c
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

// AppendMessage assigns seq = max(seq over convo_id) + 1 and a
// monotone-non-decreasing ServerTimestamp, holding the per-shard lock
// for the duration — the only ordering primitive spec.md §5 grants
// within a conversation.
func (s *conversationStore) AppendMessage(_ context.Context, msg *store.Message) error {
	lock := s.lockFor(msg.ConvoID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	existing := s.messages[msg.ConvoID]
	var lastSeq int64
	var lastTS time.Time
	if n := len(existing); n > 0 {
		lastSeq = existing[n-1].Seq
		lastTS = existing[n-1].ServerTimestamp
	}

	msg.Seq = lastSeq + 1
	now := time.Now()
	if now.Before(lastTS) {
		now = lastTS
	}
	msg.ServerTimestamp = now

	cp := *msg
	s.messages[msg.ConvoID] = append(existing, &cp)

	if conv, ok := s.convos[msg.ConvoID]; ok {
		conv.LastMessageSeq = msg.Seq
	}
	s.mu.Unlock()

	return nil
}

func (s *conversationStore) GetMessagesSince(_ context.Context, convoID string, sinceSeq int64, limit int) ([]*store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var out []*store.Message
	for _, m := range s.messages[convoID] {
		if m.Seq > sinceSeq {
			cp := *m
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *conversationStore) GetMessagesBefore(_ context.Context, convoID string, beforeTS time.Time, limit int) ([]*store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	all := s.messages[convoID]
	var out []*store.Message
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if all[i].ServerTimestamp.Before(beforeTS) {
			cp := *all[i]
			out = append(out, &cp)
		}
	}
	// Return in ascending order to match the paginated-history contract.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *conversationStore) ListPending(_ context.Context, toAddress string) ([]*store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.Message
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if m.ToAddress == toAddress && m.Status == store.MessagePending {
				cp := *m
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *conversationStore) MarkStatus(_ context.Context, messageID string, status store.MessageStatus) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msgs := range s.messages {
		for _, m := range msgs {
			if m.ID == messageID {
				m.Status = status
				cp := *m
				return &cp, nil
			}
		}
	}
	return nil, store.ErrNotFound
}
