package envelope

import (
	"hash/fnv"
	"sync"
	"time"
)

const (
	nonceTTL        = 5 * time.Minute
	nonceShardCount = 32
)

// NonceMemo is the replay-protection store from spec.md §3 ("Nonce-memo
// (nonce, first_seen_at), TTL-bounded (5 minutes)"). It is sharded the
// way the registry and rate limiters are (§9 "prefer sharding (e.g., 32
// stripes) keyed by hash of the key") so the single global map never
// becomes a contention point under tens of thousands of connections.
type NonceMemo struct {
	shards [nonceShardCount]nonceShard
}

type nonceShard struct {
	mu      sync.Mutex
	entries map[string]time.Time // nonce -> first_seen_at
}

// NewNonceMemo constructs an empty, ready-to-use memo.
func NewNonceMemo() *NonceMemo {
	m := &NonceMemo{}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]time.Time)
	}
	return m
}

func (m *NonceMemo) shardFor(nonce string) *nonceShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(nonce))
	return &m.shards[h.Sum32()%nonceShardCount]
}

// CheckAndInsert atomically checks whether nonce was already seen within
// the TTL window and, if not, inserts it. Returns true if this is the
// first use (accept), false if it is a replay (reject). The check and
// insert happen under the same shard lock, satisfying spec.md's
// "insertion is atomic" requirement without a database round-trip.
func (m *NonceMemo) CheckAndInsert(nonce string, now time.Time) bool {
	shard := m.shardFor(nonce)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if seenAt, ok := shard.entries[nonce]; ok && now.Sub(seenAt) < nonceTTL {
		return false
	}
	shard.entries[nonce] = now
	return true
}

// Prune drops entries older than the TTL window. cmd/hubd calls it on
// every call-sweep interval (spec.md §4.9: "prune nonce memos older than
// 5 min").
func (m *NonceMemo) Prune(now time.Time) int {
	pruned := 0
	for i := range m.shards {
		shard := &m.shards[i]
		shard.mu.Lock()
		for nonce, seenAt := range shard.entries {
			if now.Sub(seenAt) >= nonceTTL {
				delete(shard.entries, nonce)
				pruned++
			}
		}
		shard.mu.Unlock()
	}
	return pruned
}

// Len returns the total number of tracked nonces, for metrics/tests.
func (m *NonceMemo) Len() int {
	n := 0
	for i := range m.shards {
		shard := &m.shards[i]
		shard.mu.Lock()
		n += len(shard.entries)
		shard.mu.Unlock()
	}
	return n
}
