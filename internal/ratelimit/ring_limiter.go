// Package ratelimit implements the per-sender ring-rate limiter
// (spec.md §4.5 item 3) and connection-attempt rate limiting, both
// grounded in ws/internal/shared/limits. The ring limiter keeps
// self-expiring per-pair attempt timestamps in sharded maps, one lock per
// shard; the connection limiter keeps golang.org/x/time/rate token
// buckets (one global, one per IP) behind a single lock.
package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

const ringShardCount = 32

// RingLimiter tracks, per (callee, caller) pair, how many ring attempts
// have landed within a rolling window — spec.md §4.5 item 3: "more than
// max_rings_per_sender attempts within ring_window_minutes -> block".
type RingLimiter struct {
	shards [ringShardCount]ringShard
}

type ringShard struct {
	mu      sync.Mutex
	entries map[string][]time.Time // key -> attempt timestamps, oldest first
}

// NewRingLimiter constructs an empty limiter.
func NewRingLimiter() *RingLimiter {
	l := &RingLimiter{}
	for i := range l.shards {
		l.shards[i].entries = make(map[string][]time.Time)
	}
	return l
}

func key(callee, caller string) string { return callee + "|" + caller }

func (l *RingLimiter) shardFor(k string) *ringShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k))
	return &l.shards[h.Sum32()%ringShardCount]
}

// RecordAndCheck appends an attempt at `now` and reports whether the
// count within `window` (after the append) exceeds `max`. Expired
// entries are pruned from the front on every call — the map
// self-expires on read, as spec.md §5 requires of the rate-limiter.
func (l *RingLimiter) RecordAndCheck(callee, caller string, max int, window time.Duration, now time.Time) (exceeded bool, count int) {
	k := key(callee, caller)
	shard := l.shardFor(k)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	attempts := shard.entries[k]
	cutoff := now.Add(-window)

	kept := attempts[:0]
	for _, t := range attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	shard.entries[k] = kept

	return len(kept) > max, len(kept)
}

// Count returns the number of non-expired attempts recorded for the pair
// without mutating state, for tests/metrics.
func (l *RingLimiter) Count(callee, caller string, window time.Duration, now time.Time) int {
	k := key(callee, caller)
	shard := l.shardFor(k)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	cutoff := now.Add(-window)
	n := 0
	for _, t := range shard.entries[k] {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
