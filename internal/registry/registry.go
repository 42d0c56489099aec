// Package registry maintains the address -> live connection map
// (spec.md §4.2, §9 "registry actor"). It is the single mediator for
// connection ownership: handlers hold only an address and go through the
// registry to reach a peer's socket, mirroring the "message passing"
// design note in spec.md §9.
package registry

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

// Conn is the minimal surface the registry needs from a live connection.
// The signaling transport layer implements this.
type Conn interface {
	// ID is a process-unique, monotonically assigned connection id.
	ID() int64
	// Send enqueues a frame for the connection's write pump. Best-effort:
	// implementations must never block the caller indefinitely.
	Send(frame []byte) bool
	// Close closes the connection, optionally after sending a polite
	// close frame carrying reason.
	Close(reason string)
}

type entry struct {
	conn     Conn
	lastSeen time.Time
}

type shard struct {
	mu     sync.RWMutex
	byAddr map[string]entry
}

// Registry is a sharded address->connection map.
type Registry struct {
	shards [shardCount]shard
}

// New constructs an empty Registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].byAddr = make(map[string]entry)
	}
	return r
}

func (r *Registry) shardFor(address string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(address))
	return &r.shards[h.Sum32()%shardCount]
}

// Register binds address to conn. A pre-existing registration for the
// same address is displaced: its old connection is closed with a polite
// reason, per spec.md §4.2 ("a new registration for an already-registered
// address displaces the old connection").
func (r *Registry) Register(address string, conn Conn) {
	s := r.shardFor(address)

	s.mu.Lock()
	old, existed := s.byAddr[address]
	s.byAddr[address] = entry{conn: conn, lastSeen: time.Now()}
	s.mu.Unlock()

	if existed && old.conn.ID() != conn.ID() {
		old.conn.Close("displaced_by_new_connection")
	}
}

// Unregister removes address's registration, but only if it still points
// at conn (guards against a stale disconnect racing a newer registration).
func (r *Registry) Unregister(address string, conn Conn) {
	s := r.shardFor(address)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.byAddr[address]; ok && cur.conn.ID() == conn.ID() {
		delete(s.byAddr, address)
	}
}

// Lookup returns the live connection for address, if any.
func (r *Registry) Lookup(address string) (Conn, bool) {
	s := r.shardFor(address)

	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byAddr[address]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Online reports whether address currently has a live connection
// (spec.md §4.2: "surfaces an online(address) -> bool primitive").
func (r *Registry) Online(address string) bool {
	_, ok := r.Lookup(address)
	return ok
}

// Touch updates last_seen for address, if it is the current owner.
func (r *Registry) Touch(address string, conn Conn) {
	s := r.shardFor(address)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.byAddr[address]; ok && cur.conn.ID() == conn.ID() {
		cur.lastSeen = time.Now()
		s.byAddr[address] = cur
	}
}

// LastSeen returns the last-seen time for address, if registered.
func (r *Registry) LastSeen(address string) (time.Time, bool) {
	s := r.shardFor(address)

	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byAddr[address]
	if !ok {
		return time.Time{}, false
	}
	return e.lastSeen, true
}

// IsOwner reports whether connID is the connection currently registered
// under address. Implements envelope.ConnectionOwnership.
func (r *Registry) IsOwner(address string, connID int64) bool {
	s := r.shardFor(address)

	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byAddr[address]
	return ok && e.conn.ID() == connID
}

// Send delivers frame to address's live connection if one exists.
// Returns false if the target is offline (spec.md §4.8:
// "otherwise dropped silently" / "reported to the sender" depending on
// the caller's relay-vs-notify semantics).
func (r *Registry) Send(address string, frame []byte) bool {
	conn, ok := r.Lookup(address)
	if !ok {
		return false
	}
	return conn.Send(frame)
}

// Count returns the number of currently registered addresses.
func (r *Registry) Count() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.byAddr)
		s.mu.RUnlock()
	}
	return n
}
