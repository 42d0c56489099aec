package signaling

import (
	"hash/fnv"
	"sync"

	"github.com/callhub/signalhub/internal/identity"
)

// callPhase is the server-side per-call state from spec.md §4.8.
type callPhase int

const (
	phaseRinging callPhase = iota
	phaseConnecting
	phaseConnected
	phaseEnded
)

// pendingCall tracks a call between RINGING and ENDED. It is deliberately
// thin: the durable record of an in-progress call is
// store.ActiveCall (owned by internal/calltracker), created when the
// callee's call:accept moves the call to CONNECTING. Everything here is
// routing metadata needed to relay signaling frames and to synthesize
// call:end when a participant disconnects before the call has ENDED;
// activeRow records whether an ActiveCall row must be ended as well.
type pendingCall struct {
	mu            sync.Mutex
	callSessionID string
	callerAddress string
	calleeAddress string
	callerPlan    identity.Plan
	calleePlan    identity.Plan
	maxDuration   *int
	phase         callPhase
	activeRow     bool // an ActiveCall row exists in the store (created at CONNECTING)
}

func (c *pendingCall) otherParty(address string) string {
	if address == c.callerAddress {
		return c.calleeAddress
	}
	return c.callerAddress
}

// transition moves the call forward to phase. A move to the current
// phase or an earlier one (and so any move out of ENDED) is refused,
// honoring the idempotent-transition rule from spec.md §4.8: a repeated
// call:accept or call:end is a no-op, not an error.
func (c *pendingCall) transition(to callPhase) (moved bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if to <= c.phase {
		return false
	}
	c.phase = to
	return true
}

func (c *pendingCall) currentPhase() callPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// markActiveRowCreated records that an ActiveCall row now backs this
// call, so call:end knows whether internal/calltracker has anything to
// credit and delete.
func (c *pendingCall) markActiveRowCreated() {
	c.mu.Lock()
	c.activeRow = true
	c.mu.Unlock()
}

func (c *pendingCall) hasActiveRow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeRow
}

// callTable holds every call between RINGING and ENDED, sharded the way
// the registry and nonce memo are (spec.md §9).
const callShardCount = 32

type callShard struct {
	mu   sync.RWMutex
	byID map[string]*pendingCall
}

type callTable struct {
	shards [callShardCount]callShard
}

func newCallTable() *callTable {
	t := &callTable{}
	for i := range t.shards {
		t.shards[i].byID = make(map[string]*pendingCall)
	}
	return t
}

func (t *callTable) shardFor(callSessionID string) *callShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(callSessionID))
	return &t.shards[h.Sum32()%callShardCount]
}

func (t *callTable) put(c *pendingCall) {
	s := t.shardFor(c.callSessionID)
	s.mu.Lock()
	s.byID[c.callSessionID] = c
	s.mu.Unlock()
}

func (t *callTable) get(callSessionID string) (*pendingCall, bool) {
	s := t.shardFor(callSessionID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[callSessionID]
	return c, ok
}

func (t *callTable) delete(callSessionID string) {
	s := t.shardFor(callSessionID)
	s.mu.Lock()
	delete(s.byID, callSessionID)
	s.mu.Unlock()
}

// forAddress returns every pending call involving address, used to
// synthesize call:end when a connection drops before the call has ended.
func (t *callTable) forAddress(address string) []*pendingCall {
	var out []*pendingCall
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		for _, c := range s.byID {
			if c.callerAddress == address || c.calleeAddress == address {
				out = append(out, c)
			}
		}
		s.mu.RUnlock()
	}
	return out
}
