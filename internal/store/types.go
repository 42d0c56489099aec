// Package store defines the storage-abstraction interfaces for every
// piece of mutable server state in spec.md §3, following the
// repository-interface pattern (one interface per aggregate, swappable
// backing implementation) used by the signaling-server reference
// material in this pack. The canonical production implementation is
// internal/store/postgres (sqlx-backed); internal/store/memory provides
// an equivalent in-memory implementation used for single-process
// deployments and by every test in this repository (see SPEC_FULL.md,
// Open Question 1).
package store

import (
	"context"
	"time"

	"github.com/callhub/signalhub/internal/identity"
	"github.com/shopspring/decimal"
)

// --- Identity ---

// IdentityStore persists identity records (spec.md §3 "Identity").
type IdentityStore interface {
	Get(ctx context.Context, address string) (*identity.Identity, error)
	GetOrCreate(ctx context.Context, address string, pubkey []byte) (*identity.Identity, error)
	Update(ctx context.Context, id *identity.Identity) error
}

// --- Contacts ---

// Contact is the spec.md §3 "Contact" record.
type Contact struct {
	OwnerAddress   string
	ContactAddress string
	Name           string
	AlwaysAllowed  bool
}

// ContactOverride is the per-contact call-policy override from §4.5 item 8.
type ContactOverride string

const (
	OverrideNone      ContactOverride = ""
	OverrideBlocked   ContactOverride = "blocked"
	OverrideAlways    ContactOverride = "always"
	OverrideOneTime   ContactOverride = "one_time"
	OverrideScheduled ContactOverride = "scheduled"
)

// ContactStore persists directional contact relationships.
type ContactStore interface {
	Add(ctx context.Context, c *Contact) error
	Get(ctx context.Context, owner, contact string) (*Contact, bool, error)
	// IsRelated reports whether either direction of (a, b) has a contact
	// row — spec.md §3: "a call is contact-related when either direction
	// has the pair."
	IsRelated(ctx context.Context, a, b string) (bool, error)
	Override(ctx context.Context, owner, contact string) (ContactOverride, error)
	SetOverride(ctx context.Context, owner, contact string, override ContactOverride) error
}

// --- Policy ---

// AllowCallsFrom is the top-level policy gate (§3 "Policy record").
type AllowCallsFrom string

const (
	AllowAnyone      AllowCallsFrom = "anyone"
	AllowContacts    AllowCallsFrom = "contacts"
	AllowInviteOnly  AllowCallsFrom = "invite_only"
)

// UnknownCallerBehavior controls non-contact calls under AllowContacts.
type UnknownCallerBehavior string

const (
	UnknownBlock        UnknownCallerBehavior = "block"
	UnknownRingUnknown  UnknownCallerBehavior = "ring_unknown"
	UnknownRequest      UnknownCallerBehavior = "request"
)

// Policy is the per-user policy record (§3).
type Policy struct {
	UserAddress            string
	AllowCallsFrom         AllowCallsFrom
	UnknownCallerBehavior  UnknownCallerBehavior
	MaxRingsPerSender      int
	RingWindowMinutes      int
	AutoBlockAfterRejects  int
	VoicemailEnabled       bool
	RequiresPayment        bool
	BusinessHoursStart     int // hour 0-23, inclusive
	BusinessHoursEnd       int // hour 0-23, exclusive
}

// DefaultPolicy returns the out-of-the-box free-tier policy.
func DefaultPolicy(address string) *Policy {
	return &Policy{
		UserAddress:           address,
		AllowCallsFrom:        AllowContacts,
		UnknownCallerBehavior: UnknownRequest,
		MaxRingsPerSender:     5,
		RingWindowMinutes:     10,
		AutoBlockAfterRejects: 3,
		VoicemailEnabled:      true,
		BusinessHoursStart:    9,
		BusinessHoursEnd:      18,
	}
}

// PolicyStore persists per-user policy records and the blocklist.
type PolicyStore interface {
	Get(ctx context.Context, address string) (*Policy, error)
	Save(ctx context.Context, p *Policy) error

	IsBlocked(ctx context.Context, owner, blocked string) (bool, error)
	Block(ctx context.Context, owner, blocked string, until *time.Time) error
	Unblock(ctx context.Context, owner, blocked string) error

	// RejectionCount returns how many times caller has been rejected by
	// callee, for the auto-block threshold (§4.5 item 2).
	RejectionCount(ctx context.Context, callee, caller string) (int, error)
	RecordRejection(ctx context.Context, callee, caller string) (int, error)
}

// --- Usage counters ---

// UsageCounter is the spec.md §3 "Usage-counter" record. RelayCallsAt
// stores one timestamp per TURN-relay call so the 24h window (Open
// Question 3) is a true rolling window, not a calendar-day bucket.
type UsageCounter struct {
	UserAddress        string
	DayKey             string // "2006-01-02"
	MonthKey           string // "2006-01"
	CallsStartedToday  int
	FailedStartsToday  int
	CallAttemptsHour   int
	HourKey            string // "2006-01-02T15"
	SecondsUsedMonth   int64
	RelayCallsAt       []time.Time
	RelayPenaltyUntil  *time.Time
}

// UsageStore persists usage counters.
type UsageStore interface {
	// Get returns the counter for address, creating a zero-value one if
	// none exists. Rollover (§4.3, Invariant I4) is the caller's
	// responsibility (internal/usage applies it before using the value).
	Get(ctx context.Context, address string) (*UsageCounter, error)
	Save(ctx context.Context, uc *UsageCounter) error
}

// --- Active calls ---

// ActiveCall is the spec.md §3 "Active-call" record.
type ActiveCall struct {
	CallSessionID        string
	CallerAddress        string
	CalleeAddress        string
	CallerTier           identity.Plan
	CalleeTier           identity.Plan
	StartedAt            time.Time
	LastHeartbeatCaller  time.Time
	LastHeartbeatCallee  time.Time
	MaxDurationSeconds   *int
	RelayUsed            bool
}

// ActiveCallStore persists in-flight calls.
type ActiveCallStore interface {
	Create(ctx context.Context, c *ActiveCall) error
	Get(ctx context.Context, callSessionID string) (*ActiveCall, bool, error)
	GetByParticipant(ctx context.Context, address string) (*ActiveCall, bool, error)
	UpdateHeartbeat(ctx context.Context, callSessionID, who string, at time.Time) error
	Delete(ctx context.Context, callSessionID string) error
	ListAll(ctx context.Context) ([]*ActiveCall, error)
}

// --- Conversation ledger ---

// ConversationType distinguishes direct vs group conversations (§3).
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// Conversation is the spec.md §3 "Conversation" record.
type Conversation struct {
	ID              string
	Type            ConversationType
	Participants    []string
	CreatedAt       time.Time
	LastMessageSeq  int64
}

// MessageStatus is the delivery status of a Message (§3).
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

// Message is the spec.md §3 "Message" record.
type Message struct {
	ID              string
	ConvoID         string
	FromAddress     string
	ToAddress       string
	Content         []byte
	MediaType       string
	Seq             int64
	ServerTimestamp time.Time
	Status          MessageStatus
}

// ConversationStore persists conversations and assigns message sequence
// numbers. SeqLockKey is `hash(convo_id)`, the advisory-lock key from
// spec.md §4.7; the in-memory implementation uses a per-conversation
// mutex, the Postgres one a pg_advisory_xact_lock on the same hash.
type ConversationStore interface {
	GetOrCreate(ctx context.Context, conv *Conversation) (*Conversation, error)
	Get(ctx context.Context, id string) (*Conversation, bool, error)
	ListForParticipant(ctx context.Context, address string) ([]*Conversation, error)

	// AppendMessage atomically assigns the next seq for msg.ConvoID,
	// stamps ServerTimestamp, and persists msg. Implements Invariant I1
	// (dense, strictly increasing seq) and I2 (monotone timestamp).
	AppendMessage(ctx context.Context, msg *Message) error
	GetMessagesSince(ctx context.Context, convoID string, sinceSeq int64, limit int) ([]*Message, error)
	GetMessagesBefore(ctx context.Context, convoID string, beforeTS time.Time, limit int) ([]*Message, error)
	ListPending(ctx context.Context, toAddress string) ([]*Message, error)
	MarkStatus(ctx context.Context, messageID string, status MessageStatus) (*Message, error)
}

// --- Call-session tokens ---

// CallToken is the spec.md §3 "Call-session token" record.
type CallToken struct {
	Token         string
	NonceHash     [32]byte
	UserAddress   string
	TargetAddress string
	Plan          identity.Plan
	AllowTURN     bool
	AllowVideo    bool
	IssuedAt      time.Time
	ExpiresAt     time.Time
	UsedAt        *time.Time
	UsedByIP      string
}

// TokenStore persists call-session tokens with atomic single-use semantics.
type TokenStore interface {
	Create(ctx context.Context, t *CallToken) error
	Get(ctx context.Context, token string) (*CallToken, bool, error)
	// MarkUsed atomically sets UsedAt if it was nil (Invariant I3). It
	// returns (true, nil) if this call performed the transition, and
	// (false, nil) if the token was already used (replay).
	MarkUsed(ctx context.Context, token string, usedAt time.Time, byIP string) (bool, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// --- Invite passes ---

// PassKind distinguishes one-time, limited-use, and unlimited passes.
type PassKind string

const (
	PassOneTime   PassKind = "one_time"
	PassLimited   PassKind = "limited"
	PassUnlimited PassKind = "unlimited"
)

// Pass is a non-contact bypass credential (§9 GLOSSARY "Pass / invite"),
// extended with a price so the (out-of-scope) payment processor has a
// concrete amount to charge for a paid pass.
type Pass struct {
	ID          string
	OwnerAddress string
	Kind        PassKind
	UsesLeft    int // meaningful only for PassLimited
	PriceCents  decimal.Decimal
	ExpiresAt   *time.Time
}

// PassStore persists invite passes.
type PassStore interface {
	Create(ctx context.Context, p *Pass) error
	Get(ctx context.Context, id string) (*Pass, bool, error)
	// Consume decrements UsesLeft for PassLimited passes and reports
	// whether the pass remains valid/usable after consumption.
	Consume(ctx context.Context, id string) (bool, error)
}

// Store aggregates every repository into a single dependency for
// wiring convenience.
type Store interface {
	Identities() IdentityStore
	Contacts() ContactStore
	Policies() PolicyStore
	Usage() UsageStore
	ActiveCalls() ActiveCallStore
	Conversations() ConversationStore
	Tokens() TokenStore
	Passes() PassStore
}
