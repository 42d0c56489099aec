// Package ledger implements the conversation ledger: direct-conversation
// id derivation, message sequencing/persistence, offline delivery
// status, and cross-device pagination (spec.md §4.7).
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/callhub/signalhub/internal/store"
)

// DefaultSinceLimit is the default page size for get_messages_since
// (spec.md §4.7 "cross-device sync").
const DefaultSinceLimit = 100

// DefaultBeforeLimit is the default page size for history pagination.
const DefaultBeforeLimit = 50

// maxAppendAttempts bounds the unique-violation retry spec.md §4.7
// describes ("retry with randomized backoff, up to 5 attempts").
const maxAppendAttempts = 5

// DirectConversationID is the single canonical formula for a two-party
// conversation id (SPEC_FULL.md Open Question 2): sort the participant
// addresses, then "dc:" + hex(sha256(sorted[0] + "|" + sorted[1])).
func DirectConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	sum := sha256.Sum256([]byte(pair[0] + "|" + pair[1]))
	return "dc:" + hex.EncodeToString(sum[:])
}

// Service implements the conversation-ledger operations over a
// store.ConversationStore.
type Service struct {
	store store.ConversationStore
	rand  *rand.Rand
}

func New(s store.ConversationStore) *Service {
	return &Service{store: s, rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// EnsureDirectConversation returns the direct conversation between a and
// b, creating it if this is the first message between them.
func (s *Service) EnsureDirectConversation(ctx context.Context, a, b string) (*store.Conversation, error) {
	id := DirectConversationID(a, b)
	return s.store.GetOrCreate(ctx, &store.Conversation{
		ID:           id,
		Type:         store.ConversationDirect,
		Participants: []string{a, b},
	})
}

// CreateGroup starts a new group conversation among participants. Unlike
// a direct conversation, a group's id has no deterministic derivation
// (spec.md's DirectConversationID formula is two-party only), so a fresh
// uuid is minted per creation.
func (s *Service) CreateGroup(ctx context.Context, participants []string) (*store.Conversation, error) {
	return s.store.GetOrCreate(ctx, &store.Conversation{
		ID:           "gc:" + uuid.NewString(),
		Type:         store.ConversationGroup,
		Participants: participants,
	})
}

// SendMessage persists a message, assigning it status delivered if the
// recipient's connection is currently live, pending otherwise (spec.md
// §4.7 "Offline delivery"). The caller is responsible for the actual
// wire fan-out when recipientOnline is true.
func (s *Service) SendMessage(ctx context.Context, convoID, from, to string, content []byte, mediaType string, recipientOnline bool) (*store.Message, error) {
	status := store.MessagePending
	if recipientOnline {
		status = store.MessageDelivered
	}

	msg := &store.Message{
		ID:          uuid.NewString(),
		ConvoID:     convoID,
		FromAddress: from,
		ToAddress:   to,
		Content:     content,
		MediaType:   mediaType,
		Status:      status,
	}

	if err := s.appendWithRetry(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Service) appendWithRetry(ctx context.Context, msg *store.Message) error {
	var lastErr error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		err := s.store.AppendMessage(ctx, msg)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrSeqConflict) {
			return err
		}
		lastErr = err

		backoff := time.Duration(10+s.rand.Intn(40)) * time.Millisecond * time.Duration(attempt+1)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// MarkDelivered flips a pending message to delivered — used when a
// recipient reconnects and the pending queue is flushed to them.
func (s *Service) MarkDelivered(ctx context.Context, messageID string) (*store.Message, error) {
	return s.store.MarkStatus(ctx, messageID, store.MessageDelivered)
}

// MarkRead flips a message to read, for fan-out of the receipt to the
// original sender.
func (s *Service) MarkRead(ctx context.Context, messageID string) (*store.Message, error) {
	return s.store.MarkStatus(ctx, messageID, store.MessageRead)
}

// MessagesSince returns messages with seq > sinceSeq in ascending
// order, capped at limit (default DefaultSinceLimit) — the
// cross-device-sync query.
func (s *Service) MessagesSince(ctx context.Context, convoID string, sinceSeq int64, limit int) ([]*store.Message, error) {
	if limit <= 0 || limit > DefaultSinceLimit {
		limit = DefaultSinceLimit
	}
	return s.store.GetMessagesSince(ctx, convoID, sinceSeq, limit)
}

// MessagesBefore returns a page of history older than beforeTS, in
// ascending order, capped at limit (default DefaultBeforeLimit).
func (s *Service) MessagesBefore(ctx context.Context, convoID string, beforeTS time.Time, limit int) ([]*store.Message, error) {
	if limit <= 0 || limit > DefaultBeforeLimit {
		limit = DefaultBeforeLimit
	}
	return s.store.GetMessagesBefore(ctx, convoID, beforeTS, limit)
}

// PendingFor returns toAddress's queued offline messages in ascending
// seq order, for delivery immediately after registration.
func (s *Service) PendingFor(ctx context.Context, toAddress string) ([]*store.Message, error) {
	return s.store.ListPending(ctx, toAddress)
}

// ConversationsFor lists every conversation address participates in.
func (s *Service) ConversationsFor(ctx context.Context, address string) ([]*store.Conversation, error) {
	return s.store.ListForParticipant(ctx, address)
}

// GetConversation fetches a single conversation by id.
func (s *Service) GetConversation(ctx context.Context, id string) (*store.Conversation, bool, error) {
	return s.store.Get(ctx, id)
}
