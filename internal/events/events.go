// Package events appends an audit trail of call-token and call-state
// transitions to Kafka, grounded in ws/internal/shared/kafka's franz-go
// client usage (ws uses kgo.NewClient to consume; this hub uses the same
// client to produce). When KAFKA_BROKERS is unset, Stream is a no-op so
// the audit trail is purely additive to spec.md's operations.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Kind identifies the audit event categories this hub emits.
type Kind string

const (
	KindTokenIssued   Kind = "token.issued"
	KindTokenUsed     Kind = "token.used"
	KindTokenRejected Kind = "token.rejected"
	KindCallInitiated Kind = "call.initiated"
	KindCallAccepted  Kind = "call.accepted"
	KindCallEnded     Kind = "call.ended"
)

const topic = "signalhub.audit"

// Event is the envelope appended to the audit topic.
type Event struct {
	Kind      Kind           `json:"kind"`
	Timestamp int64          `json:"timestamp"`
	Address   string         `json:"address"`
	Data      map[string]any `json:"data,omitempty"`
}

// Stream produces audit events to Kafka. A nil *Stream (returned by
// Connect when KAFKA_BROKERS is empty) makes every method a no-op.
type Stream struct {
	client *kgo.Client
	logger zerolog.Logger
}

// Connect dials the given comma-separated broker list. An empty string
// returns a nil *Stream and nil error.
func Connect(brokers string, logger zerolog.Logger) (*Stream, error) {
	if brokers == "" {
		return nil, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(brokers, ",")...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect: %w", err)
	}

	return &Stream{client: client, logger: logger}, nil
}

// Emit appends an audit event asynchronously. Delivery failures are
// logged, not returned, since audit logging must never block or fail
// the call/token operation it is describing.
func (s *Stream) Emit(ctx context.Context, kind Kind, address string, data map[string]any) {
	if s == nil {
		return
	}

	ev := Event{Kind: kind, Timestamp: time.Now().Unix(), Address: address, Data: data}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("events: marshal failed")
		return
	}

	record := &kgo.Record{Key: []byte(address), Value: payload}
	s.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			s.logger.Warn().Err(err).Str("kind", string(kind)).Msg("events: produce failed")
		}
	})
}

// Close flushes outstanding produces and closes the client.
func (s *Stream) Close() {
	if s == nil {
		return
	}
	_ = s.client.Flush(context.Background())
	s.client.Close()
}
