// Package bus fans signaling envelopes out across hub instances over
// NATS, grounded in go-server/pkg/nats.Client and go-server-2's
// subscribe-on-a-shared-subject pattern: every instance subscribes to
// the same subject and re-delivers locally only when the envelope's
// target address is registered on that instance. When NATS_URL is
// unset, Bus is a no-op and each instance serves only its own
// connections (spec.md's single-instance deployment remains valid).
package bus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const fanoutSubject = "signalhub.fanout.envelope"

// Deliverer is the local delivery surface the bus calls into for
// envelopes that target an address registered on this instance.
// internal/registry.Registry satisfies this via its Send method.
type Deliverer interface {
	Send(address string, frame []byte) bool
	Online(address string) bool
}

// Bus publishes outbound envelopes not deliverable locally and
// re-delivers inbound ones addressed to a locally-registered identity.
type Bus struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// Connect dials NATS at url. An empty url returns a nil *Bus, which
// Publish and Close both treat as a no-op.
func Connect(url string, logger zerolog.Logger) (*Bus, error) {
	if url == "" {
		return nil, nil
	}

	conn, err := nats.Connect(url,
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("bus: disconnected from nats")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("bus: reconnected to nats")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}

	return &Bus{conn: conn, logger: logger}, nil
}

// Subscribe registers deliver as the local-delivery callback for
// envelopes received over the bus whose target is online on this
// instance. It returns immediately (and does nothing) on a nil Bus.
func (b *Bus) Subscribe(deliver Deliverer) error {
	if b == nil {
		return nil
	}

	_, err := b.conn.Subscribe(fanoutSubject, func(msg *nats.Msg) {
		address, frame, err := splitEnvelope(msg.Data)
		if err != nil {
			b.logger.Warn().Err(err).Msg("bus: malformed fanout message")
			return
		}
		if deliver.Online(address) {
			deliver.Send(address, frame)
		}
	})
	if err != nil {
		return fmt.Errorf("bus: subscribe: %w", err)
	}
	return nil
}

// Publish broadcasts frame for address to every other instance. Callers
// should first attempt local delivery via the registry and only publish
// on a miss, since every instance (including this one) receives every
// publish. A nil Bus makes Publish a no-op returning nil, so callers
// don't need a separate "bus enabled" check.
func (b *Bus) Publish(address string, frame []byte) error {
	if b == nil {
		return nil
	}
	if err := b.conn.Publish(fanoutSubject, joinEnvelope(address, frame)); err != nil {
		return fmt.Errorf("bus: publish: %w", err)
	}
	return nil
}

// Close closes the NATS connection without draining its subscriptions
// first. A nil Bus makes Close a no-op.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.conn.Close()
}
