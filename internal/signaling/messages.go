package signaling

import (
	"context"
	"encoding/json"

	"github.com/callhub/signalhub/internal/envelope"
	"github.com/callhub/signalhub/internal/ledger"
)

// handleMsgSend persists the message via the conversation ledger before
// any fan-out, per spec.md §4.8 ("All msg:send are persisted via the
// ledger before fan-out").
func (s *Server) handleMsgSend(ctx context.Context, e *envelope.Envelope) {
	var p msgSendPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil || p.ToAddress == "" {
		return
	}

	convoID := p.ConvoID
	if convoID == "" {
		convoID = ledger.DirectConversationID(e.FromAddress, p.ToAddress)
	}
	if _, err := s.ledger.EnsureDirectConversation(ctx, e.FromAddress, p.ToAddress); err != nil {
		s.logger.Error().Err(err).Msg("failed to ensure direct conversation")
		return
	}

	recipientOnline := s.registry.Online(p.ToAddress)
	msg, err := s.ledger.SendMessage(ctx, convoID, e.FromAddress, p.ToAddress, []byte(p.Content), p.MediaType, recipientOnline)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to persist message")
		return
	}

	if recipientOnline {
		s.forward(p.ToAddress, "msg:incoming", msg)
	}
}

// handleMsgRead flips the message's status and relays a delivery
// receipt back to its original sender.
func (s *Server) handleMsgRead(ctx context.Context, e *envelope.Envelope) {
	var p msgReadPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil || p.MessageID == "" {
		return
	}

	msg, err := s.ledger.MarkRead(ctx, p.MessageID)
	if err != nil {
		s.logger.Error().Err(err).Str("message_id", p.MessageID).Msg("failed to mark message read")
		return
	}
	s.forward(msg.FromAddress, "msg:read", msg)
}
