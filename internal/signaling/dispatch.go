package signaling

import (
	"context"
	"encoding/json"

	"github.com/callhub/signalhub/internal/envelope"
)

// handleFrame decodes one text frame into an Envelope and routes it.
// Malformed JSON is the one failure mode with no sender address to
// reply to, so it is logged and dropped.
func (s *Server) handleFrame(ctx context.Context, c *Conn, frame []byte) {
	var e envelope.Envelope
	if err := json.Unmarshal(frame, &e); err != nil {
		s.logger.Debug().Int64("conn_id", c.ID()).Err(err).Msg("dropping malformed frame")
		return
	}

	if e.Type == envelope.TypeRegister {
		s.handleRegister(ctx, c, &e)
		return
	}

	address := c.boundAddress()
	if address == "" {
		s.sendError(c, e.Type, envelope.CodeNotRegistered, "connection has not registered an address")
		return
	}

	if code := s.verifier.Verify(&e, c.ID()); code != envelope.CodeOK {
		s.sendError(c, e.Type, code, "")
		return
	}

	switch e.Type {
	case envelope.TypeCallInit:
		s.handleCallInit(ctx, c, &e)
	case envelope.TypeCallAccept:
		s.handleCallAccept(ctx, &e)
	case envelope.TypeCallReject:
		s.handleCallReject(ctx, &e)
	case envelope.TypeCallEnd:
		s.handleCallEnd(ctx, &e)
	case envelope.TypeWebRTCOffer, envelope.TypeWebRTCAnswer, envelope.TypeWebRTCICE:
		s.relay(&e)
	case envelope.TypeMsgSend:
		s.handleMsgSend(ctx, &e)
	case envelope.TypeMsgRead:
		s.handleMsgRead(ctx, &e)
	case envelope.TypeMsgTyping:
		s.relay(&e)
	case envelope.TypeGroupCreate:
		s.handleGroupCreate(ctx, &e)
	case envelope.TypeGroupLeave:
		s.handleGroupLeave(ctx, &e)
	case envelope.TypeGroupRemoveMember:
		s.handleGroupRemoveMember(ctx, &e)
	case envelope.TypePolicy:
		s.handlePolicyControl(ctx, c, &e)
	case envelope.TypePass:
		s.handlePassControl(ctx, c, &e)
	case envelope.TypeBlock:
		s.handleBlockControl(ctx, c, &e)
	case envelope.TypeRouting:
		s.handleRoutingControl(ctx, c, &e)
	case envelope.TypeWallet:
		s.handleWalletControl(c, &e)
	case envelope.TypePing:
		s.sendTo(c, "pong", nil)
	default:
		s.sendError(c, e.Type, "unknown_message_type", "")
	}
}

func (s *Server) handleRegister(ctx context.Context, c *Conn, e *envelope.Envelope) {
	if code := s.verifier.VerifyRegistration(e); code != envelope.CodeOK {
		s.sendError(c, e.Type, code, "")
		return
	}

	pub, err := e.DecodedPubkey()
	if err != nil {
		s.sendError(c, e.Type, envelope.CodeBadSignature, "")
		return
	}

	if _, err := s.identities.GetOrCreate(ctx, e.FromAddress, pub); err != nil {
		s.sendError(c, e.Type, "internal", "")
		return
	}

	c.bind(e.FromAddress)
	s.registry.Register(e.FromAddress, c)

	pending, err := s.ledger.PendingFor(ctx, e.FromAddress)
	if err != nil {
		s.logger.Error().Err(err).Str("address", e.FromAddress).Msg("failed to load pending messages on register")
	}
	for _, msg := range pending {
		s.sendTo(c, "msg:incoming", msg)
		if _, err := s.ledger.MarkDelivered(ctx, msg.ID); err != nil {
			s.logger.Error().Err(err).Str("message_id", msg.ID).Msg("failed to mark pending message delivered")
		}
	}

	s.sendTo(c, "success", successPayload{For: string(e.Type)})
}

// relay forwards e's raw payload verbatim to its target connection if
// one exists, otherwise drops it silently (spec.md §4.8). relayPayload
// is decoded only far enough to find the target address.
func (s *Server) relay(e *envelope.Envelope) {
	var rp relayPayload
	if err := json.Unmarshal(e.Payload, &rp); err != nil || rp.TargetAddress == "" {
		return
	}
	s.forward(rp.TargetAddress, string(e.Type), e.Payload)
}

func (s *Server) forward(targetAddress, typ string, payload interface{}) {
	conn, ok := s.registry.Lookup(targetAddress)
	if !ok {
		return
	}
	frame, err := json.Marshal(outbound{Type: typ, Payload: payload})
	if err != nil {
		return
	}
	conn.Send(frame)
}

func (s *Server) sendTo(c *Conn, typ string, payload interface{}) {
	frame, err := json.Marshal(outbound{Type: typ, Payload: payload})
	if err != nil {
		return
	}
	c.Send(frame)
}

func (s *Server) sendError(c *Conn, inResponseTo envelope.Type, code envelope.Code, message string) {
	if code == "" {
		code = "internal"
	}
	s.sendTo(c, "error", errorPayload{Code: string(code), Message: message})
	s.logFailure(inResponseTo, code)
}

func (s *Server) logFailure(typ envelope.Type, code envelope.Code) {
	s.logger.Debug().Str("envelope_type", string(typ)).Str("code", string(code)).Msg("envelope rejected")
}
