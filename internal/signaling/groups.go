package signaling

import (
	"context"
	"encoding/json"

	"github.com/callhub/signalhub/internal/envelope"
)

// handleGroupCreate starts a group conversation and notifies every
// participant besides the creator.
func (s *Server) handleGroupCreate(ctx context.Context, e *envelope.Envelope) {
	var p groupCreatePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil || len(p.Participants) == 0 {
		return
	}

	participants := append([]string{e.FromAddress}, p.Participants...)
	conv, err := s.ledger.CreateGroup(ctx, participants)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to create group conversation")
		return
	}

	for _, addr := range conv.Participants {
		if addr == e.FromAddress {
			continue
		}
		s.forward(addr, "group:created", conv)
	}
}

// handleGroupLeave notifies the remaining participants that the sender
// left convo_id. The hub does not maintain a separate group-membership
// store beyond the Conversation's Participants list (spec.md has no
// "update membership" operation for conversations), so this is
// notify-only: clients reconcile their own membership view.
func (s *Server) handleGroupLeave(ctx context.Context, e *envelope.Envelope) {
	var p groupLeavePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil || p.ConvoID == "" {
		return
	}

	conv, ok, err := s.ledger.GetConversation(ctx, p.ConvoID)
	if err != nil || !ok {
		return
	}
	for _, addr := range conv.Participants {
		if addr == e.FromAddress {
			continue
		}
		s.forward(addr, "group:member_left", map[string]string{"convo_id": p.ConvoID, "member_address": e.FromAddress})
	}
}

// handleGroupRemoveMember is the moderator-initiated counterpart to
// group:leave: same notification, different actor named in the payload.
func (s *Server) handleGroupRemoveMember(ctx context.Context, e *envelope.Envelope) {
	var p groupRemoveMemberPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil || p.ConvoID == "" || p.MemberAddress == "" {
		return
	}

	conv, ok, err := s.ledger.GetConversation(ctx, p.ConvoID)
	if err != nil || !ok {
		return
	}
	for _, addr := range conv.Participants {
		if addr == p.MemberAddress {
			continue
		}
		s.forward(addr, "group:member_left", map[string]string{"convo_id": p.ConvoID, "member_address": p.MemberAddress})
	}
}
