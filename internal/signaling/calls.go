package signaling

import (
	"context"
	"encoding/json"
	"time"

	"github.com/callhub/signalhub/internal/envelope"
	"github.com/callhub/signalhub/internal/identity"
	"github.com/callhub/signalhub/internal/policy"
	"github.com/callhub/signalhub/internal/store"
	"github.com/callhub/signalhub/internal/tokens"
	"github.com/callhub/signalhub/internal/usage"
)

// handleCallInit implements spec.md §4.8's call:init pipeline: token
// verification, then the envelope/token address-binding check, then the
// policy engine. A call only enters RINGING once the policy engine
// returns a ring decision and the callee is online.
func (s *Server) handleCallInit(ctx context.Context, c *Conn, e *envelope.Envelope) {
	var p callInitPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil || p.TargetAddress == "" {
		s.sendError(c, e.Type, "invalid_payload", "")
		return
	}

	code, tok, err := s.tokens.Consume(ctx, p.Token, time.Now(), c.remoteAddr())
	if err != nil {
		s.sendError(c, e.Type, "internal", "")
		return
	}
	if code != tokens.CodeOK {
		s.sendError(c, e.Type, envelope.Code(code.String()), "")
		return
	}

	// Token <-> envelope binding: the token must have been minted for
	// exactly this caller/callee pair (spec.md §4.8 "envelope
	// verification" stage of the call:init pipeline).
	if tok.UserAddress != e.FromAddress || tok.TargetAddress != p.TargetAddress {
		s.sendError(c, e.Type, envelope.CodeAddressMismatch, "")
		return
	}

	callerIdentity, err := s.identities.Get(ctx, e.FromAddress)
	if err != nil {
		s.sendError(c, e.Type, "internal", "")
		return
	}
	calleeIdentity, err := s.identities.Get(ctx, p.TargetAddress)
	if err != nil {
		s.sendError(c, e.Type, "internal", "")
		return
	}

	isContact := false
	if _, ok, err := s.contacts.Get(ctx, p.TargetAddress, e.FromAddress); err == nil {
		isContact = ok
	}
	isEitherContact, err := s.contacts.IsRelated(ctx, e.FromAddress, p.TargetAddress)
	if err != nil {
		s.sendError(c, e.Type, "internal", "")
		return
	}
	calleeOnline := s.registry.Online(p.TargetAddress)

	if callerIdentity.Plan == identity.PlanFree {
		if _, err := s.usage.IncrementCallAttempts(ctx, e.FromAddress); err != nil {
			s.logger.Error().Err(err).Msg("failed to increment call attempts")
		}
	}

	attempt := policy.Attempt{
		CallerAddress:   e.FromAddress,
		CalleeAddress:   p.TargetAddress,
		CallerPlan:      callerIdentity.Plan,
		CalleePlan:      calleeIdentity.Plan,
		IsContact:       isContact,
		IsEitherContact: isEitherContact,
		IsGroup:         p.IsGroup,
		IsExternalLink:  p.IsExternalLink,
		IsPaidCall:      p.IsPaidCall,
		PassID:          p.PassID,
		CalleeOnline:    calleeOnline,
	}

	decision, err := s.policy.Evaluate(ctx, attempt)
	if err != nil {
		s.sendError(c, e.Type, "internal", "")
		return
	}

	switch decision.Kind {
	case policy.KindBlock:
		s.failCallAttempt(ctx, callerIdentity.Plan, e.FromAddress)
		if decision.Reason == policy.ReasonDND {
			s.sendTo(c, "call:dnd", errorPayload{Code: decision.Reason})
		} else {
			s.sendTo(c, "call:blocked", errorPayload{Code: decision.Reason})
		}
		return
	case policy.KindAutoReply:
		s.failCallAttempt(ctx, callerIdentity.Plan, e.FromAddress)
		s.sendTo(c, "call:dnd", errorPayload{Code: "voicemail", Message: decision.Message})
		return
	}

	if !calleeOnline {
		s.failCallAttempt(ctx, callerIdentity.Plan, e.FromAddress)
		s.sendTo(c, "call:unavailable", callSessionRef{CallSessionID: tok.Token})
		return
	}

	if !s.registry.Online(p.TargetAddress) {
		s.failCallAttempt(ctx, callerIdentity.Plan, e.FromAddress)
		s.sendTo(c, "call:unavailable", callSessionRef{CallSessionID: tok.Token})
		return
	}

	if callerIdentity.Plan == identity.PlanFree {
		if _, err := s.usage.IncrementCallsStarted(ctx, e.FromAddress); err != nil {
			s.logger.Error().Err(err).Msg("failed to increment calls_started_today")
		}
	}

	maxDuration := s.callerCalleeMaxDuration(ctx, callerIdentity.Plan, calleeIdentity.Plan, e.FromAddress, p.TargetAddress)

	call := &pendingCall{
		callSessionID: tok.Token,
		callerAddress: e.FromAddress,
		calleeAddress: p.TargetAddress,
		callerPlan:    callerIdentity.Plan,
		calleePlan:    calleeIdentity.Plan,
		maxDuration:   maxDuration,
		phase:         phaseRinging,
	}
	s.calls.put(call)

	if decision.UsedPass != "" {
		s.forward(p.TargetAddress, "pass:used", map[string]string{"pass_id": decision.UsedPass})
	}

	if decision.Kind == policy.KindRequest {
		s.forward(p.TargetAddress, "call:request", map[string]string{"call_session_id": tok.Token, "from_address": e.FromAddress})
	} else {
		s.forward(p.TargetAddress, "call:incoming", map[string]interface{}{
			"call_session_id": tok.Token,
			"from_address":    e.FromAddress,
			"is_unknown":      decision.IsUnknown,
		})
	}
	s.sendTo(c, "call:ringing", callSessionRef{CallSessionID: tok.Token})
}

func (s *Server) failCallAttempt(ctx context.Context, plan identity.Plan, address string) {
	if plan == identity.PlanFree {
		if _, err := s.usage.IncrementFailedStarts(ctx, address); err != nil {
			s.logger.Error().Err(err).Msg("failed to increment failed_starts_today")
		}
	}
}

// callerCalleeMaxDuration applies spec.md §4.5's "the tighter of the two
// participants' caps applies": each free-tier side contributes its own
// cap (base duration, shrunk under a relay penalty, clamped to its
// remaining monthly seconds); a paid side contributes no cap.
func (s *Server) callerCalleeMaxDuration(ctx context.Context, callerPlan, calleePlan identity.Plan, caller, callee string) *int {
	now := time.Now()
	var callerCap, calleeCap *int
	if callerPlan == identity.PlanFree {
		if uc, err := s.usage.GetOrCreate(ctx, caller); err == nil {
			callerCap = usage.MaxDurationSeconds(callerPlan, uc, now)
		}
	}
	if calleePlan == identity.PlanFree {
		if uc, err := s.usage.GetOrCreate(ctx, callee); err == nil {
			calleeCap = usage.MaxDurationSeconds(calleePlan, uc, now)
		}
	}
	return usage.TighterMaxDuration(callerCap, calleeCap)
}

func (s *Server) handleCallAccept(ctx context.Context, e *envelope.Envelope) {
	rp, ok := s.decodeRelay(e)
	if !ok {
		return
	}
	call, found := s.calls.get(rp.CallSessionID)
	if !found || e.FromAddress != call.calleeAddress {
		return
	}

	s.forward(call.callerAddress, string(e.Type), e.Payload)

	if !call.transition(phaseConnecting) {
		return // already accepted once: idempotent no-op past the first
	}

	if err := s.tracker.Start(ctx, &store.ActiveCall{
		CallSessionID:      call.callSessionID,
		CallerAddress:      call.callerAddress,
		CalleeAddress:      call.calleeAddress,
		CallerTier:         call.callerPlan,
		CalleeTier:         call.calleePlan,
		MaxDurationSeconds: call.maxDuration,
	}); err != nil {
		s.logger.Error().Err(err).Str("call_session_id", call.callSessionID).Msg("failed to start active-call row")
		return
	}
	call.markActiveRowCreated()

	// No media_ready_both_sides signal reaches the hub (it isn't among
	// the enumerated envelope types — see DESIGN.md); the hub advances
	// straight to CONNECTED once the callee accepts, trusting the
	// clients' own WebRTC negotiation for the rest.
	call.transition(phaseConnected)

	s.forward(call.callerAddress, "call:connecting", callSessionRef{CallSessionID: call.callSessionID})
	s.forward(call.calleeAddress, "call:connecting", callSessionRef{CallSessionID: call.callSessionID})
}

func (s *Server) handleCallReject(ctx context.Context, e *envelope.Envelope) {
	rp, ok := s.decodeRelay(e)
	if !ok {
		return
	}
	call, found := s.calls.get(rp.CallSessionID)
	if !found {
		s.relay(e)
		return
	}
	s.forward(call.otherParty(e.FromAddress), string(e.Type), e.Payload)
	if call.transition(phaseEnded) {
		s.calls.delete(call.callSessionID)
		if call.callerPlan == identity.PlanFree {
			if _, err := s.usage.IncrementFailedStarts(ctx, call.callerAddress); err != nil {
				s.logger.Error().Err(err).Msg("failed to increment failed_starts_today on reject")
			}
		}
	}
}

func (s *Server) handleCallEnd(ctx context.Context, e *envelope.Envelope) {
	rp, ok := s.decodeRelay(e)
	if !ok {
		return
	}
	call, found := s.calls.get(rp.CallSessionID)
	if !found {
		s.relay(e)
		return
	}

	s.forward(call.otherParty(e.FromAddress), string(e.Type), e.Payload)

	if !call.transition(phaseEnded) {
		return // already ended: idempotent no-op
	}
	s.calls.delete(call.callSessionID)

	if !call.hasActiveRow() {
		return // ended before CONNECTING: nothing for the tracker to credit
	}

	if _, err := s.tracker.End(ctx, call.callSessionID); err != nil {
		s.logger.Error().Err(err).Str("call_session_id", call.callSessionID).Msg("failed to end active-call row")
		return
	}

	if rp.RelayUsed {
		if call.callerPlan == identity.PlanFree {
			s.usage.IncrementRelayCalls(ctx, call.callerAddress)
		}
		if call.calleePlan == identity.PlanFree {
			s.usage.IncrementRelayCalls(ctx, call.calleeAddress)
		}
	}
}

// endCallForDisconnect synthesizes call:end for a call whose participant
// just disconnected (spec.md §4.8: "Cancellation ... synthesizes
// call:end to the callee").
func (s *Server) endCallForDisconnect(call *pendingCall, disconnected string) {
	other := call.otherParty(disconnected)
	s.forward(other, "call:end", callSessionRef{CallSessionID: call.callSessionID})

	if !call.transition(phaseEnded) {
		return
	}
	s.calls.delete(call.callSessionID)

	if !call.hasActiveRow() {
		return
	}
	if _, err := s.tracker.End(context.Background(), call.callSessionID); err != nil {
		s.logger.Error().Err(err).Str("call_session_id", call.callSessionID).Msg("failed to end active-call row on disconnect")
	}
}

func (s *Server) decodeRelay(e *envelope.Envelope) (relayPayload, bool) {
	var rp relayPayload
	if err := json.Unmarshal(e.Payload, &rp); err != nil || rp.CallSessionID == "" {
		return rp, false
	}
	return rp, true
}
