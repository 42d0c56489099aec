package signaling

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/callhub/signalhub/internal/envelope"
	"github.com/callhub/signalhub/internal/store"
)

// handlePolicyControl lets an address manage its own Policy record
// (policy:* namespace). Only fields present in the payload are changed;
// the rest of the stored policy is left untouched.
func (s *Server) handlePolicyControl(ctx context.Context, c *Conn, e *envelope.Envelope) {
	var p policyUpdatePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		s.sendError(c, e.Type, "invalid_payload", "")
		return
	}

	pol, err := s.policies.Get(ctx, e.FromAddress)
	if err != nil {
		s.sendError(c, e.Type, "internal", "")
		return
	}

	if p.AllowCallsFrom != "" {
		pol.AllowCallsFrom = store.AllowCallsFrom(p.AllowCallsFrom)
	}
	if p.UnknownCallerBehavior != "" {
		pol.UnknownCallerBehavior = store.UnknownCallerBehavior(p.UnknownCallerBehavior)
	}
	if p.MaxRingsPerSender != nil {
		pol.MaxRingsPerSender = *p.MaxRingsPerSender
	}
	if p.RingWindowMinutes != nil {
		pol.RingWindowMinutes = *p.RingWindowMinutes
	}
	if p.AutoBlockAfterRejects != nil {
		pol.AutoBlockAfterRejects = *p.AutoBlockAfterRejects
	}
	if p.VoicemailEnabled != nil {
		pol.VoicemailEnabled = *p.VoicemailEnabled
	}
	if p.RequiresPayment != nil {
		pol.RequiresPayment = *p.RequiresPayment
	}
	if p.BusinessHoursStart != nil {
		pol.BusinessHoursStart = *p.BusinessHoursStart
	}
	if p.BusinessHoursEnd != nil {
		pol.BusinessHoursEnd = *p.BusinessHoursEnd
	}

	if err := s.policies.Save(ctx, pol); err != nil {
		s.sendError(c, e.Type, "internal", "")
		return
	}
	s.sendTo(c, "success", successPayload{For: string(e.Type), Ack: pol})
}

// handlePassControl mints a new invite pass owned by the sender
// (pass:* namespace). Consuming a pass happens implicitly inside
// internal/policy during call:init, not through this envelope.
func (s *Server) handlePassControl(ctx context.Context, c *Conn, e *envelope.Envelope) {
	var p passCreatePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		s.sendError(c, e.Type, "invalid_payload", "")
		return
	}

	kind := store.PassKind(p.Kind)
	switch kind {
	case store.PassOneTime, store.PassLimited, store.PassUnlimited:
	default:
		s.sendError(c, e.Type, "invalid_payload", "unrecognized pass kind")
		return
	}

	pass := &store.Pass{
		ID:           uuid.NewString(),
		OwnerAddress: e.FromAddress,
		Kind:         kind,
		UsesLeft:     p.UsesLeft,
	}
	if err := s.passes.Create(ctx, pass); err != nil {
		s.sendError(c, e.Type, "internal", "")
		return
	}
	s.sendTo(c, "success", successPayload{For: string(e.Type), Ack: pass})
}

// handleBlockControl adds or removes an entry on the sender's blocklist
// (block:* namespace, spec.md §4.5 item 1).
func (s *Server) handleBlockControl(ctx context.Context, c *Conn, e *envelope.Envelope) {
	var p blockPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil || p.Address == "" {
		s.sendError(c, e.Type, "invalid_payload", "")
		return
	}

	var err error
	switch p.Action {
	case "block":
		err = s.policies.Block(ctx, e.FromAddress, p.Address, nil)
	case "unblock":
		err = s.policies.Unblock(ctx, e.FromAddress, p.Address)
	default:
		s.sendError(c, e.Type, "invalid_payload", "action must be block or unblock")
		return
	}
	if err != nil {
		s.sendError(c, e.Type, "internal", "")
		return
	}
	s.sendTo(c, "success", successPayload{For: string(e.Type)})
}

// handleRoutingControl sets a per-contact call-policy override
// (routing:* namespace, spec.md §4.5 item 8).
func (s *Server) handleRoutingControl(ctx context.Context, c *Conn, e *envelope.Envelope) {
	var p routingOverridePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil || p.ContactAddress == "" {
		s.sendError(c, e.Type, "invalid_payload", "")
		return
	}

	override := store.ContactOverride(p.Override)
	switch override {
	case store.OverrideNone, store.OverrideBlocked, store.OverrideAlways, store.OverrideOneTime, store.OverrideScheduled:
	default:
		s.sendError(c, e.Type, "invalid_payload", "unrecognized override value")
		return
	}

	if err := s.contacts.SetOverride(ctx, e.FromAddress, p.ContactAddress, override); err != nil {
		s.sendError(c, e.Type, "internal", "")
		return
	}
	if override == store.OverrideAlways {
		s.forward(p.ContactAddress, "contact:added_by", map[string]string{"address": e.FromAddress})
	}
	s.sendTo(c, "success", successPayload{For: string(e.Type)})
}

// handleWalletControl acknowledges wallet:* envelopes without mutating
// any state: payment capture is a Stripe-webhook concern that lives
// outside this hub (spec.md §6 lists STRIPE_SECRET_KEY/
// STRIPE_WEBHOOK_SECRET as recognized config, not as WebSocket-driven
// state), so the hub has nothing of its own to record here yet.
func (s *Server) handleWalletControl(c *Conn, e *envelope.Envelope) {
	s.sendTo(c, "success", successPayload{For: string(e.Type)})
}
