package signaling

// outbound is the server->client wire shape for every event in spec.md
// §6 ("success, error, call:incoming, ..."). It deliberately carries no
// signature: only client->server envelopes are signed (spec.md §4.1);
// the hub's own fan-out is trusted by construction.
type outbound struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type successPayload struct {
	For string      `json:"for"`
	Ack interface{} `json:"ack,omitempty"`
}

// callInitPayload is call:init's payload: the call-session token minted
// by POST /api/call-session-token plus call-attempt metadata the policy
// engine needs (spec.md §4.5, §4.6).
type callInitPayload struct {
	Token          string `json:"token"`
	TargetAddress  string `json:"target_address"`
	IsGroup        bool   `json:"is_group,omitempty"`
	IsExternalLink bool   `json:"is_external_link,omitempty"`
	IsPaidCall     bool   `json:"is_paid_call,omitempty"`
	PassID         string `json:"pass_id,omitempty"`
}

// relayPayload is the shared shape of every verbatim-relay envelope
// (call:accept|reject|end, webrtc:*, msg:typing): the hub only needs
// enough to route it, and forwards the rest of the raw payload as-is.
type relayPayload struct {
	CallSessionID string `json:"call_session_id"`
	TargetAddress string `json:"target_address"`
	RelayUsed     bool   `json:"relay_used,omitempty"`
}

type callSessionRef struct {
	CallSessionID string `json:"call_session_id"`
}

type msgSendPayload struct {
	ConvoID   string `json:"convo_id,omitempty"`
	ToAddress string `json:"to_address"`
	Content   string `json:"content"`
	MediaType string `json:"media_type,omitempty"`
}

type msgReadPayload struct {
	MessageID string `json:"message_id"`
}

type groupCreatePayload struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

type groupLeavePayload struct {
	ConvoID string `json:"convo_id"`
}

type groupRemoveMemberPayload struct {
	ConvoID       string `json:"convo_id"`
	MemberAddress string `json:"member_address"`
}

// Control-plane payloads for the policy:*, pass:*, block:*, routing:*,
// and wallet:* families. Each is a single concrete action rather than a
// wildcard dispatch table: spec.md names these as envelope-type
// namespaces without enumerating sub-operations, so the hub accepts one
// well-defined action per namespace and leaves richer sub-protocols to
// future revision.
type policyUpdatePayload struct {
	AllowCallsFrom        string `json:"allow_calls_from,omitempty"`
	UnknownCallerBehavior string `json:"unknown_caller_behavior,omitempty"`
	MaxRingsPerSender     *int   `json:"max_rings_per_sender,omitempty"`
	RingWindowMinutes     *int   `json:"ring_window_minutes,omitempty"`
	AutoBlockAfterRejects *int   `json:"auto_block_after_rejects,omitempty"`
	VoicemailEnabled      *bool  `json:"voicemail_enabled,omitempty"`
	RequiresPayment       *bool  `json:"requires_payment,omitempty"`
	BusinessHoursStart    *int   `json:"business_hours_start,omitempty"`
	BusinessHoursEnd      *int   `json:"business_hours_end,omitempty"`
}

type passCreatePayload struct {
	Kind     string `json:"kind"`
	UsesLeft int    `json:"uses_left,omitempty"`
}

type blockPayload struct {
	Action  string `json:"action"` // "block" | "unblock"
	Address string `json:"address"`
}

type routingOverridePayload struct {
	ContactAddress string `json:"contact_address"`
	Override       string `json:"override"`
}
