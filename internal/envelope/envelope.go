package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Type is the discriminant for the envelope's payload, matching the
// tagged-union of message kinds in spec.md §4.8.
type Type string

const (
	TypeRegister   Type = "register"
	TypeCallInit   Type = "call:init"
	TypeCallAccept Type = "call:accept"
	TypeCallReject Type = "call:reject"
	TypeCallEnd    Type = "call:end"

	TypeWebRTCOffer  Type = "webrtc:offer"
	TypeWebRTCAnswer Type = "webrtc:answer"
	TypeWebRTCICE    Type = "webrtc:ice"

	TypeMsgSend   Type = "msg:send"
	TypeMsgRead   Type = "msg:read"
	TypeMsgTyping Type = "msg:typing"

	TypeGroupCreate       Type = "group:create"
	TypeGroupLeave        Type = "group:leave"
	TypeGroupRemoveMember Type = "group:remove_member"

	TypePolicy  Type = "policy:*"
	TypePass    Type = "pass:*"
	TypeBlock   Type = "block:*"
	TypeRouting Type = "routing:*"
	TypeWallet  Type = "wallet:*"

	TypePing Type = "ping"
	TypePong Type = "pong"

	// TypeUnknown is the explicit catch-all variant for unrecognized
	// discriminants; routed to surface `unknown_message_type`.
	TypeUnknown Type = ""
)

// Envelope is the wire shape of every signed client message (spec.md
// GLOSSARY: "a JSON object carrying {from_pubkey, from_address, nonce,
// timestamp, payload, signature}"). Type travels alongside it as the
// dispatch discriminant for the router.
type Envelope struct {
	Type        Type            `json:"type"`
	FromPubkey  string          `json:"from_pubkey"`  // base64 standard encoding
	FromAddress string          `json:"from_address"` // "call:" + base58(from_pubkey)
	Nonce       string          `json:"nonce"`
	Timestamp   int64           `json:"timestamp"` // unix milliseconds
	Payload     json.RawMessage `json:"payload"`
	Signature   string          `json:"signature"` // base64 standard encoding, Ed25519
}

// SignedBytes returns the canonical serialization of every envelope
// field except Signature — exactly the bytes that must be Ed25519-signed
// by the producer and re-derived by the verifier.
func (e *Envelope) SignedBytes() ([]byte, error) {
	signed := map[string]interface{}{
		"type":         string(e.Type),
		"from_pubkey":  e.FromPubkey,
		"from_address": e.FromAddress,
		"nonce":        e.Nonce,
		"timestamp":    e.Timestamp,
	}

	if len(e.Payload) > 0 {
		var payload interface{}
		dec := json.NewDecoder(bytes.NewReader(e.Payload))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			return nil, fmt.Errorf("envelope: decode payload: %w", err)
		}
		signed["payload"] = payload
	} else {
		signed["payload"] = nil
	}

	return CanonicalizeValue(signed)
}

// DecodedPubkey base64-decodes FromPubkey.
func (e *Envelope) DecodedPubkey() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(e.FromPubkey)
	if err != nil {
		return nil, fmt.Errorf("envelope: decode from_pubkey: %w", err)
	}
	return b, nil
}

// DecodedSignature base64-decodes Signature.
func (e *Envelope) DecodedSignature() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(e.Signature)
	if err != nil {
		return nil, fmt.Errorf("envelope: decode signature: %w", err)
	}
	return b, nil
}
