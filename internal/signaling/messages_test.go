package signaling

import (
	"context"
	"testing"

	"github.com/callhub/signalhub/internal/envelope"
)

func TestMsgSendDeliversWhenRecipientOnline(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t)
	bob := newTestClient(t)
	h.register(t, alice, "areg")
	h.register(t, bob, "breg")

	h.send(t, alice, envelope.TypeMsgSend, "n1", msgSendPayload{ToAddress: bob.address, Content: "hi bob"})

	frames := bob.drain(t)
	if len(frames) != 1 || frames[0].Type != "msg:incoming" {
		t.Fatalf("expected msg:incoming to bob, got %+v", frames)
	}
}

func TestMsgSendPersistsAndFlushesOnLateRegister(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t)
	bob := newTestClient(t) // keypair exists, but bob has not registered yet: offline.

	h.register(t, alice, "areg")
	bobAddress, err := identityAddress(bob)
	if err != nil {
		t.Fatalf("derive bob's address: %v", err)
	}

	h.send(t, alice, envelope.TypeMsgSend, "n1", msgSendPayload{ToAddress: bobAddress, Content: "hi bob"})

	pending, err := h.st.Conversations().ListPending(context.Background(), bobAddress)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending message for the offline recipient, got %+v", pending)
	}

	// bob registers later: handleRegister flushes the pending queue
	// before the "success" ack.
	frames := h.register(t, bob, "breg")
	if len(frames) != 2 || frames[0].Type != "msg:incoming" || frames[1].Type != "success" {
		t.Fatalf("expected flushed message then success ack, got %+v", frames)
	}

	stillPending, err := h.st.Conversations().ListPending(context.Background(), bobAddress)
	if err != nil {
		t.Fatalf("ListPending after flush: %v", err)
	}
	if len(stillPending) != 0 {
		t.Fatalf("expected no pending messages after flush, got %+v", stillPending)
	}
}

func TestMsgReadRelaysReceiptToSender(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t)
	bob := newTestClient(t)
	h.register(t, alice, "areg")
	h.register(t, bob, "breg")

	h.send(t, alice, envelope.TypeMsgSend, "n1", msgSendPayload{ToAddress: bob.address, Content: "hi bob"})
	bobFrames := bob.drain(t)
	if len(bobFrames) != 1 {
		t.Fatalf("setup: expected msg:incoming, got %+v", bobFrames)
	}
	incoming, ok := bobFrames[0].Payload.(map[string]interface{})
	if !ok {
		t.Fatalf("expected msg:incoming payload to decode as an object, got %+v", bobFrames[0].Payload)
	}
	msgID, _ := incoming["ID"].(string)
	if msgID == "" {
		t.Fatalf("could not find message id in %+v", incoming)
	}

	h.send(t, bob, envelope.TypeMsgRead, "n2", msgReadPayload{MessageID: msgID})
	aliceFrames := alice.drain(t)
	if len(aliceFrames) != 1 || aliceFrames[0].Type != "msg:read" {
		t.Fatalf("expected msg:read receipt to alice, got %+v", aliceFrames)
	}
}
