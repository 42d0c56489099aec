package signaling

import (
	"context"
	"testing"

	"github.com/callhub/signalhub/internal/envelope"
	"github.com/callhub/signalhub/internal/store"
)

func TestPolicyControlUpdatesOnlyPresentFields(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t)
	h.register(t, alice, "areg")

	h.send(t, alice, envelope.TypePolicy, "n1", policyUpdatePayload{AllowCallsFrom: string(store.AllowInviteOnly)})

	frames := alice.drain(t)
	if len(frames) != 1 || frames[0].Type != "success" {
		t.Fatalf("expected success ack, got %+v", frames)
	}

	pol, err := h.st.Policies().Get(context.Background(), alice.address)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if pol.AllowCallsFrom != store.AllowInviteOnly {
		t.Fatalf("expected allow_calls_from updated, got %q", pol.AllowCallsFrom)
	}
	// RingWindowMinutes was not present in the payload: default untouched.
	if pol.RingWindowMinutes != store.DefaultPolicy(alice.address).RingWindowMinutes {
		t.Fatalf("expected untouched ring_window_minutes, got %d", pol.RingWindowMinutes)
	}
}

func TestPassControlMintsOwnedPass(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t)
	h.register(t, alice, "areg")

	h.send(t, alice, envelope.TypePass, "n1", passCreatePayload{Kind: "one_time"})

	frames := alice.drain(t)
	if len(frames) != 1 || frames[0].Type != "success" {
		t.Fatalf("expected success ack, got %+v", frames)
	}
	success, ok := frames[0].Payload.(map[string]interface{})
	if !ok {
		t.Fatalf("expected success payload to decode as an object, got %+v", frames[0].Payload)
	}
	ack, ok := success["ack"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected an ack object in %+v", success)
	}
	passID, _ := ack["ID"].(string)
	if passID == "" {
		t.Fatalf("expected a minted pass id in %+v", ack)
	}

	pass, found, err := h.st.Passes().Get(context.Background(), passID)
	if err != nil || !found {
		t.Fatalf("expected pass to be persisted: found=%v err=%v", found, err)
	}
	if pass.OwnerAddress != alice.address {
		t.Fatalf("expected pass owned by alice, got %q", pass.OwnerAddress)
	}
}

func TestPassControlRejectsUnknownKind(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t)
	h.register(t, alice, "areg")

	h.send(t, alice, envelope.TypePass, "n1", passCreatePayload{Kind: "not_a_real_kind"})

	frames := alice.drain(t)
	if len(frames) != 1 || frames[0].Type != "error" {
		t.Fatalf("expected error for unrecognized pass kind, got %+v", frames)
	}
}

func TestBlockControlBlocksAndUnblocks(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t)
	h.register(t, alice, "areg")

	h.send(t, alice, envelope.TypeBlock, "n1", blockPayload{Action: "block", Address: "call:pest"})
	alice.drain(t)

	blocked, err := h.st.Policies().IsBlocked(context.Background(), alice.address, "call:pest")
	if err != nil || !blocked {
		t.Fatalf("expected call:pest blocked: blocked=%v err=%v", blocked, err)
	}

	h.send(t, alice, envelope.TypeBlock, "n2", blockPayload{Action: "unblock", Address: "call:pest"})
	alice.drain(t)

	blocked, err = h.st.Policies().IsBlocked(context.Background(), alice.address, "call:pest")
	if err != nil || blocked {
		t.Fatalf("expected call:pest unblocked: blocked=%v err=%v", blocked, err)
	}
}

func TestRoutingControlAlwaysOverrideNotifiesContact(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t)
	bob := newTestClient(t)
	h.register(t, alice, "areg")
	h.register(t, bob, "breg")

	h.send(t, alice, envelope.TypeRouting, "n1", routingOverridePayload{ContactAddress: bob.address, Override: string(store.OverrideAlways)})
	alice.drain(t)

	override, err := h.st.Contacts().Override(context.Background(), alice.address, bob.address)
	if err != nil || override != store.OverrideAlways {
		t.Fatalf("expected always override persisted, got %q err=%v", override, err)
	}

	bobFrames := bob.drain(t)
	if len(bobFrames) != 1 || bobFrames[0].Type != "contact:added_by" {
		t.Fatalf("expected contact:added_by notification to bob, got %+v", bobFrames)
	}
}

func TestWalletControlAcksWithoutMutatingState(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t)
	h.register(t, alice, "areg")

	h.send(t, alice, envelope.TypeWallet, "n1", map[string]string{"intent": "top_up"})

	frames := alice.drain(t)
	if len(frames) != 1 || frames[0].Type != "success" {
		t.Fatalf("expected a bare success ack, got %+v", frames)
	}
}
