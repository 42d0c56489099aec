package signaling

import (
	"testing"

	"github.com/callhub/signalhub/internal/envelope"
)

func TestRegisterBindsAddressAndAcks(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t)

	h.register(t, alice, "n1")

	if alice.conn.boundAddress() != alice.address {
		t.Fatalf("connection not bound: got %q want %q", alice.conn.boundAddress(), alice.address)
	}
	if !h.srv.registry.Online(alice.address) {
		t.Fatalf("address not registered after register envelope")
	}
}

func TestUnregisteredConnectionRejected(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t)

	h.send(t, alice, envelope.TypeMsgSend, "n1", msgSendPayload{ToAddress: "call:bob", Content: "hi"})

	frames := alice.drain(t)
	if len(frames) != 1 || frames[0].Type != "error" {
		t.Fatalf("expected a single error frame, got %+v", frames)
	}
}

func TestRelayForwardsVerbatimWhenOnline(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t)
	bob := newTestClient(t)
	h.register(t, alice, "areg")
	h.register(t, bob, "breg")

	h.send(t, alice, envelope.TypeWebRTCOffer, "n1", map[string]string{
		"target_address": bob.address,
		"sdp":            "v=0...",
	})

	frames := bob.drain(t)
	if len(frames) != 1 || frames[0].Type != string(envelope.TypeWebRTCOffer) {
		t.Fatalf("expected relayed webrtc:offer, got %+v", frames)
	}
}

func TestRelayDroppedSilentlyWhenTargetOffline(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t)
	h.register(t, alice, "areg")

	h.send(t, alice, envelope.TypeWebRTCOffer, "n1", map[string]string{
		"target_address": "call:nobody",
		"sdp":            "v=0...",
	})

	if frames := alice.drain(t); len(frames) != 0 {
		t.Fatalf("expected no frames back to sender on offline relay, got %+v", frames)
	}
}

func TestUnknownEnvelopeTypeReportsError(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t)
	h.register(t, alice, "areg")

	h.send(t, alice, envelope.Type("made:up"), "n1", nil)

	frames := alice.drain(t)
	if len(frames) != 1 || frames[0].Type != "error" {
		t.Fatalf("expected error frame for unknown type, got %+v", frames)
	}
}

func TestPingReplaysPong(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t)
	h.register(t, alice, "areg")

	h.send(t, alice, envelope.TypePing, "n1", nil)

	frames := alice.drain(t)
	if len(frames) != 1 || frames[0].Type != "pong" {
		t.Fatalf("expected pong, got %+v", frames)
	}
}

// fakeConn is a minimal registry.Conn used where a test needs to
// exercise displacement without going through the real *Conn's
// net.Conn-backed Close.
type fakeConn struct {
	id     int64
	closed bool
}

func (f *fakeConn) ID() int64          { return f.id }
func (f *fakeConn) Send(_ []byte) bool { return true }
func (f *fakeConn) Close(_ string)     { f.closed = true }

func TestNewRegistrationDisplacesOldConnection(t *testing.T) {
	h := newTestHub(t)

	old := &fakeConn{id: 1}
	h.srv.registry.Register("call:alice", old)

	next := &fakeConn{id: 2}
	h.srv.registry.Register("call:alice", next)

	if !old.closed {
		t.Fatalf("expected displaced connection to be closed")
	}
	conn, ok := h.srv.registry.Lookup("call:alice")
	if !ok || conn.ID() != next.id {
		t.Fatalf("expected registry to point at the newer connection")
	}
}
