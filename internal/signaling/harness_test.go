package signaling

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/callhub/signalhub/internal/calltracker"
	"github.com/callhub/signalhub/internal/config"
	"github.com/callhub/signalhub/internal/envelope"
	"github.com/callhub/signalhub/internal/identity"
	"github.com/callhub/signalhub/internal/ledger"
	"github.com/callhub/signalhub/internal/policy"
	"github.com/callhub/signalhub/internal/ratelimit"
	"github.com/callhub/signalhub/internal/registry"
	"github.com/callhub/signalhub/internal/store"
	"github.com/callhub/signalhub/internal/store/memory"
	"github.com/callhub/signalhub/internal/tokens"
	"github.com/callhub/signalhub/internal/usage"
)

// testHub bundles a Server with the in-memory store it was built on, so
// tests can reach into store state directly (e.g. to mint tokens or
// inspect usage counters) without going through the wire protocol.
type testHub struct {
	srv   *Server
	st    store.Store
	usage *usage.Service
	toks  *tokens.Service
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()

	st := memory.New()
	u := usage.New(st.Usage())
	cfg := &config.Config{MaxConnections: 1000, TurnMode: config.TurnModeOff}
	reg := registry.New()
	verifier := envelope.NewVerifier(reg)
	tk := tokens.New(st.Tokens(), cfg)
	led := ledger.New(st.Conversations())
	tracker := calltracker.New(st.ActiveCalls(), u, zerolog.Nop())
	eng := policy.New(st.Policies(), st.Contacts(), st.Passes(), st.ActiveCalls(), u, ratelimit.NewRingLimiter())

	srv := New(Deps{
		Config:      cfg,
		Registry:    reg,
		Verifier:    verifier,
		Policy:      eng,
		Tokens:      tk,
		Ledger:      led,
		Tracker:     tracker,
		Usage:       u,
		Identities:  st.Identities(),
		Contacts:    st.Contacts(),
		Policies:    st.Policies(),
		Passes:      st.Passes(),
		ConnLimiter: nil,
		Logger:      zerolog.Nop(),
	})

	return &testHub{srv: srv, st: st, usage: u, toks: tk}
}

// testClient is a fake WebSocket connection: a real *Conn (so its send
// queue and registry-visible identity behave exactly as in production)
// built with a nil underlying net.Conn — readPump/writePump are never
// exercised by these tests, only handleFrame and Conn.Send/ID.
type testClient struct {
	conn    *Conn
	priv    ed25519.PrivateKey
	address string
}

func newTestClient(t *testing.T) *testClient {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return &testClient{conn: newConn(nil, zerolog.Nop()), priv: priv}
}

// drain returns every frame currently queued on the client's outbound
// channel, decoded as outbound envelopes.
func (tc *testClient) drain(t *testing.T) []outbound {
	t.Helper()
	var out []outbound
	for {
		select {
		case frame := <-tc.conn.send:
			var o outbound
			if err := json.Unmarshal(frame, &o); err != nil {
				t.Fatalf("unmarshal outbound frame: %v", err)
			}
			out = append(out, o)
		default:
			return out
		}
	}
}

// frame signs typ/payload as this client and marshals the resulting
// envelope into wire bytes.
func (tc *testClient) frame(t *testing.T, typ envelope.Type, nonce string, payload interface{}) []byte {
	t.Helper()
	e, err := envelope.Sign(tc.priv, typ, nonce, payload, time.Now())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return b
}

// register signs and dispatches a register envelope for tc, recording
// the derived address onto tc, and returns whatever frames registration
// produced (the "success" ack, plus any flushed pending messages) so
// callers that care about the flush can inspect them; callers that
// don't can simply ignore the return value.
func (h *testHub) register(t *testing.T, tc *testClient, nonce string) []outbound {
	t.Helper()
	e, err := envelope.Sign(tc.priv, envelope.TypeRegister, nonce, nil, time.Now())
	if err != nil {
		t.Fatalf("Sign register: %v", err)
	}
	tc.address = e.FromAddress

	frame, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal register: %v", err)
	}
	h.srv.handleFrame(context.Background(), tc.conn, frame)
	return tc.drain(t)
}

// send signs and dispatches one envelope as tc, through the full
// handleFrame path (verification included).
func (h *testHub) send(t *testing.T, tc *testClient, typ envelope.Type, nonce string, payload interface{}) {
	t.Helper()
	h.srv.handleFrame(context.Background(), tc.conn, tc.frame(t, typ, nonce, payload))
}

// identityAddress derives tc's call address from its keypair without
// registering it, for tests that need to address an intentionally
// offline client.
func identityAddress(tc *testClient) (string, error) {
	return identity.AddressFromPublicKey(tc.priv.Public().(ed25519.PublicKey))
}
