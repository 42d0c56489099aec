package signaling

import (
	"context"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/callhub/signalhub/internal/calltracker"
	"github.com/callhub/signalhub/internal/config"
	"github.com/callhub/signalhub/internal/envelope"
	"github.com/callhub/signalhub/internal/ledger"
	"github.com/callhub/signalhub/internal/logging"
	"github.com/callhub/signalhub/internal/policy"
	"github.com/callhub/signalhub/internal/ratelimit"
	"github.com/callhub/signalhub/internal/registry"
	"github.com/callhub/signalhub/internal/store"
	"github.com/callhub/signalhub/internal/tokens"
	"github.com/callhub/signalhub/internal/usage"
)

// Server is the WebSocket transport plus envelope router described by
// spec.md §4.8: one Server per process, shared by every connection.
type Server struct {
	cfg *config.Config

	registry *registry.Registry
	verifier *envelope.Verifier
	policy   *policy.Engine
	tokens   *tokens.Service
	ledger   *ledger.Service
	tracker  *calltracker.Tracker
	usage    *usage.Service

	identities store.IdentityStore
	contacts   store.ContactStore
	policies   store.PolicyStore
	passes     store.PassStore

	connLimiter *ratelimit.ConnectionLimiter
	calls       *callTable

	logger zerolog.Logger
}

// Deps bundles every collaborator Server needs, so New has one
// readable call site in cmd/hubd.
type Deps struct {
	Config      *config.Config
	Registry    *registry.Registry
	Verifier    *envelope.Verifier
	Policy      *policy.Engine
	Tokens      *tokens.Service
	Ledger      *ledger.Service
	Tracker     *calltracker.Tracker
	Usage       *usage.Service
	Identities  store.IdentityStore
	Contacts    store.ContactStore
	Policies    store.PolicyStore
	Passes      store.PassStore
	ConnLimiter *ratelimit.ConnectionLimiter
	Logger      zerolog.Logger
}

func New(d Deps) *Server {
	return &Server{
		cfg:         d.Config,
		registry:    d.Registry,
		verifier:    d.Verifier,
		policy:      d.Policy,
		tokens:      d.Tokens,
		ledger:      d.Ledger,
		tracker:     d.Tracker,
		usage:       d.Usage,
		identities:  d.Identities,
		contacts:    d.Contacts,
		policies:    d.Policies,
		passes:      d.Passes,
		connLimiter: d.ConnLimiter,
		calls:       newCallTable(),
		logger:      d.Logger,
	}
}

// ServeHTTP upgrades the request to a WebSocket and runs the connection
// until it closes. Grounded in ws_poc's handleWebSocket: reject under
// load before upgrading, then hand off to the read/write pumps. A panic
// in a frame handler is recovered and logged here and ends only this
// connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := clientIP(r)

	if s.connLimiter != nil && !s.connLimiter.Allow(clientIP) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	if s.cfg != nil && s.cfg.MaxConnections > 0 && s.registry.Count() >= s.cfg.MaxConnections {
		http.Error(w, "server overloaded", http.StatusServiceUnavailable)
		return
	}

	nc, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug().Err(err).Str("client_ip", clientIP).Msg("websocket upgrade failed")
		return
	}

	c := newConn(nc, s.logger)
	defer func() {
		if r := recover(); r != nil {
			logging.LogPanic(s.logger, r, "signaling connection")
		}
		s.onDisconnect(c)
	}()
	go c.writePump()
	c.readPump(func(frame []byte) {
		s.handleFrame(context.Background(), c, frame)
	})
}

// onDisconnect unbinds the connection's address (if any) from the
// registry and synthesizes call:end for every call it was a party to
// that has not ended (spec.md §4.8 "cancellation synthesizes call:end").
func (s *Server) onDisconnect(c *Conn) {
	address := c.boundAddress()
	if address == "" {
		return
	}
	s.registry.Unregister(address, c)

	for _, call := range s.calls.forAddress(address) {
		s.endCallForDisconnect(call, address)
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	host := r.RemoteAddr
	return host
}
