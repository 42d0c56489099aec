// Package httpapi implements the REST edges of spec.md §6: token
// minting, ICE server discovery, conversation/message history, file
// upload, and liveness — everything that isn't the WebSocket signaling
// path. Grounded in go-server/internal/server/server.go's handler style
// (methods on a *Server, JSON encoded straight to the response writer),
// extended with Go 1.22+ mux method+path-variable patterns instead of
// the teacher's manual prefix parsing.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/callhub/signalhub/internal/config"
	"github.com/callhub/signalhub/internal/ledger"
	"github.com/callhub/signalhub/internal/store"
	"github.com/callhub/signalhub/internal/tokens"
)

// Server holds the REST handlers' collaborators.
type Server struct {
	cfg        *config.Config
	tokens     *tokens.Service
	ledger     *ledger.Service
	identities store.IdentityStore
	logger     zerolog.Logger
}

func New(cfg *config.Config, tk *tokens.Service, led *ledger.Service, identities store.IdentityStore, logger zerolog.Logger) *Server {
	return &Server{cfg: cfg, tokens: tk, ledger: led, identities: identities, logger: logger}
}

// Mux builds the *http.ServeMux this server answers on. Separate from
// New so cmd/hubd can mount it under a path prefix if it ever needs to.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/call-session-token", s.handleCallSessionToken)
	mux.HandleFunc("GET /api/ice", s.handleICE)
	mux.HandleFunc("GET /api/conversations/{address}", s.handleConversations)
	mux.HandleFunc("GET /api/messages/{convo_id}", s.handleMessages)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("GET /api/files/{file_id}", s.handleFile)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
