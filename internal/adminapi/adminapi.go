package adminapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/callhub/signalhub/internal/identity"
	"github.com/callhub/signalhub/internal/store"
)

// Server exposes operator-only identity mutation endpoints: changing an
// identity's plan, role, or suspension state (supplemented feature —
// spec.md's signaling/billing surfaces don't themselves let an operator
// override these, but a production hub needs a support/ops path).
type Server struct {
	jwt        *JWTManager
	identities store.IdentityStore
	logger     zerolog.Logger
}

// New constructs a Server backed by identities and gated by jwt.
func New(jwt *JWTManager, identities store.IdentityStore, logger zerolog.Logger) *Server {
	return &Server{jwt: jwt, identities: identities, logger: logger}
}

// Mux returns the admin HTTP surface, every route behind requireAuth.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/identities/{address}", s.jwt.requireAuth(s.handleGetIdentity))
	mux.HandleFunc("POST /admin/identities/{address}/plan", s.jwt.requireAuth(s.handleSetPlan))
	mux.HandleFunc("POST /admin/identities/{address}/role", s.jwt.requireAuth(s.handleSetRole))
	mux.HandleFunc("POST /admin/identities/{address}/suspend", s.jwt.requireAuth(s.handleSuspend))
	mux.HandleFunc("POST /admin/identities/{address}/unsuspend", s.jwt.requireAuth(s.handleUnsuspend))
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*identity.Identity, bool) {
	address := r.PathValue("address")
	id, err := s.identities.Get(r.Context(), address)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "identity_not_found")
		return nil, false
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("adminapi: identity lookup failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return nil, false
	}
	return id, true
}

func (s *Server) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	id, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, id)
}

type planRequest struct {
	Plan       identity.Plan       `json:"plan"`
	PlanStatus identity.PlanStatus `json:"plan_status"`
}

func (s *Server) handleSetPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Plan == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	id.Plan = req.Plan
	if req.PlanStatus != "" {
		id.PlanStatus = req.PlanStatus
	}
	if err := s.identities.Update(r.Context(), id); err != nil {
		s.logger.Error().Err(err).Msg("adminapi: set plan failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, id)
}

type roleRequest struct {
	Role identity.Role `json:"role"`
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Role == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	id.Role = req.Role
	if err := s.identities.Update(r.Context(), id); err != nil {
		s.logger.Error().Err(err).Msg("adminapi: set role failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, id)
}

type suspendRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	id, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req suspendRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "suspended_by_operator"
	}

	id.SuspendedState = req.Reason
	if err := s.identities.Update(r.Context(), id); err != nil {
		s.logger.Error().Err(err).Msg("adminapi: suspend failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, id)
}

func (s *Server) handleUnsuspend(w http.ResponseWriter, r *http.Request) {
	id, ok := s.lookup(w, r)
	if !ok {
		return
	}

	id.SuspendedState = ""
	if err := s.identities.Update(r.Context(), id); err != nil {
		s.logger.Error().Err(err).Msg("adminapi: unsuspend failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, id)
}
