package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/callhub/signalhub/internal/identity"
	"github.com/callhub/signalhub/internal/store"
	"github.com/callhub/signalhub/internal/tokens"
)

type callSessionTokenRequest struct {
	Address       string `json:"address"`
	TargetAddress string `json:"target_address"`
}

type callSessionTokenResponse struct {
	Token          string             `json:"token"`
	Nonce          string             `json:"nonce"`
	IssuedAt       string             `json:"issued_at"`
	ExpiresAt      string             `json:"expires_at"`
	ServerTime     string             `json:"server_time"`
	Plan           identity.Plan      `json:"plan"`
	AllowTURN      bool               `json:"allow_turn"`
	AllowVideo     bool               `json:"allow_video"`
	TurnConfigured bool               `json:"turn_configured"`
	ICEServers     []tokens.ICEServer `json:"ice_servers"`
}

// handleCallSessionToken implements spec.md §4.6: POST
// {address, target_address?} -> a single-use 10-minute token plus the
// caller-tier-appropriate ICE server list. The caller must already have
// an identity (created by registering over the WebSocket first); this
// endpoint never creates one, since it has no public key to bind.
func (s *Server) handleCallSessionToken(w http.ResponseWriter, r *http.Request) {
	var req callSessionTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	id, err := s.identities.Get(r.Context(), req.Address)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "identity_not_found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("call-session-token: identity lookup failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	res, err := s.tokens.Issue(r.Context(), req.Address, req.TargetAddress, id.Plan)
	if err != nil {
		s.logger.Error().Err(err).Msg("call-session-token: issue failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, callSessionTokenResponse{
		Token:          res.Token,
		Nonce:          res.Nonce,
		IssuedAt:       res.IssuedAt.Format(timeLayout),
		ExpiresAt:      res.ExpiresAt.Format(timeLayout),
		ServerTime:     res.ServerTime.Format(timeLayout),
		Plan:           res.Plan,
		AllowTURN:      res.AllowTURN,
		AllowVideo:     res.AllowVideo,
		TurnConfigured: res.TurnConfigured,
		ICEServers:     res.ICEServers,
	})
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// handleICE implements GET /api/ice: {mode, ice_servers}. An optional
// ?address= query parameter scopes TURN credential issuance to that
// identity's plan; without it the response is STUN-only.
func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")

	allowTURN := false
	if address != "" {
		if id, err := s.identities.Get(r.Context(), address); err == nil {
			allowTURN = id.Plan.IsPaid()
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mode":        s.cfg.TurnMode,
		"ice_servers": tokens.BuildICEServers(s.cfg, allowTURN, address),
	})
}
