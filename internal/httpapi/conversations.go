package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/callhub/signalhub/internal/store"
)

// handleConversations implements GET /api/conversations/{address}.
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	convos, err := s.ledger.ConversationsFor(r.Context(), address)
	if err != nil {
		s.logger.Error().Err(err).Msg("conversations: list failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": convos})
}

// handleMessages implements GET /api/messages/{convo_id}?limit=N&before=ts,
// with an additional ?since_seq=N form for cross-device-sync pagination
// (spec.md §4.7's get_messages_since, exposed over HTTP too).
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	convoID := r.PathValue("convo_id")
	if convoID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if _, ok, err := s.ledger.GetConversation(r.Context(), convoID); err != nil {
		s.logger.Error().Err(err).Msg("messages: conversation lookup failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	} else if !ok {
		writeError(w, http.StatusNotFound, "conversation_not_found")
		return
	}

	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	var (
		messages []*store.Message
		err      error
	)
	switch {
	case q.Has("since_seq"):
		sinceSeq, convErr := strconv.ParseInt(q.Get("since_seq"), 10, 64)
		if convErr != nil {
			writeError(w, http.StatusBadRequest, "invalid_since_seq")
			return
		}
		messages, err = s.ledger.MessagesSince(r.Context(), convoID, sinceSeq, limit)
	case q.Has("before"):
		beforeTS, parseErr := time.Parse(time.RFC3339, q.Get("before"))
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid_before")
			return
		}
		messages, err = s.ledger.MessagesBefore(r.Context(), convoID, beforeTS, limit)
	default:
		messages, err = s.ledger.MessagesBefore(r.Context(), convoID, time.Now(), limit)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("messages: history query failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}
