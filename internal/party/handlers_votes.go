package party

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleCastVote applies a one-time, non-retractable vote. A second vote by
// the same attendee on the same track is rejected, whatever its direction.
func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partyID := chi.URLParam(r, "id")
	trackID := chi.URLParam(r, "trackId")
	reqID := requester(r)
	if reqID == "" {
		writeError(w, http.StatusUnauthorized, KindPermissionDenied, "missing attendee context")
		return
	}

	var body struct {
		Direction string `json:"direction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, KindInvalid, "invalid JSON body")
		return
	}

	res, err := s.store.CastVote(ctx, partyID, trackID, reqID, body.Direction)
	if err != nil {
		writeStoreError(w, "cast vote", err)
		return
	}

	s.publishEvent(ctx, EventQueueChanged, partyID, res.Version, map[string]any{
		"queue": res.Queue,
	})

	writeJSON(w, http.StatusOK, res.Changed)
}
