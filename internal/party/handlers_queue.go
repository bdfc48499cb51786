package party

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.GetSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, "get queue", err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Queue)
}

func (s *Server) handleAddTrack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partyID := chi.URLParam(r, "id")
	reqID := requester(r)
	if reqID == "" {
		writeError(w, http.StatusUnauthorized, KindPermissionDenied, "missing attendee context")
		return
	}

	var body Track
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, KindInvalid, "invalid JSON body")
		return
	}

	res, err := s.store.AddTrack(ctx, partyID, reqID, body)
	if err != nil {
		writeStoreError(w, "add track", err)
		return
	}

	s.publishEvent(ctx, EventQueueChanged, partyID, res.Version, map[string]any{
		"queue": res.Queue,
	})

	writeJSON(w, http.StatusCreated, res.Changed)
}

// handleRemoveTrack serves both admin purges and the playback controller's
// track-consumed signal; removing an absent track succeeds.
func (s *Server) handleRemoveTrack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partyID := chi.URLParam(r, "id")
	trackID := chi.URLParam(r, "trackId")

	res, err := s.store.RemoveTrack(ctx, partyID, trackID)
	if err != nil {
		writeStoreError(w, "remove track", err)
		return
	}

	if res != nil {
		s.publishEvent(ctx, EventQueueChanged, partyID, res.Version, map[string]any{
			"queue": res.Queue,
		})
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleNextTrack pops the queue head into the party's current track. Admin
// only; the admin's device drives actual playback.
func (s *Server) handleNextTrack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partyID := chi.URLParam(r, "id")
	reqID := requester(r)
	if reqID == "" {
		writeError(w, http.StatusUnauthorized, KindPermissionDenied, "missing attendee context")
		return
	}

	res, err := s.store.NextTrack(ctx, partyID, reqID)
	if err != nil {
		writeStoreError(w, "next track", err)
		return
	}

	s.publishEvent(ctx, EventPlayerChanged, partyID, res.Version, map[string]any{
		"currentTrack": res.Current,
	})
	s.publishEvent(ctx, EventQueueChanged, partyID, res.Version, map[string]any{
		"queue": res.Queue,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"currentTrack": res.Current,
		"queue":        res.Queue,
	})
}
