package party

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListAttendees(w http.ResponseWriter, r *http.Request) {
	attendees, err := s.store.ListAttendees(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, "list attendees", err)
		return
	}
	writeJSON(w, http.StatusOK, attendees)
}

func (s *Server) handleRemoveAttendee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partyID := chi.URLParam(r, "id")
	attendeeID := chi.URLParam(r, "attendeeId")
	reqID := requester(r)
	if reqID == "" {
		writeError(w, http.StatusUnauthorized, KindPermissionDenied, "missing attendee context")
		return
	}

	res, err := s.store.RemoveAttendee(ctx, partyID, attendeeID, reqID)
	if err != nil {
		writeStoreError(w, "remove attendee", err)
		return
	}

	s.publishEvent(ctx, EventMemberRemoved, partyID, res.Version, map[string]any{
		"attendee":  res.Changed,
		"attendees": res.Attendees,
	})

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRenameAttendee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partyID := chi.URLParam(r, "id")
	attendeeID := chi.URLParam(r, "attendeeId")
	reqID := requester(r)
	if reqID == "" {
		writeError(w, http.StatusUnauthorized, KindPermissionDenied, "missing attendee context")
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, KindInvalid, "invalid JSON body")
		return
	}

	res, err := s.store.RenameAttendee(ctx, partyID, attendeeID, reqID, body.Name)
	if err != nil {
		writeStoreError(w, "rename attendee", err)
		return
	}

	s.publishEvent(ctx, EventMemberChanged, partyID, res.Version, map[string]any{
		"attendee":  res.Changed,
		"attendees": res.Attendees,
	})

	writeJSON(w, http.StatusOK, res.Changed)
}
