package party

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleCreateParty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Name         string `json:"name"`
		HostName     string `json:"hostName"`
		CatalogToken string `json:"catalogToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, KindInvalid, "invalid JSON body")
		return
	}

	p, host, err := s.store.CreateParty(ctx, body.Name, body.HostName, body.CatalogToken)
	if err != nil {
		writeStoreError(w, "create party", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"party":    p,
		"attendee": host,
	})
}

func (s *Server) handleGetParty(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.GetSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, "get party", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleJoinParty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, KindInvalid, "invalid JSON body")
		return
	}
	if body.Code == "" {
		writeError(w, http.StatusBadRequest, KindInvalid, "join code is required")
		return
	}

	p, res, err := s.store.JoinParty(ctx, body.Code, body.Name)
	if err != nil {
		writeStoreError(w, "join party", err)
		return
	}

	s.publishEvent(ctx, EventMemberAdded, p.ID, res.Version, map[string]any{
		"attendee":  res.Changed,
		"attendees": res.Attendees,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"party":    p,
		"attendee": res.Changed,
	})
}

func (s *Server) handleCloseParty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partyID := chi.URLParam(r, "id")
	reqID := requester(r)
	if reqID == "" {
		writeError(w, http.StatusUnauthorized, KindPermissionDenied, "missing attendee context")
		return
	}

	version, err := s.store.CloseParty(ctx, partyID, reqID)
	if err != nil {
		writeStoreError(w, "close party", err)
		return
	}

	// Terminal event: the feed delivers it and then evicts every subscriber.
	s.publishEvent(ctx, EventPartyClosed, partyID, version, nil)

	w.WriteHeader(http.StatusNoContent)
}
