package party

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// CatalogSearcher is the slice of the catalog gateway the API needs: search
// on behalf of a party using the party's stored credential.
type CatalogSearcher interface {
	Search(ctx context.Context, token, query string, limit int) ([]Track, error)
}

type Server struct {
	store   Store
	pub     Publisher
	catalog CatalogSearcher
}

func NewServer(store Store, pub Publisher, catalog CatalogSearcher) *Server {
	return &Server{
		store:   store,
		pub:     pub,
		catalog: catalog,
	}
}

func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/health", s.handleHealth)

	r.Post("/parties", s.handleCreateParty)
	r.Post("/parties/join", s.handleJoinParty)

	r.Route("/parties/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetParty)
		r.Delete("/", s.handleCloseParty)

		r.Get("/attendees", s.handleListAttendees)
		r.Patch("/attendees/{attendeeId}", s.handleRenameAttendee)
		r.Delete("/attendees/{attendeeId}", s.handleRemoveAttendee)

		r.Get("/queue", s.handleGetQueue)
		r.Post("/queue", s.handleAddTrack)
		r.Delete("/queue/{trackId}", s.handleRemoveTrack)
		r.Post("/queue/{trackId}/vote", s.handleCastVote)

		r.Post("/next", s.handleNextTrack)

		r.Get("/search", s.handleSearchTracks)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "party-service",
	})
}

// requester pulls the calling attendee's id from the gateway-injected header.
func requester(r *http.Request) string {
	return r.Header.Get("X-Attendee-Id")
}
