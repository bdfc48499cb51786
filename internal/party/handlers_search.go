package party

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

// handleSearchTracks proxies catalog search using the party's stored
// credential, so attendees never hold the credential themselves. A catalog
// outage is retryable and never touches party state.
func (s *Server) handleSearchTracks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partyID := chi.URLParam(r, "id")

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, KindInvalid, "query parameter q is required")
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 50 {
			writeError(w, http.StatusBadRequest, KindInvalid, "limit must be between 1 and 50")
			return
		}
		limit = n
	}

	if s.catalog == nil {
		writeError(w, http.StatusBadGateway, KindUnavailable, "catalog is not configured")
		return
	}

	token, err := s.store.CatalogToken(ctx, partyID)
	if err != nil {
		writeStoreError(w, "search catalog token", err)
		return
	}

	tracks, err := s.catalog.Search(ctx, token, query, limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, KindUnavailable, "catalog is unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tracks": tracks,
	})
}
