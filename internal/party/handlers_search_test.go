package party

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSearcher struct {
	gotToken string
	gotQuery string
	gotLimit int
	tracks   []Track
	err      error
}

func (s *stubSearcher) Search(ctx context.Context, token, query string, limit int) ([]Track, error) {
	s.gotToken = token
	s.gotQuery = query
	s.gotLimit = limit
	return s.tracks, s.err
}

func TestHandleSearchTracks(t *testing.T) {
	t.Run("proxies with the stored credential", func(t *testing.T) {
		store := NewMemoryStore()
		searcher := &stubSearcher{tracks: []Track{{CatalogID: "t1", Title: "Song"}}}
		server := NewServer(store, &capturePublisher{}, searcher)
		r := server.Router()
		p, _, err := store.CreateParty(context.Background(), "Friday Jam", "Sam", "cat-token")
		require.NoError(t, err)

		rec := doJSON(t, r, "GET", "/parties/"+p.ID+"/search?q=song&limit=5", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "cat-token", searcher.gotToken)
		assert.Equal(t, "song", searcher.gotQuery)
		assert.Equal(t, 5, searcher.gotLimit)

		var resp struct {
			Tracks []Track `json:"tracks"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Tracks, 1)
	})

	t.Run("missing query", func(t *testing.T) {
		store := NewMemoryStore()
		server := NewServer(store, &capturePublisher{}, &stubSearcher{})
		p, _ := mustCreate(t, store, "Friday Jam", "Sam")

		rec := doJSON(t, server.Router(), "GET", "/parties/"+p.ID+"/search", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("limit out of range", func(t *testing.T) {
		store := NewMemoryStore()
		server := NewServer(store, &capturePublisher{}, &stubSearcher{})
		p, _ := mustCreate(t, store, "Friday Jam", "Sam")

		rec := doJSON(t, server.Router(), "GET", "/parties/"+p.ID+"/search?q=x&limit=99", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("catalog not configured", func(t *testing.T) {
		store := NewMemoryStore()
		server := NewServer(store, &capturePublisher{}, nil)
		p, _ := mustCreate(t, store, "Friday Jam", "Sam")

		rec := doJSON(t, server.Router(), "GET", "/parties/"+p.ID+"/search?q=x", "", nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, rec.Body.String(), KindUnavailable)
	})

	t.Run("catalog outage is 502", func(t *testing.T) {
		store := NewMemoryStore()
		server := NewServer(store, &capturePublisher{}, &stubSearcher{err: errors.New("timeout")})
		p, _ := mustCreate(t, store, "Friday Jam", "Sam")

		rec := doJSON(t, server.Router(), "GET", "/parties/"+p.ID+"/search?q=x", "", nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("unknown party", func(t *testing.T) {
		server := NewServer(NewMemoryStore(), &capturePublisher{}, &stubSearcher{})
		rec := doJSON(t, server.Router(), "GET", "/parties/nope/search?q=x", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
