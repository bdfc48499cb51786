package party

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestServer() (*Server, *MemoryStore, *capturePublisher) {
	store := NewMemoryStore()
	pub := &capturePublisher{}
	return NewServer(store, pub, nil), store, pub
}

func doJSON(t *testing.T, router http.Handler, method, path, attendeeID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if attendeeID != "" {
		req.Header.Set("X-Attendee-Id", attendeeID)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleCreateParty(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server, _, _ := newTestServer()
		r := server.Router()

		rec := doJSON(t, r, "POST", "/parties", "", map[string]string{
			"name":         "Friday Jam",
			"hostName":     "Sam",
			"catalogToken": "tok",
		})
		assert.Equal(t, http.StatusCreated, rec.Code)

		var resp struct {
			Party    Party    `json:"party"`
			Attendee Attendee `json:"attendee"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Friday Jam", resp.Party.Name)
		assert.Len(t, resp.Party.JoinCode, joinCodeLength)
		assert.True(t, resp.Attendee.Admin)
	})

	t.Run("empty name", func(t *testing.T) {
		server, _, _ := newTestServer()
		rec := doJSON(t, server.Router(), "POST", "/parties", "", map[string]string{
			"name": "  ", "hostName": "Sam",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid json", func(t *testing.T) {
		server, _, _ := newTestServer()
		req := httptest.NewRequest("POST", "/parties", bytes.NewBufferString("{nope"))
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("credential never leaks in responses", func(t *testing.T) {
		server, _, _ := newTestServer()
		rec := doJSON(t, server.Router(), "POST", "/parties", "", map[string]string{
			"name": "Secret", "hostName": "Sam", "catalogToken": "super-secret",
		})
		assert.NotContains(t, rec.Body.String(), "super-secret")
	})
}

func TestHandleJoinParty(t *testing.T) {
	server, store, pub := newTestServer()
	r := server.Router()
	p, _ := mustCreate(t, store, "Friday Jam", "Sam")

	t.Run("success emits member.added", func(t *testing.T) {
		rec := doJSON(t, r, "POST", "/parties/join", "", map[string]string{
			"code": p.JoinCode, "name": "Alex",
		})
		assert.Equal(t, http.StatusOK, rec.Code)

		ev := pub.last(t)
		assert.Equal(t, EventMemberAdded, ev["type"])
		assert.Equal(t, p.ID, ev["partyId"])
	})

	t.Run("unknown code", func(t *testing.T) {
		rec := doJSON(t, r, "POST", "/parties/join", "", map[string]string{
			"code": "ZZZZZZ", "name": "Alex",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing code", func(t *testing.T) {
		rec := doJSON(t, r, "POST", "/parties/join", "", map[string]string{"name": "Alex"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleCloseParty(t *testing.T) {
	server, store, pub := newTestServer()
	r := server.Router()
	p, host := mustCreate(t, store, "Friday Jam", "Sam")
	guest := mustJoin(t, store, p.JoinCode, "Alex")

	t.Run("missing attendee context", func(t *testing.T) {
		rec := doJSON(t, r, "DELETE", "/parties/"+p.ID, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("non-admin denied, party intact", func(t *testing.T) {
		rec := doJSON(t, r, "DELETE", "/parties/"+p.ID, guest.ID, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = doJSON(t, r, "GET", "/parties/"+p.ID, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("admin closes, terminal event, then 404", func(t *testing.T) {
		rec := doJSON(t, r, "DELETE", "/parties/"+p.ID, host.ID, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		ev := pub.last(t)
		assert.Equal(t, EventPartyClosed, ev["type"])

		rec = doJSON(t, r, "GET", "/parties/"+p.ID, "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleGetParty(t *testing.T) {
	server, store, _ := newTestServer()
	r := server.Router()
	p, host := mustCreate(t, store, "Friday Jam", "Sam")
	_, err := store.AddTrack(context.Background(), p.ID, host.ID, track("t1", "Song"))
	require.NoError(t, err)

	rec := doJSON(t, r, "GET", "/parties/"+p.ID, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Len(t, snap.Attendees, 1)
	assert.Len(t, snap.Queue, 1)
}

func TestHandleGetPartyStoreFailure(t *testing.T) {
	mockStore := new(MockStore)
	server := NewServer(mockStore, nil, nil)
	r := server.Router()

	mockStore.On("GetSnapshot", mock.Anything, "p1").Return(nil, errors.New("pg down"))

	rec := doJSON(t, r, "GET", "/parties/p1", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), KindInternal)
}
