package feed

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

var upgrader = websocket.Upgrader{
	// Origin is enforced at the gateway.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SnapshotFunc produces the initial full party state for a new subscriber
// together with the party version the snapshot reflects.
type SnapshotFunc func(ctx context.Context, partyID string) (payload json.RawMessage, version int64, err error)

type Server struct {
	hub      *Hub
	rdb      *redis.Client
	snapshot SnapshotFunc
}

func NewServer(hub *Hub, rdb *redis.Client, snapshot SnapshotFunc) *Server {
	return &Server{
		hub:      hub,
		rdb:      rdb,
		snapshot: snapshot,
	}
}

func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/", s.HandleWS)

	return r
}

// Channel is the redis pub/sub channel carrying committed party events when
// the service runs with redis (multi-instance fan-out).
const Channel = "party.events"

// RunRedisSubscriber bridges redis into the in-process hub. Blocks until ctx
// is done.
func (s *Server) RunRedisSubscriber(ctx context.Context) {
	sub := s.rdb.Subscribe(ctx, Channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.hub.Broadcast([]byte(msg.Payload))
		}
	}
}

// HandleWS subscribes the caller to one party's change feed: first a full
// snapshot, then incremental events in commit order until unsubscribe or
// party close.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	partyID := r.URL.Query().Get("party")
	if partyID == "" {
		http.Error(w, "missing party parameter", http.StatusBadRequest)
		return
	}

	payload, version, err := s.snapshot(r.Context(), partyID)
	if err != nil {
		http.Error(w, "party not found", http.StatusNotFound)
		return
	}

	snapshotMsg, err := json.Marshal(map[string]any{
		"type":    "snapshot",
		"partyId": partyID,
		"version": version,
		"payload": payload,
	})
	if err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("party-service: ws upgrade: %v", err)
		return
	}

	client := &Client{
		hub:     s.hub,
		conn:    conn,
		partyID: partyID,
		version: version,
		send:    make(chan []byte, sendBufferSize),
	}
	// Queue the snapshot before registering so it is the first frame out and
	// events committed in between are not replayed behind it.
	client.send <- snapshotMsg
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}
