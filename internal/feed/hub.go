package feed

import (
	"encoding/json"
	"log"
)

// envelope is the slice of a published event the hub needs for routing and
// ordering; the raw bytes are forwarded to subscribers untouched.
type envelope struct {
	Type    string `json:"type"`
	PartyID string `json:"partyId"`
	Version int64  `json:"version"`
}

const eventPartyClosed = "party.closed"

// Hub fans committed party events out to websocket subscribers. Events for a
// party reach each subscriber in commit order: versions are assigned under
// the store's per-party lock and anything older than what a subscriber has
// already seen is dropped. A subscriber whose send buffer fills up is evicted
// rather than backpressuring the writer; it reconnects and gets a fresh
// snapshot.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	// keyed by party id
	clients map[string]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[string]map[*Client]bool),
	}
}

// Broadcast hands a committed event to the hub. Never blocks for long: the
// channel is buffered and the run loop only does map work.
func (h *Hub) Broadcast(event []byte) {
	h.broadcast <- event
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set := h.clients[client.partyID]
			if set == nil {
				set = make(map[*Client]bool)
				h.clients[client.partyID] = set
			}
			set[client] = true

		case client := <-h.unregister:
			h.drop(client)

		case event := <-h.broadcast:
			var env envelope
			if err := json.Unmarshal(event, &env); err != nil {
				log.Printf("party-service: feed decode event: %v", err)
				continue
			}
			h.dispatch(env, event)
		}
	}
}

func (h *Hub) dispatch(env envelope, event []byte) {
	for client := range h.clients[env.PartyID] {
		// A subscriber's snapshot already covers older commits.
		if env.Version != 0 && env.Version < client.version {
			continue
		}
		client.version = env.Version

		select {
		case client.send <- event:
		default:
			h.drop(client)
		}
	}

	if env.Type == eventPartyClosed {
		for client := range h.clients[env.PartyID] {
			h.drop(client)
		}
		delete(h.clients, env.PartyID)
	}
}

func (h *Hub) drop(client *Client) {
	set := h.clients[client.partyID]
	if set == nil || !set[client] {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.partyID)
	}
	close(client.send)
}
