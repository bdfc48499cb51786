package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

func staticSnapshot(payload string, version int64) SnapshotFunc {
	return func(ctx context.Context, partyID string) (json.RawMessage, int64, error) {
		return json.RawMessage(payload), version, nil
	}
}

func TestServer_HandleWS(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	s := NewServer(hub, nil, staticSnapshot(`{"party":{"id":"p1"}}`, 3))

	t.Run("Snapshot First", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(s.HandleWS))
		defer server.Close()

		url := "ws" + strings.TrimPrefix(server.URL, "http") + "?party=p1"
		ws, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("Failed to dial: %v", err)
		}
		defer ws.Close()

		_, message, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to read snapshot: %v", err)
		}

		var frame struct {
			Type    string          `json:"type"`
			PartyID string          `json:"partyId"`
			Version int64           `json:"version"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(message, &frame); err != nil {
			t.Fatalf("Failed to decode snapshot frame: %v", err)
		}
		if frame.Type != "snapshot" {
			t.Errorf("Expected first frame type snapshot, got %q", frame.Type)
		}
		if frame.Version != 3 {
			t.Errorf("Expected snapshot version 3, got %d", frame.Version)
		}

		// Events committed after the snapshot follow on the same connection.
		hub.Broadcast([]byte(`{"type":"queue.changed","partyId":"p1","version":4}`))
		_, message, err = ws.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to read event: %v", err)
		}
		if !strings.Contains(string(message), "queue.changed") {
			t.Errorf("Expected queue.changed event, got %s", message)
		}
	})

	t.Run("Missing Party Parameter", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(s.HandleWS))
		defer server.Close()

		url := "ws" + strings.TrimPrefix(server.URL, "http")
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatal("Expected dial to fail without party parameter")
		}
		if resp == nil || resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400 Bad Request, got %v", resp)
		}
	})

	t.Run("Unknown Party", func(t *testing.T) {
		missing := NewServer(hub, nil, func(ctx context.Context, partyID string) (json.RawMessage, int64, error) {
			return nil, 0, errors.New("no such party")
		})
		server := httptest.NewServer(http.HandlerFunc(missing.HandleWS))
		defer server.Close()

		url := "ws" + strings.TrimPrefix(server.URL, "http") + "?party=nope"
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatal("Expected dial to fail for unknown party")
		}
		if resp == nil || resp.StatusCode != http.StatusNotFound {
			t.Errorf("Expected 404 Not Found, got %v", resp)
		}
	})
}

func TestServer_Router(t *testing.T) {
	s := NewServer(NewHub(), nil, staticSnapshot(`{}`, 1))
	r := s.Router()

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	// Plain HTTP request: the route exists and rejects the missing parameter
	// rather than 404ing.
	if w.Result().StatusCode == http.StatusNotFound {
		t.Errorf("Expected / to be registered, got 404")
	}
}

func TestIntegration_RedisPubSub(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	hub := NewHub()
	go hub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewServer(hub, rdb, staticSnapshot(`{"party":{"id":"p1"}}`, 1))
	go s.RunRedisSubscriber(ctx)
	time.Sleep(50 * time.Millisecond)

	server := httptest.NewServer(http.HandlerFunc(s.HandleWS))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?party=p1"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer ws.Close()

	// Drain the snapshot.
	if _, _, err := ws.ReadMessage(); err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}

	published := `{"type":"queue.changed","partyId":"p1","version":2}`
	if err := rdb.Publish(ctx, Channel, published).Err(); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	_, message, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read from websocket: %v", err)
	}
	if string(message) != published {
		t.Errorf("Expected %s, got %s", published, message)
	}
}
