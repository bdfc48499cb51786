package party

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
)

// Publisher carries committed change-feed events toward subscribers. Publish
// must not block the mutation path; failures are logged, never surfaced.
type Publisher interface {
	Publish(ctx context.Context, event []byte)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
		"kind":  kind,
	})
}

// writeStoreError maps a store error onto the client-facing taxonomy.
// Anything that is not an apiError is an internal failure and stays opaque.
func writeStoreError(w http.ResponseWriter, op string, err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		writeError(w, ae.status, ae.kind, ae.msg)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusServiceUnavailable, KindUnavailable, "operation timed out")
		return
	}
	log.Printf("party-service: %s: %v", op, err)
	writeError(w, http.StatusInternalServerError, KindInternal, "store error")
}

func (s *Server) publishEvent(ctx context.Context, eventType, partyID string, version int64, payload any) {
	if s.pub == nil {
		return
	}
	data, err := json.Marshal(map[string]any{
		"type":    eventType,
		"partyId": partyID,
		"version": version,
		"payload": payload,
	})
	if err != nil {
		log.Printf("party-service: marshal event: %v", err)
		return
	}
	s.pub.Publish(ctx, data)
}
