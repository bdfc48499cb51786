package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"party-service/internal/catalog"
	"party-service/internal/feed"
	"party-service/internal/party"
)

func main() {
	port := getenv("PORT", "3004")
	dsn := os.Getenv("DATABASE_URL")
	redisURL := os.Getenv("REDIS_URL")
	catalogURL := os.Getenv("CATALOG_URL")

	ctx := context.Background()

	var store party.Store
	if dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			log.Fatalf("party-service: pg: %v", err)
		}
		defer pool.Close()
		if err := party.AutoMigrate(ctx, pool); err != nil {
			log.Fatalf("party-service: %v", err)
		}
		store = party.NewPostgresStore(pool)
		log.Printf("party-service: using postgres store")
	} else {
		store = party.NewMemoryStore()
		log.Printf("party-service: DATABASE_URL unset, using in-memory store")
	}

	hub := feed.NewHub()
	go hub.Run()

	var rdb *redis.Client
	var pub party.Publisher
	if redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalf("party-service: redis: %v", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
		pub = &redisPublisher{rdb: rdb}
	} else {
		// Single-instance mode: feed the hub directly.
		pub = &hubPublisher{hub: hub}
		log.Printf("party-service: REDIS_URL unset, events fan out in process only")
	}

	var searcher party.CatalogSearcher
	if catalogURL != "" {
		searcher = &catalogAdapter{client: catalog.NewClient(catalogURL)}
	}

	apiServer := party.NewServer(store, pub, searcher)
	feedServer := feed.NewServer(hub, rdb, snapshotFunc(store))

	if rdb != nil {
		go feedServer.RunRedisSubscriber(ctx)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Mount("/ws", feedServer.Router())
	r.Mount("/", apiServer.Router(middleware.Timeout(15*time.Second)))

	log.Printf("party-service on :%s", port)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatalf("party-service: %v", err)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// snapshotFunc adapts the store's full-state read for feed subscriptions.
func snapshotFunc(store party.Store) feed.SnapshotFunc {
	return func(ctx context.Context, partyID string) (json.RawMessage, int64, error) {
		snap, err := store.GetSnapshot(ctx, partyID)
		if err != nil {
			return nil, 0, err
		}
		payload, err := json.Marshal(snap)
		if err != nil {
			return nil, 0, err
		}
		return payload, snap.Party.Version, nil
	}
}

type redisPublisher struct {
	rdb *redis.Client
}

func (p *redisPublisher) Publish(ctx context.Context, event []byte) {
	if err := p.rdb.Publish(ctx, feed.Channel, string(event)).Err(); err != nil {
		log.Printf("party-service: publish event: %v", err)
	}
}

type hubPublisher struct {
	hub *feed.Hub
}

func (p *hubPublisher) Publish(ctx context.Context, event []byte) {
	p.hub.Broadcast(event)
}

type catalogAdapter struct {
	client *catalog.Client
}

func (a *catalogAdapter) Search(ctx context.Context, token, query string, limit int) ([]party.Track, error) {
	items, err := a.client.Search(ctx, token, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]party.Track, 0, len(items))
	for _, it := range items {
		out = append(out, party.Track{
			CatalogID:   it.CatalogID,
			Title:       it.Title,
			ArtistNames: it.ArtistNames,
			AlbumArtURL: it.AlbumArtURL,
		})
	}
	return out, nil
}
