package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrUnavailable means the catalog could not be reached or answered with an
// error. Callers may retry with backoff; party state is never affected.
var ErrUnavailable = errors.New("catalog unavailable")

// Client talks to the external music catalog. The credential is per request:
// each party stores its own token provided by the host.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// searchResponse mirrors the catalog's track search payload.
type searchResponse struct {
	Tracks struct {
		Items []trackItem `json:"items"`
	} `json:"tracks"`
}

type trackItem struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	} `json:"album"`
}

func (c *Client) Search(ctx context.Context, token, query string, limit int) ([]Track, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	val := url.Values{}
	val.Set("q", query)
	val.Set("type", "track")
	val.Set("limit", fmt.Sprint(limit))

	var body searchResponse
	if err := c.get(ctx, token, "/search?"+val.Encode(), &body); err != nil {
		return nil, err
	}

	out := make([]Track, 0, len(body.Tracks.Items))
	for _, it := range body.Tracks.Items {
		out = append(out, toTrack(it))
	}
	return out, nil
}

// Resolve looks a single track up by its catalog id.
func (c *Client) Resolve(ctx context.Context, token, catalogID string) (*Track, error) {
	var it trackItem
	if err := c.get(ctx, token, "/tracks/"+url.PathEscape(catalogID), &it); err != nil {
		return nil, err
	}
	tr := toTrack(it)
	return &tr, nil
}

func (c *Client) get(ctx context.Context, token, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: catalog status %d", ErrUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	return nil
}

func toTrack(it trackItem) Track {
	tr := Track{
		CatalogID: it.ID,
		Title:     it.Name,
	}
	for _, a := range it.Artists {
		tr.ArtistNames = append(tr.ArtistNames, a.Name)
	}
	if len(it.Album.Images) > 0 {
		tr.AlbumArtURL = it.Album.Images[0].URL
	}
	return tr
}
