package catalog

// Track is the catalog's metadata for a song: everything the queue needs to
// display an entry.
type Track struct {
	CatalogID   string   `json:"catalogId"`
	Title       string   `json:"title"`
	ArtistNames []string `json:"artistNames"`
	AlbumArtURL string   `json:"albumArtUrl,omitempty"`
}
