package party

import (
	"time"
)

// Party is a hosted listening session. Attendees join it by code and feed a
// shared track queue; exactly one attendee (the creator) is admin.
type Party struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	JoinCode     string      `json:"joinCode"`
	CatalogToken string      `json:"-"`
	Closed       bool        `json:"closed"`
	Version      int64       `json:"version"`
	CurrentTrack *QueueTrack `json:"currentTrack,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
}

type Attendee struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Admin    bool      `json:"admin"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Track is the catalog's view of a song. Opaque to this service beyond
// equality by CatalogID.
type Track struct {
	CatalogID   string   `json:"catalogId"`
	Title       string   `json:"title"`
	ArtistNames []string `json:"artistNames"`
	AlbumArtURL string   `json:"albumArtUrl,omitempty"`
}

// QueueTrack wraps a catalog track submitted to a party's queue.
// An attendee id appears in at most one of Upvoters/Downvoters.
type QueueTrack struct {
	ID          string    `json:"id"`
	Track       Track     `json:"track"`
	SubmitterID string    `json:"submitterId"`
	Upvoters    []string  `json:"upvoters"`
	Downvoters  []string  `json:"downvoters"`
	Score       int       `json:"score"`
	AddedAt     time.Time `json:"addedAt"`
}

// Snapshot is the full readable state of a party, sent to clients on
// subscribe and on GET.
type Snapshot struct {
	Party     Party        `json:"party"`
	Attendees []Attendee   `json:"attendees"`
	Queue     []QueueTrack `json:"queue"`
}

const (
	VoteUp   = "up"
	VoteDown = "down"
)

// Change feed event types. Payloads are full replacements (queue.changed
// carries the whole reordered queue) rather than positional diffs.
const (
	EventMemberAdded   = "member.added"
	EventMemberRemoved = "member.removed"
	EventMemberChanged = "member.changed"
	EventQueueChanged  = "queue.changed"
	EventPlayerChanged = "player.changed"
	EventPartyClosed   = "party.closed"
)
