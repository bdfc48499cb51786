package party

import (
	"context"
	"sort"
	"strings"
)

// QueueResult is returned by mutations that touch the queue. Queue is the
// full reordered list after the commit; Version is the party's commit
// sequence, assigned while the party is still locked.
type QueueResult struct {
	Changed *QueueTrack
	Queue   []QueueTrack
	Version int64
}

// MemberResult mirrors QueueResult for membership mutations.
type MemberResult struct {
	Changed   *Attendee
	Attendees []Attendee
	Version   int64
}

// PlayerResult is returned by NextTrack. Current is nil when the queue ran
// out and playback stopped.
type PlayerResult struct {
	Current *QueueTrack
	Queue   []QueueTrack
	Version int64
}

// Store owns all party state. Every mutation on a single party is serialized
// (per-party lock or row lock); different parties mutate in parallel.
// Mutations are all-or-nothing: on error the party is unchanged.
type Store interface {
	CreateParty(ctx context.Context, name, hostName, catalogToken string) (*Party, *Attendee, error)
	GetSnapshot(ctx context.Context, partyID string) (*Snapshot, error)
	JoinParty(ctx context.Context, code, name string) (*Party, *MemberResult, error)
	CloseParty(ctx context.Context, partyID, requesterID string) (int64, error)

	ListAttendees(ctx context.Context, partyID string) ([]Attendee, error)
	RemoveAttendee(ctx context.Context, partyID, attendeeID, requesterID string) (*MemberResult, error)
	RenameAttendee(ctx context.Context, partyID, attendeeID, requesterID, name string) (*MemberResult, error)

	AddTrack(ctx context.Context, partyID, submitterID string, tr Track) (*QueueResult, error)
	// RemoveTrack is idempotent: removing an absent track returns a nil
	// result and no error.
	RemoveTrack(ctx context.Context, partyID, trackID string) (*QueueResult, error)
	CastVote(ctx context.Context, partyID, trackID, attendeeID, direction string) (*QueueResult, error)
	NextTrack(ctx context.Context, partyID, requesterID string) (*PlayerResult, error)

	CatalogToken(ctx context.Context, partyID string) (string, error)
}

// sortQueue applies the ordering policy: score desc, then insertion time asc.
// The sort is stable so equally-scored tracks keep their relative order no
// matter how many votes arrive.
func sortQueue(queue []QueueTrack) {
	sort.SliceStable(queue, func(i, j int) bool {
		if queue[i].Score != queue[j].Score {
			return queue[i].Score > queue[j].Score
		}
		return queue[i].AddedAt.Before(queue[j].AddedAt)
	})
}

func validatePartyName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errInvalid("party name must not be empty")
	}
	if len(name) > 120 {
		return "", errInvalid("party name is too long")
	}
	return name, nil
}

func validateAttendeeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errInvalid("display name must not be empty")
	}
	if len(name) > 80 {
		return "", errInvalid("display name is too long")
	}
	return name, nil
}

func validateDirection(direction string) error {
	if direction != VoteUp && direction != VoteDown {
		return errInvalid(`direction must be "up" or "down"`)
	}
	return nil
}
