package party

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps all party state in process. It is the default store when
// no database is configured and the one the tests run against.
//
// Locking: mu guards the registry maps; each partyRecord carries its own
// mutex serializing every mutation of that party. The registry lock is never
// held while waiting on a record lock.
type MemoryStore struct {
	mu      sync.RWMutex
	parties map[string]*partyRecord
	codes   map[string]string // normalized join code -> party id
}

type partyRecord struct {
	mu        sync.Mutex
	party     Party
	attendees []Attendee
	queue     []QueueTrack
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		parties: make(map[string]*partyRecord),
		codes:   make(map[string]string),
	}
}

func (s *MemoryStore) CreateParty(ctx context.Context, name, hostName, catalogToken string) (*Party, *Attendee, error) {
	name, err := validatePartyName(name)
	if err != nil {
		return nil, nil, err
	}
	hostName, err = validateAttendeeName(hostName)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	host := Attendee{
		ID:       uuid.NewString(),
		Name:     hostName,
		Admin:    true,
		JoinedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var code string
	for {
		code = newJoinCode()
		if _, taken := s.codes[code]; !taken {
			break
		}
	}

	p := Party{
		ID:           uuid.NewString(),
		Name:         name,
		JoinCode:     code,
		CatalogToken: catalogToken,
		CreatedAt:    now,
	}
	s.parties[p.ID] = &partyRecord{
		party:     p,
		attendees: []Attendee{host},
	}
	s.codes[code] = p.ID

	return &p, &host, nil
}

func (s *MemoryStore) GetSnapshot(ctx context.Context, partyID string) (*Snapshot, error) {
	rec, err := s.record(partyID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.party.Closed {
		return nil, errNotFound("party not found")
	}
	return &Snapshot{
		Party:     rec.party,
		Attendees: copyAttendees(rec.attendees),
		Queue:     copyQueue(rec.queue),
	}, nil
}

func (s *MemoryStore) JoinParty(ctx context.Context, code, name string) (*Party, *MemberResult, error) {
	name, err := validateAttendeeName(name)
	if err != nil {
		return nil, nil, err
	}

	s.mu.RLock()
	partyID, ok := s.codes[normalizeJoinCode(code)]
	var rec *partyRecord
	if ok {
		rec = s.parties[partyID]
	}
	s.mu.RUnlock()
	if rec == nil {
		return nil, nil, errNotFound("party not found")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.party.Closed {
		return nil, nil, errNotFound("party not found")
	}

	att := Attendee{
		ID:       uuid.NewString(),
		Name:     name,
		JoinedAt: time.Now().UTC(),
	}
	rec.attendees = append(rec.attendees, att)
	rec.party.Version++

	p := rec.party
	return &p, &MemberResult{
		Changed:   &att,
		Attendees: copyAttendees(rec.attendees),
		Version:   rec.party.Version,
	}, nil
}

func (s *MemoryStore) CloseParty(ctx context.Context, partyID, requesterID string) (int64, error) {
	rec, err := s.record(partyID)
	if err != nil {
		return 0, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.party.Closed {
		return 0, errNotFound("party not found")
	}
	if !isAdmin(rec.attendees, requesterID) {
		return 0, errPermissionDenied("only the admin can close the party")
	}

	rec.party.Closed = true
	rec.party.Version++

	// Free the join code for reuse; the tombstoned record stays so later
	// operations report not_found instead of resurrecting the party.
	s.mu.Lock()
	delete(s.codes, rec.party.JoinCode)
	s.mu.Unlock()

	return rec.party.Version, nil
}

func (s *MemoryStore) ListAttendees(ctx context.Context, partyID string) ([]Attendee, error) {
	rec, err := s.record(partyID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.party.Closed {
		return nil, errNotFound("party not found")
	}
	return copyAttendees(rec.attendees), nil
}

func (s *MemoryStore) RemoveAttendee(ctx context.Context, partyID, attendeeID, requesterID string) (*MemberResult, error) {
	rec, err := s.record(partyID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.party.Closed {
		return nil, errNotFound("party not found")
	}

	idx := attendeeIndex(rec.attendees, attendeeID)
	if idx < 0 {
		return nil, errNotFound("attendee not found")
	}
	target := rec.attendees[idx]

	if attendeeID == requesterID {
		// Self-leave, except the admin cannot abandon a party that still
		// has other attendees.
		if target.Admin && len(rec.attendees) > 1 {
			return nil, errPermissionDenied("admin cannot leave while attendees remain; close the party instead")
		}
	} else {
		if !isAdmin(rec.attendees, requesterID) {
			return nil, errPermissionDenied("only the admin can remove other attendees")
		}
		if target.Admin {
			return nil, errPermissionDenied("the admin cannot be removed")
		}
	}

	rec.attendees = append(rec.attendees[:idx], rec.attendees[idx+1:]...)
	rec.party.Version++

	return &MemberResult{
		Changed:   &target,
		Attendees: copyAttendees(rec.attendees),
		Version:   rec.party.Version,
	}, nil
}

func (s *MemoryStore) RenameAttendee(ctx context.Context, partyID, attendeeID, requesterID, name string) (*MemberResult, error) {
	name, err := validateAttendeeName(name)
	if err != nil {
		return nil, err
	}
	if attendeeID != requesterID {
		return nil, errPermissionDenied("attendees can only rename themselves")
	}

	rec, err := s.record(partyID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.party.Closed {
		return nil, errNotFound("party not found")
	}

	idx := attendeeIndex(rec.attendees, attendeeID)
	if idx < 0 {
		return nil, errNotFound("attendee not found")
	}
	rec.attendees[idx].Name = name
	rec.party.Version++

	changed := rec.attendees[idx]
	return &MemberResult{
		Changed:   &changed,
		Attendees: copyAttendees(rec.attendees),
		Version:   rec.party.Version,
	}, nil
}

func (s *MemoryStore) AddTrack(ctx context.Context, partyID, submitterID string, tr Track) (*QueueResult, error) {
	if strings.TrimSpace(tr.CatalogID) == "" {
		return nil, errInvalid("catalogId must not be empty")
	}
	if strings.TrimSpace(tr.Title) == "" {
		return nil, errInvalid("title must not be empty")
	}

	rec, err := s.record(partyID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.party.Closed {
		return nil, errNotFound("party not found")
	}
	if attendeeIndex(rec.attendees, submitterID) < 0 {
		return nil, errNotFound("attendee not found")
	}
	for _, qt := range rec.queue {
		if qt.Track.CatalogID == tr.CatalogID {
			return nil, errConflict("track is already in the queue")
		}
	}

	qt := QueueTrack{
		ID:          uuid.NewString(),
		Track:       tr,
		SubmitterID: submitterID,
		AddedAt:     time.Now().UTC(),
	}
	rec.queue = append(rec.queue, qt)
	sortQueue(rec.queue)
	rec.party.Version++

	return &QueueResult{
		Changed: &qt,
		Queue:   copyQueue(rec.queue),
		Version: rec.party.Version,
	}, nil
}

func (s *MemoryStore) RemoveTrack(ctx context.Context, partyID, trackID string) (*QueueResult, error) {
	rec, err := s.record(partyID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.party.Closed {
		return nil, errNotFound("party not found")
	}

	for i, qt := range rec.queue {
		if qt.ID == trackID {
			removed := qt
			rec.queue = append(rec.queue[:i], rec.queue[i+1:]...)
			rec.party.Version++
			return &QueueResult{
				Changed: &removed,
				Queue:   copyQueue(rec.queue),
				Version: rec.party.Version,
			}, nil
		}
	}
	// Already gone, e.g. consumed by playback: a no-op, not an error.
	return nil, nil
}

func (s *MemoryStore) CastVote(ctx context.Context, partyID, trackID, attendeeID, direction string) (*QueueResult, error) {
	if err := validateDirection(direction); err != nil {
		return nil, err
	}

	rec, err := s.record(partyID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.party.Closed {
		return nil, errNotFound("party not found")
	}
	if attendeeIndex(rec.attendees, attendeeID) < 0 {
		return nil, errNotFound("attendee not found")
	}

	idx := -1
	for i := range rec.queue {
		if rec.queue[i].ID == trackID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, errNotFound("track not found")
	}

	qt := &rec.queue[idx]
	if containsID(qt.Upvoters, attendeeID) || containsID(qt.Downvoters, attendeeID) {
		return nil, errConflict("attendee has already voted on this track")
	}
	if direction == VoteUp {
		qt.Upvoters = append(qt.Upvoters, attendeeID)
	} else {
		qt.Downvoters = append(qt.Downvoters, attendeeID)
	}
	qt.Score = len(qt.Upvoters) - len(qt.Downvoters)

	changed := *qt
	sortQueue(rec.queue)
	rec.party.Version++

	return &QueueResult{
		Changed: &changed,
		Queue:   copyQueue(rec.queue),
		Version: rec.party.Version,
	}, nil
}

func (s *MemoryStore) NextTrack(ctx context.Context, partyID, requesterID string) (*PlayerResult, error) {
	rec, err := s.record(partyID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.party.Closed {
		return nil, errNotFound("party not found")
	}
	if !isAdmin(rec.attendees, requesterID) {
		return nil, errPermissionDenied("only the admin can control playback")
	}

	if len(rec.queue) == 0 {
		rec.party.CurrentTrack = nil
		rec.party.Version++
		return &PlayerResult{Queue: []QueueTrack{}, Version: rec.party.Version}, nil
	}

	head := rec.queue[0]
	rec.queue = rec.queue[1:]
	rec.party.CurrentTrack = &head
	rec.party.Version++

	return &PlayerResult{
		Current: &head,
		Queue:   copyQueue(rec.queue),
		Version: rec.party.Version,
	}, nil
}

func (s *MemoryStore) CatalogToken(ctx context.Context, partyID string) (string, error) {
	rec, err := s.record(partyID)
	if err != nil {
		return "", err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.party.Closed {
		return "", errNotFound("party not found")
	}
	return rec.party.CatalogToken, nil
}

func (s *MemoryStore) record(partyID string) (*partyRecord, error) {
	s.mu.RLock()
	rec := s.parties[partyID]
	s.mu.RUnlock()
	if rec == nil {
		return nil, errNotFound("party not found")
	}
	return rec, nil
}

func attendeeIndex(attendees []Attendee, id string) int {
	for i, a := range attendees {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func isAdmin(attendees []Attendee, id string) bool {
	i := attendeeIndex(attendees, id)
	return i >= 0 && attendees[i].Admin
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func copyAttendees(in []Attendee) []Attendee {
	out := make([]Attendee, len(in))
	copy(out, in)
	return out
}

func copyQueue(in []QueueTrack) []QueueTrack {
	out := make([]QueueTrack, len(in))
	for i, qt := range in {
		qt.Upvoters = append([]string(nil), qt.Upvoters...)
		qt.Downvoters = append([]string(nil), qt.Downvoters...)
		qt.Track.ArtistNames = append([]string(nil), qt.Track.ArtistNames...)
		out[i] = qt
	}
	return out
}
