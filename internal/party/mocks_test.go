package party

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
)

// capturePublisher records published events so handler tests can assert on
// the change feed side of a mutation.
type capturePublisher struct {
	mu     sync.Mutex
	events []map[string]any
}

func (p *capturePublisher) Publish(ctx context.Context, event []byte) {
	var decoded map[string]any
	_ = json.Unmarshal(event, &decoded)
	p.mu.Lock()
	p.events = append(p.events, decoded)
	p.mu.Unlock()
}

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		t, _ := ev["type"].(string)
		out = append(out, t)
	}
	return out
}

func (p *capturePublisher) last(t *testing.T) map[string]any {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		t.Fatal("no events published")
	}
	return p.events[len(p.events)-1]
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateParty(ctx context.Context, name, hostName, catalogToken string) (*Party, *Attendee, error) {
	args := m.Called(ctx, name, hostName, catalogToken)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*Party), args.Get(1).(*Attendee), args.Error(2)
}

func (m *MockStore) GetSnapshot(ctx context.Context, partyID string) (*Snapshot, error) {
	args := m.Called(ctx, partyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Snapshot), args.Error(1)
}

func (m *MockStore) JoinParty(ctx context.Context, code, name string) (*Party, *MemberResult, error) {
	args := m.Called(ctx, code, name)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*Party), args.Get(1).(*MemberResult), args.Error(2)
}

func (m *MockStore) CloseParty(ctx context.Context, partyID, requesterID string) (int64, error) {
	args := m.Called(ctx, partyID, requesterID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) ListAttendees(ctx context.Context, partyID string) ([]Attendee, error) {
	args := m.Called(ctx, partyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Attendee), args.Error(1)
}

func (m *MockStore) RemoveAttendee(ctx context.Context, partyID, attendeeID, requesterID string) (*MemberResult, error) {
	args := m.Called(ctx, partyID, attendeeID, requesterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*MemberResult), args.Error(1)
}

func (m *MockStore) RenameAttendee(ctx context.Context, partyID, attendeeID, requesterID, name string) (*MemberResult, error) {
	args := m.Called(ctx, partyID, attendeeID, requesterID, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*MemberResult), args.Error(1)
}

func (m *MockStore) AddTrack(ctx context.Context, partyID, submitterID string, tr Track) (*QueueResult, error) {
	args := m.Called(ctx, partyID, submitterID, tr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*QueueResult), args.Error(1)
}

func (m *MockStore) RemoveTrack(ctx context.Context, partyID, trackID string) (*QueueResult, error) {
	args := m.Called(ctx, partyID, trackID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*QueueResult), args.Error(1)
}

func (m *MockStore) CastVote(ctx context.Context, partyID, trackID, attendeeID, direction string) (*QueueResult, error) {
	args := m.Called(ctx, partyID, trackID, attendeeID, direction)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*QueueResult), args.Error(1)
}

func (m *MockStore) NextTrack(ctx context.Context, partyID, requesterID string) (*PlayerResult, error) {
	args := m.Called(ctx, partyID, requesterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PlayerResult), args.Error(1)
}

func (m *MockStore) CatalogToken(ctx context.Context, partyID string) (string, error) {
	args := m.Called(ctx, partyID)
	return args.String(0), args.Error(1)
}
