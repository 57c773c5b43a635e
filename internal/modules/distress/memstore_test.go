package distress

import (
	"context"
	"sort"
	"sync"
	"time"

	"fleetwatch/internal/modules/location"
	"fleetwatch/internal/types"
)

// memStore is an in-memory Repository with the same compare-and-swap
// semantics as the Postgres store.
type memStore struct {
	mu       sync.Mutex
	tickets  map[types.ID]Ticket
	events   []Event
	counters map[string]int
	failNext error
}

func newMemStore() *memStore {
	return &memStore{tickets: map[types.ID]Ticket{}, counters: map[string]int{}}
}

func (m *memStore) Insert(_ context.Context, t *Ticket, counterDay string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	if counterDay != "" {
		key := t.Zone + "|" + counterDay
		m.counters[key]++
		t.Number = m.counters[key]
	}
	m.tickets[t.ID] = *t
	m.events = append(m.events, Event{
		ID: int64(len(m.events) + 1), TicketID: t.ID, FromStatus: StatusNone, ToStatus: t.Status,
		ActorID: t.DispatchedBy, CreatedAt: t.DispatchedAt,
	})
	return nil
}

func (m *memStore) Get(_ context.Context, id types.ID) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *memStore) UpdateStatus(_ context.Context, u StatusUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return false, err
	}
	t, ok := m.tickets[u.ID]
	if !ok || t.Status != u.From || t.StatusVersion != u.Version {
		return false, nil
	}
	actor, at := u.Actor, u.At
	t.Status = u.To
	t.StatusVersion++
	switch u.To {
	case StatusClaimed:
		t.ClaimedBy, t.ClaimedAt = &actor, &at
	case StatusClosed:
		notes := u.CloseNotes
		t.ClosedBy, t.ClosedAt, t.CloseNotes = &actor, &at, &notes
	}
	m.tickets[u.ID] = t
	m.events = append(m.events, Event{
		ID: int64(len(m.events) + 1), TicketID: u.ID, FromStatus: u.From, ToStatus: u.To,
		ActorID: u.Actor, CreatedAt: u.At,
	})
	return true, nil
}

func (m *memStore) ListOpenedFor(_ context.Context, zone string, from, to time.Time) ([]Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Ticket
	for _, t := range m.tickets {
		if t.Zone == zone && !t.DispatchedAt.Before(from) && t.DispatchedAt.Before(to) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *memStore) ListActive(_ context.Context) ([]Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Ticket
	for _, t := range m.tickets {
		if t.Status == StatusOpen || t.Status == StatusClaimed {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DispatchedAt.Before(out[j].DispatchedAt) })
	return out, nil
}

func (m *memStore) Events(_ context.Context, id types.ID) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.TicketID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeVehicles struct {
	mu      sync.Mutex
	samples map[types.ID]*location.Sample
	known   map[types.ID]bool
}

func newFakeVehicles() *fakeVehicles {
	return &fakeVehicles{samples: map[types.ID]*location.Sample{}, known: map[types.ID]bool{}}
}

func (f *fakeVehicles) at(id types.ID, lat, lng float64) *fakeVehicles {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.known[id] = true
	f.samples[id] = &location.Sample{VehicleID: id, Position: types.Point{Lat: lat, Lng: lng}}
	return f
}

func (f *fakeVehicles) Vehicle(_ context.Context, id types.ID) (*location.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[id] {
		return nil, location.ErrVehicleNotFound
	}
	return &location.Vehicle{ID: id, Name: "Unit " + string(id)}, nil
}

func (f *fakeVehicles) Latest(_ context.Context, id types.ID) (*location.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.samples[id]
	if !ok {
		return nil, location.ErrNoLocation
	}
	cp := *s
	return &cp, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []DispatchEvent
}

func (p *recordingPublisher) Publish(e DispatchEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) kinds() []EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventKind, len(p.events))
	for i, e := range p.events {
		out[i] = e.Kind
	}
	return out
}
