package distress

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetwatch/internal/modules/zone"
	"fleetwatch/internal/types"
)

type fixture struct {
	svc      *Service
	store    *memStore
	vehicles *fakeVehicles
	events   *recordingPublisher
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := zone.Load("")
	require.NoError(t, err)

	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	f := &fixture{
		store:    newMemStore(),
		vehicles: newFakeVehicles().at("v1", 36.2777, -115.0205).at("v2", 36.2780, -115.0210),
		events:   &recordingPublisher{},
		clock:    time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(ServiceDeps{
		Store:    f.store,
		Vehicles: f.vehicles,
		Zones:    reg,
		Events:   f.events,
		Location: loc,
	})
	var mu sync.Mutex
	f.svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		f.clock = f.clock.Add(time.Minute)
		return f.clock
	}
	return f
}

func (f *fixture) open(t *testing.T, vehicleID types.ID) *Ticket {
	t.Helper()
	tk, err := f.svc.Open(context.Background(), OpenCommand{
		VehicleID:    vehicleID,
		DispatcherID: "dispatcher",
		Notes: Notes{
			CustomerName:      "Dana Reyes",
			ReservationNumber: "R-1042",
			Phone:             "702-555-0100",
			Text:              "Flat tire on I-15 northbound",
		},
	})
	require.NoError(t, err)
	return tk
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusNone, StatusOpen, true},
		{StatusOpen, StatusClaimed, true},
		{StatusClaimed, StatusClosed, true},
		// skipping and reversing
		{StatusOpen, StatusClosed, false},
		{StatusClaimed, StatusOpen, false},
		{StatusClosed, StatusOpen, false},
		{StatusClosed, StatusClaimed, false},
		{StatusClaimed, StatusClaimed, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestOpen_AssignsZoneAndNumber(t *testing.T) {
	f := newFixture(t)

	tk := f.open(t, "v1")
	assert.Equal(t, StatusOpen, tk.Status)
	assert.Equal(t, "Vegas Shop", tk.Zone)
	assert.Equal(t, 1, tk.Number)
	assert.Equal(t, types.ID("dispatcher"), tk.DispatchedBy)
	assert.NotEmpty(t, tk.ID)

	second := f.open(t, "v2")
	assert.Equal(t, "Vegas Shop", second.Zone)
	assert.Equal(t, 2, second.Number)

	assert.Equal(t, []EventKind{DispatchOpened, DispatchOpened}, f.events.kinds())
}

func TestOpen_NumberingIsPerZoneAndDay(t *testing.T) {
	f := newFixture(t)
	f.vehicles.at("v3", 33.4353, -112.0079)

	assert.Equal(t, 1, f.open(t, "v1").Number)
	assert.Equal(t, 1, f.open(t, "v3").Number)
	assert.Equal(t, 2, f.open(t, "v1").Number)

	// 17:00 UTC is 09:00 in Las Vegas; a day later the sequence restarts.
	f.clock = f.clock.Add(24 * time.Hour)
	assert.Equal(t, 1, f.open(t, "v1").Number)
}

func TestOpen_DayFollowsConfiguredZone(t *testing.T) {
	f := newFixture(t)
	// 06:30 UTC on March 2 is still March 1 in Las Vegas.
	f.clock = time.Date(2026, 3, 2, 6, 29, 0, 0, time.UTC)
	f.open(t, "v1")
	assert.Equal(t, "2026-03-01", f.svc.day(f.clock))

	listed, err := f.svc.ListOpenedFor(context.Background(), "Vegas Shop", "2026-03-01")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestOpen_UsesZoneOverride(t *testing.T) {
	f := newFixture(t)
	f.vehicles.at("v4", 0, 0)
	f.vehicles.samples["v4"].ZoneOverride = "Tow Yard"

	tk := f.open(t, "v4")
	assert.Equal(t, "Tow Yard", tk.Zone)
}

func TestOpen_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.vehicles.known["parked"] = true

	cases := []struct {
		name string
		cmd  OpenCommand
		want error
	}{
		{"missing phone", OpenCommand{VehicleID: "v1", DispatcherID: "d", Notes: Notes{CustomerName: "x", Phone: "  "}}, ErrValidation},
		{"missing dispatcher", OpenCommand{VehicleID: "v1", Notes: Notes{Phone: "1"}}, ErrValidation},
		{"missing vehicle", OpenCommand{DispatcherID: "d", Notes: Notes{Phone: "1"}}, ErrValidation},
		{"no coordinates", OpenCommand{VehicleID: "parked", DispatcherID: "d", Notes: Notes{Phone: "1"}}, ErrValidation},
		{"unknown vehicle", OpenCommand{VehicleID: "ghost", DispatcherID: "d", Notes: Notes{Phone: "1"}}, ErrNotFound},
	}
	for _, tc := range cases {
		_, err := f.svc.Open(ctx, tc.cmd)
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	assert.Empty(t, f.store.tickets)
	assert.Empty(t, f.events.kinds())
}

func TestOpen_StorageErrorPropagates(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("connection reset")
	f.store.failNext = boom

	_, err := f.svc.Open(context.Background(), OpenCommand{VehicleID: "v1", DispatcherID: "d", Notes: Notes{Phone: "1"}})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, f.events.kinds())
}

func TestLifecycle_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := f.open(t, "v1")

	claimed, err := f.svc.Claim(ctx, ClaimCommand{TicketID: tk.ID, ClaimantID: "tech"})
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, claimed.Status)

	closed, err := f.svc.Close(ctx, CloseCommand{TicketID: tk.ID, CloserID: "supervisor", Notes: "Towed to shop"})
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)

	stored, err := f.svc.Get(ctx, tk.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ClaimedAt)
	require.NotNil(t, stored.ClosedAt)
	assert.False(t, stored.ClaimedAt.Before(stored.DispatchedAt))
	assert.False(t, stored.ClosedAt.Before(*stored.ClaimedAt))
	assert.Equal(t, types.ID("dispatcher"), stored.DispatchedBy)
	assert.Equal(t, types.ID("tech"), *stored.ClaimedBy)
	assert.Equal(t, types.ID("supervisor"), *stored.ClosedBy)
	assert.Equal(t, "Towed to shop", *stored.CloseNotes)
	assert.Equal(t, stored, closed)

	assert.Equal(t, []EventKind{DispatchOpened, DispatchClaimed, DispatchClosed}, f.events.kinds())

	history, err := f.svc.History(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, StatusNone, history[0].FromStatus)
	assert.Equal(t, StatusClosed, history[2].ToStatus)
}

func TestClaim_NotOpenIsConflictAndUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := f.open(t, "v1")
	_, err := f.svc.Claim(ctx, ClaimCommand{TicketID: tk.ID, ClaimantID: "first"})
	require.NoError(t, err)

	before, err := f.svc.Get(ctx, tk.ID)
	require.NoError(t, err)

	_, err = f.svc.Claim(ctx, ClaimCommand{TicketID: tk.ID, ClaimantID: "second"})
	assert.ErrorIs(t, err, ErrConflict)

	after, err := f.svc.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.True(t, reflect.DeepEqual(before, after))
	assert.Equal(t, types.ID("first"), *after.ClaimedBy)
}

func TestClose_NotClaimedIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := f.open(t, "v1")
	_, err := f.svc.Close(ctx, CloseCommand{TicketID: tk.ID, CloserID: "x"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.Claim(ctx, ClaimCommand{TicketID: tk.ID, ClaimantID: "tech"})
	require.NoError(t, err)
	_, err = f.svc.Close(ctx, CloseCommand{TicketID: tk.ID, CloserID: "tech"})
	require.NoError(t, err)

	_, err = f.svc.Close(ctx, CloseCommand{TicketID: tk.ID, CloserID: "tech"})
	assert.ErrorIs(t, err, ErrConflict)
	_, err = f.svc.Claim(ctx, ClaimCommand{TicketID: tk.ID, ClaimantID: "tech"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestTransitions_UnknownTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Claim(ctx, ClaimCommand{TicketID: "missing", ClaimantID: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Close(ctx, CloseCommand{TicketID: "missing", CloserID: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Redispatch(ctx, RedispatchCommand{TicketID: "missing", DispatcherID: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.History(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentClaimSameTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.open(t, "v1")

	const attempts = 8
	type result struct {
		claimant types.ID
		err      error
	}
	results := make(chan result, attempts)
	start := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		claimant := types.ID(fmt.Sprintf("tech%d", i))
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			<-start
			_, err := f.svc.Claim(ctx, ClaimCommand{TicketID: tk.ID, ClaimantID: id})
			results <- result{claimant: id, err: err}
		}(claimant)
	}

	close(start)
	wg.Wait()
	close(results)

	var winner types.ID
	success := 0
	for r := range results {
		if r.err == nil {
			success++
			winner = r.claimant
			continue
		}
		if !errors.Is(r.err, ErrConflict) {
			t.Fatalf("unexpected error: %v", r.err)
		}
	}
	require.Equal(t, 1, success)

	stored, err := f.svc.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, stored.Status)
	assert.Equal(t, winner, *stored.ClaimedBy)
}

func TestRedispatch_CarriesNumberAndNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.open(t, "v2")
	tk := f.open(t, "v1")
	require.Equal(t, 2, tk.Number)
	_, err := f.svc.Claim(ctx, ClaimCommand{TicketID: tk.ID, ClaimantID: "tech"})
	require.NoError(t, err)

	re, err := f.svc.Redispatch(ctx, RedispatchCommand{
		TicketID:     tk.ID,
		DispatcherID: "dispatcher2",
		Notes:        Notes{Phone: "702-555-0199", Text: "Customer moved to gas station"},
	})
	require.NoError(t, err)

	assert.NotEqual(t, tk.ID, re.ID)
	assert.Equal(t, StatusOpen, re.Status)
	assert.Equal(t, 2, re.Number)
	assert.Equal(t, tk.VehicleID, re.VehicleID)
	require.NotNil(t, re.RedispatchOf)
	assert.Equal(t, tk.ID, *re.RedispatchOf)
	assert.Equal(t, "Dana Reyes", re.Notes.CustomerName)
	assert.Equal(t, "R-1042", re.Notes.ReservationNumber)
	assert.Equal(t, "702-555-0199", re.Notes.Phone)
	assert.Equal(t, "Flat tire on I-15 northbound"+notesSeparator+"Customer moved to gas station", re.Notes.Text)

	// The original is untouched and the counter did not advance.
	orig, err := f.svc.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, orig.Status)
	assert.Equal(t, 3, f.open(t, "v2").Number)

	assert.Equal(t, []EventKind{DispatchOpened, DispatchOpened, DispatchClaimed, DispatchOpened, DispatchOpened}, f.events.kinds())
}

func TestRedispatch_FromClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := f.open(t, "v1")
	_, err := f.svc.Claim(ctx, ClaimCommand{TicketID: tk.ID, ClaimantID: "tech"})
	require.NoError(t, err)
	_, err = f.svc.Close(ctx, CloseCommand{TicketID: tk.ID, CloserID: "tech"})
	require.NoError(t, err)

	re, err := f.svc.Redispatch(ctx, RedispatchCommand{TicketID: tk.ID, DispatcherID: "d"})
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, re.Status)
	assert.Equal(t, tk.Notes, re.Notes)

	_, err = f.svc.Claim(ctx, ClaimCommand{TicketID: re.ID, ClaimantID: "tech2"})
	require.NoError(t, err)
}

func TestRedispatch_ReresolvesZone(t *testing.T) {
	f := newFixture(t)
	tk := f.open(t, "v1")

	f.vehicles.at("v1", 36.10, -115.20)
	re, err := f.svc.Redispatch(context.Background(), RedispatchCommand{TicketID: tk.ID, DispatcherID: "d"})
	require.NoError(t, err)
	assert.Equal(t, "Las Vegas", re.Zone)
	assert.Equal(t, tk.Number, re.Number)
}

func TestListOpenedFor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "v1")
	f.open(t, "v2")

	listed, err := f.svc.ListOpenedFor(ctx, "Vegas Shop", f.svc.Today())
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, 1, listed[0].Number)

	listed, err = f.svc.ListOpenedFor(ctx, "Vegas Shop", "2020-01-01")
	require.NoError(t, err)
	assert.Empty(t, listed)

	_, err = f.svc.ListOpenedFor(ctx, "Vegas Shop", "yesterday")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.ListOpenedFor(ctx, "", f.svc.Today())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestListActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.open(t, "v1")
	b := f.open(t, "v2")
	_, err := f.svc.Claim(ctx, ClaimCommand{TicketID: a.ID, ClaimantID: "t"})
	require.NoError(t, err)
	_, err = f.svc.Close(ctx, CloseCommand{TicketID: a.ID, CloserID: "t"})
	require.NoError(t, err)

	active, err := f.svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)
}

func TestMergeNotes(t *testing.T) {
	prev := Notes{CustomerName: "A", Phone: "1", Text: "first"}
	assert.Equal(t, prev, mergeNotes(prev, Notes{}))
	assert.Equal(t, Notes{CustomerName: "B", Phone: "1", Text: "first"}, mergeNotes(prev, Notes{CustomerName: "B"}))
	assert.Equal(t, "second", mergeNotes(Notes{}, Notes{Text: "second"}).Text)
}
