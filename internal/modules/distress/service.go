// README: Distress service implements the open/claim/close/redispatch workflow.
package distress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"fleetwatch/internal/logging"
	"fleetwatch/internal/modules/location"
	"fleetwatch/internal/modules/zone"
	"fleetwatch/internal/types"
)

var (
	ErrNotFound   = errors.New("ticket not found")
	ErrConflict   = errors.New("ticket state conflict")
	ErrValidation = errors.New("validation failed")
)

const notesSeparator = "\n---\n"

// Repository is the storage the service needs; *Store implements it.
type Repository interface {
	Insert(ctx context.Context, t *Ticket, counterDay string) error
	Get(ctx context.Context, id types.ID) (*Ticket, error)
	UpdateStatus(ctx context.Context, u StatusUpdate) (bool, error)
	ListOpenedFor(ctx context.Context, zone string, from, to time.Time) ([]Ticket, error)
	ListActive(ctx context.Context) ([]Ticket, error)
	Events(ctx context.Context, id types.ID) ([]Event, error)
}

// Vehicles resolves a vehicle and its current location state;
// *location.Service implements it.
type Vehicles interface {
	Vehicle(ctx context.Context, id types.ID) (*location.Vehicle, error)
	Latest(ctx context.Context, vehicleID types.ID) (*location.Sample, error)
}

type StatusUpdate struct {
	ID         types.ID
	From       Status
	To         Status
	Version    int
	Actor      types.ID
	At         time.Time
	CloseNotes string
}

type Service struct {
	store    Repository
	vehicles Vehicles
	zones    *zone.Registry
	events   EventPublisher
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

type ServiceDeps struct {
	Store    Repository
	Vehicles Vehicles
	Zones    *zone.Registry
	Events   EventPublisher
	Location *time.Location
	Logger   *slog.Logger
}

func NewService(deps ServiceDeps) *Service {
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:    deps.Store,
		vehicles: deps.Vehicles,
		zones:    deps.Zones,
		events:   deps.Events,
		loc:      loc,
		logger:   deps.Logger,
		now:      time.Now,
	}
}

type OpenCommand struct {
	VehicleID    types.ID
	DispatcherID types.ID
	Notes        Notes
}

type ClaimCommand struct {
	TicketID   types.ID
	ClaimantID types.ID
}

type CloseCommand struct {
	TicketID types.ID
	CloserID types.ID
	Notes    string
}

type RedispatchCommand struct {
	TicketID     types.ID
	DispatcherID types.ID
	Notes        Notes
}

// Open creates a ticket in the vehicle's current zone. The zone is frozen on
// the ticket and its number is the next in that zone's sequence for the
// current calendar day.
func (s *Service) Open(ctx context.Context, cmd OpenCommand) (*Ticket, error) {
	notes := cmd.Notes.trimmed()
	if cmd.VehicleID == "" {
		return nil, fmt.Errorf("%w: missing vehicle id", ErrValidation)
	}
	if cmd.DispatcherID == "" {
		return nil, fmt.Errorf("%w: missing dispatcher", ErrValidation)
	}
	if notes.Phone == "" {
		return nil, fmt.Errorf("%w: missing customer phone", ErrValidation)
	}

	zoneName, err := s.currentZone(ctx, cmd.VehicleID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	t := &Ticket{
		ID:           newID(),
		VehicleID:    cmd.VehicleID,
		Zone:         zoneName,
		Status:       StatusOpen,
		DispatchedBy: cmd.DispatcherID,
		DispatchedAt: now,
		Notes:        notes,
	}
	if err := s.store.Insert(ctx, t, s.day(now)); err != nil {
		return nil, err
	}
	s.publish(DispatchOpened, t, now)
	return t, nil
}

// Claim moves an open ticket to claimed. Exactly one of several concurrent
// claimants succeeds; the rest get ErrConflict and the ticket is unchanged.
func (s *Service) Claim(ctx context.Context, cmd ClaimCommand) (*Ticket, error) {
	if cmd.ClaimantID == "" {
		return nil, fmt.Errorf("%w: missing claimant", ErrValidation)
	}
	return s.transition(ctx, cmd.TicketID, StatusClaimed, cmd.ClaimantID, "", DispatchClaimed)
}

// Close moves a claimed ticket to closed.
func (s *Service) Close(ctx context.Context, cmd CloseCommand) (*Ticket, error) {
	if cmd.CloserID == "" {
		return nil, fmt.Errorf("%w: missing closer", ErrValidation)
	}
	return s.transition(ctx, cmd.TicketID, StatusClosed, cmd.CloserID, strings.TrimSpace(cmd.Notes), DispatchClosed)
}

// Redispatch opens a new ticket for the same vehicle, whatever the state of
// the previous one. The new ticket keeps the previous ticket number and
// carries its notes forward; the previous ticket is not modified.
func (s *Service) Redispatch(ctx context.Context, cmd RedispatchCommand) (*Ticket, error) {
	if cmd.DispatcherID == "" {
		return nil, fmt.Errorf("%w: missing dispatcher", ErrValidation)
	}
	prev, err := s.store.Get(ctx, cmd.TicketID)
	if err != nil {
		return nil, err
	}
	notes := mergeNotes(prev.Notes, cmd.Notes.trimmed())
	if notes.Phone == "" {
		return nil, fmt.Errorf("%w: missing customer phone", ErrValidation)
	}

	zoneName, err := s.currentZone(ctx, prev.VehicleID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	prevID := prev.ID
	t := &Ticket{
		ID:           newID(),
		VehicleID:    prev.VehicleID,
		Zone:         zoneName,
		Number:       prev.Number,
		Status:       StatusOpen,
		DispatchedBy: cmd.DispatcherID,
		DispatchedAt: now,
		Notes:        notes,
		RedispatchOf: &prevID,
	}
	if err := s.store.Insert(ctx, t, ""); err != nil {
		return nil, err
	}
	s.publish(DispatchOpened, t, now)
	return t, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Ticket, error) {
	return s.store.Get(ctx, id)
}

// ListOpenedFor returns the tickets opened for zone on day (YYYY-MM-DD in the
// service time zone).
func (s *Service) ListOpenedFor(ctx context.Context, zoneName, day string) ([]Ticket, error) {
	if strings.TrimSpace(zoneName) == "" {
		return nil, fmt.Errorf("%w: missing zone", ErrValidation)
	}
	start, err := time.ParseInLocation(time.DateOnly, day, s.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: bad day %q", ErrValidation, day)
	}
	return s.store.ListOpenedFor(ctx, zoneName, start, start.AddDate(0, 0, 1))
}

func (s *Service) ListActive(ctx context.Context) ([]Ticket, error) {
	return s.store.ListActive(ctx)
}

// History returns the audit trail of a ticket.
func (s *Service) History(ctx context.Context, id types.ID) ([]Event, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Events(ctx, id)
}

// Today is the calendar day used for ticket numbering.
func (s *Service) Today() string {
	return s.day(s.now())
}

func (s *Service) transition(ctx context.Context, id types.ID, to Status, actor types.ID, closeNotes string, kind EventKind) (*Ticket, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(t.Status, to) {
		return nil, fmt.Errorf("%w: ticket is %s", ErrConflict, t.Status)
	}

	now := s.now()
	ok, err := s.store.UpdateStatus(ctx, StatusUpdate{
		ID:         t.ID,
		From:       t.Status,
		To:         to,
		Version:    t.StatusVersion,
		Actor:      actor,
		At:         now,
		CloseNotes: closeNotes,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}

	updated := *t
	updated.Status = to
	updated.StatusVersion++
	switch to {
	case StatusClaimed:
		updated.ClaimedBy, updated.ClaimedAt = &actor, &now
	case StatusClosed:
		updated.ClosedBy, updated.ClosedAt, updated.CloseNotes = &actor, &now, &closeNotes
	}
	s.publish(kind, &updated, now)
	return &updated, nil
}

func (s *Service) currentZone(ctx context.Context, vehicleID types.ID) (string, error) {
	if _, err := s.vehicles.Vehicle(ctx, vehicleID); err != nil {
		if errors.Is(err, location.ErrVehicleNotFound) {
			return "", fmt.Errorf("%w: vehicle %s", ErrNotFound, vehicleID)
		}
		return "", err
	}
	snap, err := s.vehicles.Latest(ctx, vehicleID)
	if errors.Is(err, location.ErrNoLocation) {
		return "", fmt.Errorf("%w: vehicle %s has no coordinates", ErrValidation, vehicleID)
	}
	if err != nil {
		return "", err
	}
	return s.zones.Classify(snap.Position.Lat, snap.Position.Lng, snap.ZoneOverride), nil
}

func (s *Service) publish(kind EventKind, t *Ticket, at time.Time) {
	logging.LogOperation(s.logger, string(kind),
		slog.String("ticket_id", string(t.ID)),
		slog.String("zone", t.Zone),
		slog.Int("ticket_number", t.Number),
		slog.String("status", string(t.Status)),
	)
	if s.events == nil {
		return
	}
	s.events.Publish(DispatchEvent{Kind: kind, Ticket: *t, At: at})
}

func (s *Service) day(t time.Time) string {
	return t.In(s.loc).Format(time.DateOnly)
}

func (n Notes) trimmed() Notes {
	return Notes{
		CustomerName:      strings.TrimSpace(n.CustomerName),
		ReservationNumber: strings.TrimSpace(n.ReservationNumber),
		Phone:             strings.TrimSpace(n.Phone),
		Text:              strings.TrimSpace(n.Text),
	}
}

// mergeNotes keeps prior values unless the update supplies a replacement, and
// appends free text instead of overwriting it.
func mergeNotes(prev, next Notes) Notes {
	out := prev
	if next.CustomerName != "" {
		out.CustomerName = next.CustomerName
	}
	if next.ReservationNumber != "" {
		out.ReservationNumber = next.ReservationNumber
	}
	if next.Phone != "" {
		out.Phone = next.Phone
	}
	switch {
	case next.Text == "":
	case prev.Text == "":
		out.Text = next.Text
	default:
		out.Text = prev.Text + notesSeparator + next.Text
	}
	return out
}

func newID() types.ID {
	return types.ID(uuid.NewString())
}
