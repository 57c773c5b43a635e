// README: Distress ticket aggregate, status definitions, and dispatch events.
package distress

import (
	"time"

	"fleetwatch/internal/types"
)

type Status string

const (
	StatusNone    Status = "none"
	StatusOpen    Status = "open"
	StatusClaimed Status = "claimed"
	StatusClosed  Status = "closed"
)

// Notes is the customer information captured by the dispatcher.
type Notes struct {
	CustomerName      string `json:"customer_name"`
	ReservationNumber string `json:"reservation_number"`
	Phone             string `json:"phone"`
	Text              string `json:"text"`
}

type Ticket struct {
	ID            types.ID
	VehicleID     types.ID
	Zone          string
	Number        int
	Status        Status
	StatusVersion int
	DispatchedBy  types.ID
	DispatchedAt  time.Time
	Notes         Notes
	ClaimedBy     *types.ID
	ClaimedAt     *time.Time
	ClosedBy      *types.ID
	ClosedAt      *time.Time
	CloseNotes    *string
	RedispatchOf  *types.ID
}

// Event is one row of the append-only audit trail.
type Event struct {
	ID         int64
	TicketID   types.ID
	FromStatus Status
	ToStatus   Status
	ActorID    types.ID
	CreatedAt  time.Time
}

// AllowedTransitions represents the ticket state flow as code. Redispatch is
// not a transition: it opens a new ticket and leaves the old one as it is.
var AllowedTransitions = map[Status][]Status{
	StatusNone:    {StatusOpen},
	StatusOpen:    {StatusClaimed},
	StatusClaimed: {StatusClosed},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

type EventKind string

const (
	DispatchOpened  EventKind = "dispatch_opened"
	DispatchClaimed EventKind = "dispatch_claimed"
	DispatchClosed  EventKind = "dispatch_closed"
)

// DispatchEvent is published after a ticket change has been committed.
type DispatchEvent struct {
	Kind   EventKind
	Ticket Ticket
	At     time.Time
}

// EventPublisher receives committed ticket changes. Publish must not block
// and its outcome never affects the transition that produced the event.
type EventPublisher interface {
	Publish(e DispatchEvent)
}
