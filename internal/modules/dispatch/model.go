// README: Dispatch groups, staff contacts, and outbound notification messages.
package dispatch

import (
	"errors"
	"time"

	"fleetwatch/internal/types"
)

var (
	ErrNotification = errors.New("notification delivery failed")
	ErrNoContact    = errors.New("no contact registered")
	ErrValidation   = errors.New("validation failed")
)

// Member is one (zone, user) row of a dispatch group.
type Member struct {
	Zone    string
	UserID  types.ID
	AddedAt time.Time
}

// Contact is the device token a staff member receives pushes on.
type Contact struct {
	UserID      types.ID
	DeviceToken string
	UpdatedAt   time.Time
}

// Message is a gateway-neutral push payload.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}
