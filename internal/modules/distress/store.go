// README: Distress ticket store backed by PostgreSQL.
package distress

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleetwatch/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const ticketColumns = `
	id, vehicle_id, zone, ticket_number, status, status_version,
	dispatched_by, dispatched_at,
	customer_name, reservation_number, phone, notes,
	claimed_by, claimed_at, closed_by, closed_at, close_notes, redispatch_of`

// Insert writes a new ticket and its opening audit event in one transaction.
// When counterDay is non-empty the ticket number is allocated from the
// per-zone, per-day counter; otherwise t.Number is stored as given.
func (s *Store) Insert(ctx context.Context, t *Ticket, counterDay string) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if counterDay != "" {
			err := tx.QueryRow(ctx, `
				INSERT INTO distress_counters (zone, day, last_number)
				VALUES ($1, $2::date, 1)
				ON CONFLICT (zone, day)
				DO UPDATE SET last_number = distress_counters.last_number + 1
				RETURNING last_number`, t.Zone, counterDay,
			).Scan(&t.Number)
			if err != nil {
				return err
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO distress_tickets (
				id, vehicle_id, zone, ticket_number, status, status_version,
				dispatched_by, dispatched_at,
				customer_name, reservation_number, phone, notes, redispatch_of
			) VALUES (
				$1, $2, $3, $4, $5, $6,
				$7, $8,
				$9, $10, $11, $12, $13
			)`,
			string(t.ID), string(t.VehicleID), t.Zone, t.Number, string(t.Status), t.StatusVersion,
			string(t.DispatchedBy), t.DispatchedAt,
			t.Notes.CustomerName, t.Notes.ReservationNumber, t.Notes.Phone, t.Notes.Text,
			toStringPtr(t.RedispatchOf),
		)
		if err != nil {
			return err
		}
		return appendEvent(ctx, tx, &Event{
			TicketID:   t.ID,
			FromStatus: StatusNone,
			ToStatus:   t.Status,
			ActorID:    t.DispatchedBy,
			CreatedAt:  t.DispatchedAt,
		})
	})
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Ticket, error) {
	row := s.db.QueryRow(ctx, `SELECT `+ticketColumns+` FROM distress_tickets WHERE id = $1`, string(id))
	t, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateStatus is a compare-and-swap on (status, status_version). It reports
// false, and changes nothing, when the ticket is no longer in u.From at
// u.Version.
func (s *Store) UpdateStatus(ctx context.Context, u StatusUpdate) (bool, error) {
	applied := false
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE distress_tickets
			SET status = $1,
				status_version = status_version + 1,
				claimed_by  = CASE WHEN $1 = 'claimed' THEN $2 ELSE claimed_by END,
				claimed_at  = CASE WHEN $1 = 'claimed' THEN $3::timestamptz ELSE claimed_at END,
				closed_by   = CASE WHEN $1 = 'closed' THEN $2 ELSE closed_by END,
				closed_at   = CASE WHEN $1 = 'closed' THEN $3::timestamptz ELSE closed_at END,
				close_notes = CASE WHEN $1 = 'closed' THEN $4 ELSE close_notes END
			WHERE id = $5 AND status = $6 AND status_version = $7`,
			string(u.To),
			string(u.Actor),
			u.At,
			u.CloseNotes,
			string(u.ID),
			string(u.From),
			u.Version,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return nil
		}
		applied = true
		return appendEvent(ctx, tx, &Event{
			TicketID:   u.ID,
			FromStatus: u.From,
			ToStatus:   u.To,
			ActorID:    u.Actor,
			CreatedAt:  u.At,
		})
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// ListOpenedFor returns tickets for zone dispatched in [from, to), in
// ticket-number order.
func (s *Store) ListOpenedFor(ctx context.Context, zone string, from, to time.Time) ([]Ticket, error) {
	return s.list(ctx, `SELECT `+ticketColumns+` FROM distress_tickets
		WHERE zone = $1 AND dispatched_at >= $2 AND dispatched_at < $3
		ORDER BY ticket_number, dispatched_at`, zone, from, to)
}

// ListActive returns every open or claimed ticket, oldest first.
func (s *Store) ListActive(ctx context.Context) ([]Ticket, error) {
	return s.list(ctx, `SELECT `+ticketColumns+` FROM distress_tickets
		WHERE status IN ('open', 'claimed')
		ORDER BY dispatched_at`)
}

func (s *Store) Events(ctx context.Context, id types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, ticket_id, from_status, to_status, actor_id, created_at
		FROM distress_ticket_events
		WHERE ticket_id = $1
		ORDER BY id`, string(id),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TicketID, &e.FromStatus, &e.ToStatus, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Ticket, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func appendEvent(ctx context.Context, tx pgx.Tx, e *Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO distress_ticket_events (
			ticket_id, from_status, to_status, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5)`,
		string(e.TicketID),
		string(e.FromStatus),
		string(e.ToStatus),
		string(e.ActorID),
		e.CreatedAt,
	)
	return err
}

func scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	var claimedBy, closedBy, closeNotes, redispatchOf *string
	err := row.Scan(
		&t.ID, &t.VehicleID, &t.Zone, &t.Number, &t.Status, &t.StatusVersion,
		&t.DispatchedBy, &t.DispatchedAt,
		&t.Notes.CustomerName, &t.Notes.ReservationNumber, &t.Notes.Phone, &t.Notes.Text,
		&claimedBy, &t.ClaimedAt, &closedBy, &t.ClosedAt, &closeNotes, &redispatchOf,
	)
	if err != nil {
		return nil, err
	}
	t.ClaimedBy = toIDPtr(claimedBy)
	t.ClosedBy = toIDPtr(closedBy)
	t.CloseNotes = closeNotes
	t.RedispatchOf = toIDPtr(redispatchOf)
	return &t, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toIDPtr(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}
