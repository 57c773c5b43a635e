// README: Postgres-backed dispatch group membership and staff contact directory.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleetwatch/internal/types"
)

type Directory struct {
	db *pgxpool.Pool
}

func NewDirectory(db *pgxpool.Pool) *Directory {
	return &Directory{db: db}
}

// MembersOfZone returns the users in the zone's dispatch group, oldest first.
func (d *Directory) MembersOfZone(ctx context.Context, zone string) ([]Member, error) {
	rows, err := d.db.Query(ctx, `
		SELECT zone, user_id, added_at
		FROM dispatch_groups
		WHERE zone = $1
		ORDER BY added_at, user_id`, zone,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		var uid string
		if err := rows.Scan(&m.Zone, &uid, &m.AddedAt); err != nil {
			return nil, err
		}
		m.UserID = types.ID(uid)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ZonesOf lists every zone whose group the user belongs to.
func (d *Directory) ZonesOf(ctx context.Context, userID types.ID) ([]string, error) {
	rows, err := d.db.Query(ctx, `SELECT zone FROM dispatch_groups WHERE user_id = $1 ORDER BY zone`, string(userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var z string
		if err := rows.Scan(&z); err != nil {
			return nil, err
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

// AddMember is idempotent.
func (d *Directory) AddMember(ctx context.Context, zone string, userID types.ID) error {
	if err := validateMember(zone, userID); err != nil {
		return err
	}
	_, err := d.db.Exec(ctx, `
		INSERT INTO dispatch_groups (zone, user_id) VALUES ($1, $2)
		ON CONFLICT (zone, user_id) DO NOTHING`, zone, string(userID),
	)
	return err
}

// RemoveMember reports whether a membership existed.
func (d *Directory) RemoveMember(ctx context.Context, zone string, userID types.ID) (bool, error) {
	if err := validateMember(zone, userID); err != nil {
		return false, err
	}
	tag, err := d.db.Exec(ctx, `DELETE FROM dispatch_groups WHERE zone = $1 AND user_id = $2`, zone, string(userID))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (d *Directory) Contact(ctx context.Context, userID types.ID) (*Contact, error) {
	c := Contact{UserID: userID}
	err := d.db.QueryRow(ctx, `
		SELECT device_token, updated_at FROM staff_contacts WHERE user_id = $1`, string(userID),
	).Scan(&c.DeviceToken, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoContact, userID)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetContact registers or replaces the user's device token.
func (d *Directory) SetContact(ctx context.Context, userID types.ID, token string) error {
	token = strings.TrimSpace(token)
	if userID == "" || token == "" {
		return fmt.Errorf("%w: user id and device token are required", ErrValidation)
	}
	_, err := d.db.Exec(ctx, `
		INSERT INTO staff_contacts (user_id, device_token, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET device_token = EXCLUDED.device_token, updated_at = now()`,
		string(userID), token,
	)
	return err
}

func validateMember(zone string, userID types.ID) error {
	if strings.TrimSpace(zone) == "" || userID == "" {
		return fmt.Errorf("%w: zone and user id are required", ErrValidation)
	}
	return nil
}
