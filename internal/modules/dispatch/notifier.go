// README: Asynchronous notifier that routes committed ticket events to dispatch groups.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fleetwatch/internal/logging"
	"fleetwatch/internal/modules/distress"
	"fleetwatch/internal/modules/location"
	"fleetwatch/internal/modules/zone"
	"fleetwatch/internal/types"
)

// Contacts is the directory view the notifier needs; *Directory implements it.
type Contacts interface {
	MembersOfZone(ctx context.Context, zone string) ([]Member, error)
	Contact(ctx context.Context, userID types.ID) (*Contact, error)
}

// Vehicles supplies message details; *location.Service implements it.
type Vehicles interface {
	Vehicle(ctx context.Context, id types.ID) (*location.Vehicle, error)
	Latest(ctx context.Context, vehicleID types.ID) (*location.Sample, error)
	Label(ctx context.Context, snap *location.Sample) string
}

type NotifierOptions struct {
	Workers       int
	QueueSize     int
	Timeout       time.Duration
	MaxAttempts   int
	Backoff       time.Duration
	PublicBaseURL string
	// FallbackZone names the dispatch group paged for tickets whose zone has
	// no members, such as zone.Unknown or an operator-typed override.
	// Defaults to zone.Unknown.
	FallbackZone string
}

const resolveConcurrency = 8

// Notifier implements distress.EventPublisher. Events are queued and handled
// by Run's workers; delivery never blocks or fails the publishing transition.
type Notifier struct {
	contacts Contacts
	gateway  Gateway
	vehicles Vehicles
	opts     NotifierOptions
	logger   *slog.Logger
	queue    chan distress.DispatchEvent
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewNotifier(contacts Contacts, gateway Gateway, vehicles Vehicles, opts NotifierOptions, logger *slog.Logger) *Notifier {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.FallbackZone == "" {
		opts.FallbackZone = zone.Unknown
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	return &Notifier{
		contacts: contacts,
		gateway:  gateway,
		vehicles: vehicles,
		opts:     opts,
		logger:   logger,
		queue:    make(chan distress.DispatchEvent, opts.QueueSize),
		sleep:    sleepCtx,
	}
}

// Publish enqueues e. A full queue drops the event.
func (n *Notifier) Publish(e distress.DispatchEvent) {
	select {
	case n.queue <- e:
	default:
		n.logger.Warn("notification queue full, event dropped",
			slog.String("kind", string(e.Kind)),
			slog.String("ticket_id", string(e.Ticket.ID)),
		)
	}
}

// Run drains the queue until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < n.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case e := <-n.queue:
					n.handle(ctx, e)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

func (n *Notifier) handle(ctx context.Context, e distress.DispatchEvent) {
	var err error
	switch e.Kind {
	case distress.DispatchOpened:
		err = n.notifyOpened(ctx, e.Ticket)
	case distress.DispatchClosed:
		err = n.notifyClosed(ctx, e.Ticket)
	case distress.DispatchClaimed:
		claimant := ""
		if e.Ticket.ClaimedBy != nil {
			claimant = string(*e.Ticket.ClaimedBy)
		}
		logging.LogOperation(n.logger, "distress_claimed",
			slog.String("ticket_id", string(e.Ticket.ID)),
			slog.String("claimed_by", claimant),
		)
	}
	if err != nil {
		logging.LogError(n.logger, "dispatch notification failed", err,
			slog.String("kind", string(e.Kind)),
			slog.String("ticket_id", string(e.Ticket.ID)),
		)
	}
}

func (n *Notifier) notifyOpened(ctx context.Context, t distress.Ticket) error {
	members, err := n.routeMembers(ctx, t)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		n.logger.Warn("no dispatch group for zone",
			slog.String("zone", t.Zone),
			slog.String("fallback_zone", n.opts.FallbackZone),
			slog.String("ticket_id", string(t.ID)))
		return nil
	}

	tokens := n.resolveTokens(ctx, members)
	if len(tokens) == 0 {
		n.logger.Warn("no reachable members for zone", slog.String("zone", t.Zone), slog.String("ticket_id", string(t.ID)))
		return nil
	}
	return n.deliver(ctx, tokens, n.openedMessage(ctx, t))
}

// routeMembers returns the ticket zone's group, or the fallback group when
// the zone has none.
func (n *Notifier) routeMembers(ctx context.Context, t distress.Ticket) ([]Member, error) {
	members, err := n.contacts.MembersOfZone(ctx, t.Zone)
	if err != nil {
		return nil, fmt.Errorf("%w: members of %s: %v", ErrNotification, t.Zone, err)
	}
	if len(members) > 0 || t.Zone == n.opts.FallbackZone {
		return members, nil
	}
	members, err = n.contacts.MembersOfZone(ctx, n.opts.FallbackZone)
	if err != nil {
		return nil, fmt.Errorf("%w: members of %s: %v", ErrNotification, n.opts.FallbackZone, err)
	}
	if len(members) > 0 {
		n.logger.Info("routing ticket to fallback group",
			slog.String("zone", t.Zone),
			slog.String("fallback_zone", n.opts.FallbackZone),
			slog.String("ticket_id", string(t.ID)))
	}
	return members, nil
}

func (n *Notifier) notifyClosed(ctx context.Context, t distress.Ticket) error {
	c, err := n.contacts.Contact(ctx, t.DispatchedBy)
	if errors.Is(err, ErrNoContact) {
		n.logger.Warn("dispatcher has no contact", slog.String("user_id", string(t.DispatchedBy)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: contact %s: %v", ErrNotification, t.DispatchedBy, err)
	}

	body := fmt.Sprintf("Ticket #%d in %s was closed.", t.Number, t.Zone)
	if t.CloseNotes != nil && *t.CloseNotes != "" {
		body += "\n" + *t.CloseNotes
	}
	return n.deliver(ctx, []string{c.DeviceToken}, Message{
		Title: fmt.Sprintf("Distress #%d closed", t.Number),
		Body:  body,
		Data: map[string]string{
			"type":      string(distress.DispatchClosed),
			"ticket_id": string(t.ID),
			"zone":      t.Zone,
			"number":    strconv.Itoa(t.Number),
		},
	})
}

// resolveTokens looks up every member's device token concurrently, keeping
// member order and skipping members without one.
func (n *Notifier) resolveTokens(ctx context.Context, members []Member) []string {
	found := make([]string, len(members))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for i, m := range members {
		g.Go(func() error {
			c, err := n.contacts.Contact(gctx, m.UserID)
			if err != nil {
				n.logger.Warn("skipping member", slog.String("user_id", string(m.UserID)), slog.String("error", err.Error()))
				return nil
			}
			found[i] = c.DeviceToken
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]bool, len(found))
	tokens := make([]string, 0, len(found))
	for _, tok := range found {
		if tok == "" || seen[tok] {
			continue
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}
	return tokens
}

func (n *Notifier) openedMessage(ctx context.Context, t distress.Ticket) Message {
	vehicleName := string(t.VehicleID)
	if v, err := n.vehicles.Vehicle(ctx, t.VehicleID); err == nil && v.Name != "" {
		vehicleName = v.Name
	}

	data := map[string]string{
		"type":      string(distress.DispatchOpened),
		"ticket_id": string(t.ID),
		"zone":      t.Zone,
		"number":    strconv.Itoa(t.Number),
		"claim_url": n.claimURL(t.ID),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Vehicle: %s\n", vehicleName)
	if snap, err := n.vehicles.Latest(ctx, t.VehicleID); err == nil {
		data["map_url"] = MapLink(snap.Position)
		fmt.Fprintf(&b, "Location: %s %s\n", n.vehicles.Label(ctx, snap), data["map_url"])
	}
	customer := t.Notes.CustomerName
	if t.Notes.ReservationNumber != "" {
		customer = strings.TrimSpace(customer + " (" + t.Notes.ReservationNumber + ")")
	}
	if customer != "" {
		fmt.Fprintf(&b, "Customer: %s\n", customer)
	}
	fmt.Fprintf(&b, "Phone: %s\n", t.Notes.Phone)
	if t.Notes.Text != "" {
		fmt.Fprintf(&b, "Notes: %s\n", t.Notes.Text)
	}
	fmt.Fprintf(&b, "Claim: %s", data["claim_url"])

	title := fmt.Sprintf("Distress #%d - %s", t.Number, t.Zone)
	if t.RedispatchOf != nil {
		title += " (redispatch)"
	}
	return Message{Title: title, Body: b.String(), Data: data}
}

// deliver sends with a per-attempt timeout, retrying with linear backoff.
func (n *Notifier) deliver(ctx context.Context, tokens []string, msg Message) error {
	var err error
	for attempt := 1; attempt <= n.opts.MaxAttempts; attempt++ {
		actx, cancel := context.WithTimeout(ctx, n.opts.Timeout)
		err = n.gateway.Send(actx, tokens, msg)
		cancel()
		if err == nil {
			return nil
		}
		n.logger.Warn("notification attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt == n.opts.MaxAttempts {
			break
		}
		if serr := n.sleep(ctx, time.Duration(attempt)*n.opts.Backoff); serr != nil {
			break
		}
	}
	return fmt.Errorf("%w: %v", ErrNotification, err)
}

func (n *Notifier) claimURL(id types.ID) string {
	return n.opts.PublicBaseURL + "/distress/" + url.PathEscape(string(id)) + "/claim"
}

// MapLink is a Google Maps search URL for p.
func MapLink(p types.Point) string {
	q := strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
	return "https://www.google.com/maps/search/?api=1&query=" + q
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
