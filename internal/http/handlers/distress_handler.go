// README: Distress ticket handlers for open, claim, close, and redispatch.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fleetwatch/internal/http/middleware"
	"fleetwatch/internal/modules/distress"
	"fleetwatch/internal/types"
)

// DistressService is implemented by *distress.Service.
type DistressService interface {
	Open(ctx context.Context, cmd distress.OpenCommand) (*distress.Ticket, error)
	Claim(ctx context.Context, cmd distress.ClaimCommand) (*distress.Ticket, error)
	Close(ctx context.Context, cmd distress.CloseCommand) (*distress.Ticket, error)
	Redispatch(ctx context.Context, cmd distress.RedispatchCommand) (*distress.Ticket, error)
	Get(ctx context.Context, id types.ID) (*distress.Ticket, error)
	ListOpenedFor(ctx context.Context, zone, day string) ([]distress.Ticket, error)
	ListActive(ctx context.Context) ([]distress.Ticket, error)
	History(ctx context.Context, id types.ID) ([]distress.Event, error)
	Today() string
}

type DistressHandler struct {
	distress DistressService
}

func NewDistressHandler(svc DistressService) *DistressHandler {
	return &DistressHandler{distress: svc}
}

type notesReq struct {
	CustomerName      string `json:"customer_name"`
	ReservationNumber string `json:"reservation_number"`
	Phone             string `json:"phone"`
	Notes             string `json:"notes"`
}

func (r notesReq) toNotes() distress.Notes {
	return distress.Notes{
		CustomerName:      r.CustomerName,
		ReservationNumber: r.ReservationNumber,
		Phone:             r.Phone,
		Text:              r.Notes,
	}
}

type openReq struct {
	VehicleID string `json:"vehicle_id"`
	notesReq
}

type closeReq struct {
	Notes string `json:"notes"`
}

type ticketResponse struct {
	ID            types.ID        `json:"id"`
	VehicleID     types.ID        `json:"vehicle_id"`
	Zone          string          `json:"zone"`
	Number        int             `json:"number"`
	Status        distress.Status `json:"status"`
	StatusVersion int             `json:"status_version"`
	DispatchedBy  types.ID        `json:"dispatched_by"`
	DispatchedAt  time.Time       `json:"dispatched_at"`
	Notes         distress.Notes  `json:"notes"`
	ClaimedBy     *types.ID       `json:"claimed_by,omitempty"`
	ClaimedAt     *time.Time      `json:"claimed_at,omitempty"`
	ClosedBy      *types.ID       `json:"closed_by,omitempty"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
	CloseNotes    *string         `json:"close_notes,omitempty"`
	RedispatchOf  *types.ID       `json:"redispatch_of,omitempty"`
}

func toTicketResponse(t *distress.Ticket) ticketResponse {
	return ticketResponse{
		ID:            t.ID,
		VehicleID:     t.VehicleID,
		Zone:          t.Zone,
		Number:        t.Number,
		Status:        t.Status,
		StatusVersion: t.StatusVersion,
		DispatchedBy:  t.DispatchedBy,
		DispatchedAt:  t.DispatchedAt,
		Notes:         t.Notes,
		ClaimedBy:     t.ClaimedBy,
		ClaimedAt:     t.ClaimedAt,
		ClosedBy:      t.ClosedBy,
		ClosedAt:      t.ClosedAt,
		CloseNotes:    t.CloseNotes,
		RedispatchOf:  t.RedispatchOf,
	}
}

func toTicketList(ts []distress.Ticket) []ticketResponse {
	out := make([]ticketResponse, 0, len(ts))
	for i := range ts {
		out = append(out, toTicketResponse(&ts[i]))
	}
	return out
}

type eventResponse struct {
	FromStatus distress.Status `json:"from_status"`
	ToStatus   distress.Status `json:"to_status"`
	ActorID    types.ID        `json:"actor_id"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Open creates a ticket dispatched by the caller.
func (h *DistressHandler) Open(c *gin.Context) {
	var req openReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	t, err := h.distress.Open(c.Request.Context(), distress.OpenCommand{
		VehicleID:    types.ID(req.VehicleID),
		DispatcherID: types.ID(middleware.CallerUID(c)),
		Notes:        req.toNotes(),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toTicketResponse(t))
}

// List returns the tickets opened for ?zone= on ?day= (default today), or
// every active ticket when no zone is given.
func (h *DistressHandler) List(c *gin.Context) {
	zoneName := c.Query("zone")
	if zoneName == "" {
		ts, err := h.distress.ListActive(c.Request.Context())
		if err != nil {
			writeServiceError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, map[string]any{"tickets": toTicketList(ts)})
		return
	}

	day := c.DefaultQuery("day", h.distress.Today())
	ts, err := h.distress.ListOpenedFor(c.Request.Context(), zoneName, day)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"zone": zoneName, "day": day, "tickets": toTicketList(ts)})
}

func (h *DistressHandler) Get(c *gin.Context) {
	t, err := h.distress.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toTicketResponse(t))
}

func (h *DistressHandler) Events(c *gin.Context) {
	events, err := h.distress.History(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{FromStatus: e.FromStatus, ToStatus: e.ToStatus, ActorID: e.ActorID, CreatedAt: e.CreatedAt})
	}
	writeJSON(c, http.StatusOK, map[string]any{"events": out})
}

// Claim assigns the ticket to the caller.
func (h *DistressHandler) Claim(c *gin.Context) {
	id := types.ID(c.Param("id"))
	t, err := h.distress.Claim(c.Request.Context(), distress.ClaimCommand{
		TicketID:   id,
		ClaimantID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		h.writeTransitionError(c, id, err)
		return
	}
	writeJSON(c, http.StatusOK, toTicketResponse(t))
}

func (h *DistressHandler) Close(c *gin.Context) {
	id := types.ID(c.Param("id"))
	var req closeReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	t, err := h.distress.Close(c.Request.Context(), distress.CloseCommand{
		TicketID: id,
		CloserID: types.ID(middleware.CallerUID(c)),
		Notes:    req.Notes,
	})
	if err != nil {
		h.writeTransitionError(c, id, err)
		return
	}
	writeJSON(c, http.StatusOK, toTicketResponse(t))
}

// Redispatch opens a follow-up ticket carrying the previous number and notes.
func (h *DistressHandler) Redispatch(c *gin.Context) {
	var req notesReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	t, err := h.distress.Redispatch(c.Request.Context(), distress.RedispatchCommand{
		TicketID:     types.ID(c.Param("id")),
		DispatcherID: types.ID(middleware.CallerUID(c)),
		Notes:        req.toNotes(),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toTicketResponse(t))
}

// writeTransitionError reports the ticket's current status with a conflict.
func (h *DistressHandler) writeTransitionError(c *gin.Context, id types.ID, err error) {
	if !errors.Is(err, distress.ErrConflict) {
		writeServiceError(c, err)
		return
	}
	resp := conflictResponse{Error: err.Error()}
	if cur, gerr := h.distress.Get(c.Request.Context(), id); gerr == nil {
		resp.Status = cur.Status
	}
	writeJSON(c, http.StatusConflict, resp)
}
