// README: Vehicle location handlers.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fleetwatch/internal/http/middleware"
	"fleetwatch/internal/modules/location"
	"fleetwatch/internal/types"
)

// LocationService is implemented by *location.Service.
type LocationService interface {
	Record(ctx context.Context, cmd location.RecordCommand) (*location.Sample, error)
	Latest(ctx context.Context, vehicleID types.ID) (*location.Sample, error)
	History(ctx context.Context, vehicleID types.ID, since time.Time, limit int) ([]location.Sample, error)
	Label(ctx context.Context, snap *location.Sample) string
	Nearby(ctx context.Context, p types.Point, radiusMiles float64, limit int) ([]location.Sample, error)
}

type LocationHandler struct {
	location LocationService
}

func NewLocationHandler(svc LocationService) *LocationHandler {
	return &LocationHandler{location: svc}
}

type updateLocationReq struct {
	Lat          *float64 `json:"lat"`
	Lng          *float64 `json:"lng"`
	ZoneOverride string   `json:"zone_override"`
}

type sampleResponse struct {
	ID           int64     `json:"id"`
	VehicleID    types.ID  `json:"vehicle_id"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	Zone         string    `json:"zone"`
	Label        string    `json:"label,omitempty"`
	ZoneOverride string    `json:"zone_override,omitempty"`
	CapturedAt   time.Time `json:"captured_at"`
	CapturedBy   types.ID  `json:"captured_by"`
}

func toSampleResponse(s *location.Sample) sampleResponse {
	return sampleResponse{
		ID:           s.ID,
		VehicleID:    s.VehicleID,
		Lat:          s.Position.Lat,
		Lng:          s.Position.Lng,
		Zone:         s.Zone,
		ZoneOverride: s.ZoneOverride,
		CapturedAt:   s.CapturedAt,
		CapturedBy:   s.CapturedBy,
	}
}

// Update records a location sample for the vehicle. Movements under the
// dedup threshold answer 200 with status not_modified.
func (h *LocationHandler) Update(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing vehicle id")
		return
	}
	var req updateLocationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Lat == nil || req.Lng == nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}

	snap, err := h.location.Record(c.Request.Context(), location.RecordCommand{
		VehicleID:    types.ID(id),
		Position:     types.Point{Lat: *req.Lat, Lng: *req.Lng},
		CapturedBy:   types.ID(middleware.CallerUID(c)),
		ZoneOverride: req.ZoneOverride,
	})
	if errors.Is(err, location.ErrNotModified) {
		writeJSON(c, http.StatusOK, map[string]any{"status": "not_modified"})
		return
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toSampleResponse(snap))
}

func (h *LocationHandler) Latest(c *gin.Context) {
	snap, err := h.location.Latest(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	resp := toSampleResponse(snap)
	resp.Label = h.location.Label(c.Request.Context(), snap)
	writeJSON(c, http.StatusOK, resp)
}

// History lists samples newest first. Optional query: since (RFC 3339), limit.
func (h *LocationHandler) History(c *gin.Context) {
	var since time.Time
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(c, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = t
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	samples, err := h.location.History(c.Request.Context(), types.ID(c.Param("id")), since, limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]sampleResponse, 0, len(samples))
	for i := range samples {
		out = append(out, toSampleResponse(&samples[i]))
	}
	writeJSON(c, http.StatusOK, map[string]any{"samples": out})
}

// Nearby lists vehicles whose latest sample lies within ?radius_miles= (default 5) of ?lat=&lon=.
func (h *LocationHandler) Nearby(c *gin.Context) {
	lat, okLat := queryFloat(c, "lat")
	lng, okLng := queryFloat(c, "lon", "lng")
	if !okLat || !okLng {
		writeError(c, http.StatusBadRequest, "lat and lon are required numbers")
		return
	}
	radius := 5.0
	if _, ok := c.GetQuery("radius_miles"); ok {
		r, valid := queryFloat(c, "radius_miles")
		if !valid {
			writeError(c, http.StatusBadRequest, "radius_miles must be a number")
			return
		}
		radius = r
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	samples, err := h.location.Nearby(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, radius, limit)
	if errors.Is(err, location.ErrIndexUnavailable) {
		writeError(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]sampleResponse, 0, len(samples))
	for i := range samples {
		out = append(out, toSampleResponse(&samples[i]))
	}
	writeJSON(c, http.StatusOK, map[string]any{"vehicles": out})
}
