// README: Zone registry listing and classification handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fleetwatch/internal/modules/zone"
	"fleetwatch/internal/types"
)

type ZoneHandler struct {
	zones *zone.Registry
}

func NewZoneHandler(zones *zone.Registry) *ZoneHandler {
	return &ZoneHandler{zones: zones}
}

type zoneResponse struct {
	Name        string        `json:"name"`
	Kind        zone.Kind     `json:"kind"`
	Centers     []types.Point `json:"centers,omitempty"`
	RadiusMiles float64       `json:"radius_miles,omitempty"`
	Vertices    []types.Point `json:"vertices,omitempty"`
	Outline     []string      `json:"outline"`
}

// List returns zones in precedence order.
func (h *ZoneHandler) List(c *gin.Context) {
	all := h.zones.Zones()
	out := make([]zoneResponse, 0, len(all))
	for _, z := range all {
		out = append(out, zoneResponse{
			Name:        z.Name,
			Kind:        z.Kind,
			Centers:     z.Centers,
			RadiusMiles: z.RadiusMiles,
			Vertices:    z.Vertices,
			Outline:     z.Outline(),
		})
	}
	writeJSON(c, http.StatusOK, map[string]any{"zones": out})
}

func (h *ZoneHandler) Classify(c *gin.Context) {
	lat, okLat := queryFloat(c, "lat")
	lng, okLng := queryFloat(c, "lon", "lng")
	if !okLat || !okLng {
		writeError(c, http.StatusBadRequest, "lat and lon are required numbers")
		return
	}
	if !(types.Point{Lat: lat, Lng: lng}).Valid() {
		writeError(c, http.StatusBadRequest, "coordinates out of range")
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"zone": h.zones.Classify(lat, lng, c.Query("override")),
	})
}
