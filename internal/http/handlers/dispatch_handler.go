// README: Dispatch group membership and staff contact handlers.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fleetwatch/internal/http/middleware"
	"fleetwatch/internal/modules/dispatch"
	"fleetwatch/internal/modules/zone"
	"fleetwatch/internal/types"
)

// GroupDirectory is implemented by *dispatch.Directory.
type GroupDirectory interface {
	MembersOfZone(ctx context.Context, zone string) ([]dispatch.Member, error)
	ZonesOf(ctx context.Context, userID types.ID) ([]string, error)
	AddMember(ctx context.Context, zone string, userID types.ID) error
	RemoveMember(ctx context.Context, zone string, userID types.ID) (bool, error)
	SetContact(ctx context.Context, userID types.ID, token string) error
}

type DispatchHandler struct {
	directory GroupDirectory
	zones     *zone.Registry
}

func NewDispatchHandler(directory GroupDirectory, zones *zone.Registry) *DispatchHandler {
	return &DispatchHandler{directory: directory, zones: zones}
}

type memberResponse struct {
	UserID  types.ID  `json:"user_id"`
	AddedAt time.Time `json:"added_at"`
}

type contactReq struct {
	DeviceToken string `json:"device_token"`
}

func (h *DispatchHandler) Members(c *gin.Context) {
	zoneName, ok := h.zoneParam(c)
	if !ok {
		return
	}
	members, err := h.directory.MembersOfZone(c.Request.Context(), zoneName)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]memberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, memberResponse{UserID: m.UserID, AddedAt: m.AddedAt})
	}
	writeJSON(c, http.StatusOK, map[string]any{"zone": zoneName, "members": out})
}

func (h *DispatchHandler) AddMember(c *gin.Context) {
	zoneName, ok := h.zoneParam(c)
	if !ok {
		return
	}
	uid := types.ID(c.Param("uid"))
	if err := h.directory.AddMember(c.Request.Context(), zoneName, uid); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"zone": zoneName, "user_id": uid})
}

func (h *DispatchHandler) RemoveMember(c *gin.Context) {
	zoneName, ok := h.zoneParam(c)
	if !ok {
		return
	}
	removed, err := h.directory.RemoveMember(c.Request.Context(), zoneName, types.ID(c.Param("uid")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if !removed {
		writeError(c, http.StatusNotFound, "membership not found")
		return
	}
	c.Status(http.StatusNoContent)
}

// Zones lists the dispatch groups a staff member belongs to.
func (h *DispatchHandler) Zones(c *gin.Context) {
	uid := c.Param("uid")
	if !selfOrAdmin(c, uid) {
		return
	}
	zones, err := h.directory.ZonesOf(c.Request.Context(), types.ID(uid))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if zones == nil {
		zones = []string{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"user_id": uid, "zones": zones})
}

// SetContact registers the caller's push token. Admins may set anyone's.
func (h *DispatchHandler) SetContact(c *gin.Context) {
	uid := c.Param("uid")
	if !selfOrAdmin(c, uid) {
		return
	}
	var req contactReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.directory.SetContact(c.Request.Context(), types.ID(uid), req.DeviceToken); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": "ok"})
}

// zoneParam accepts registry zones and zone.Unknown, the group that pages
// staff for tickets outside every geofence.
func (h *DispatchHandler) zoneParam(c *gin.Context) (string, bool) {
	name := c.Param("zone")
	if name == zone.Unknown {
		return name, true
	}
	if _, ok := h.zones.Lookup(name); !ok {
		writeError(c, http.StatusNotFound, "unknown zone")
		return "", false
	}
	return name, true
}

func selfOrAdmin(c *gin.Context, uid string) bool {
	if middleware.CallerUID(c) == uid || middleware.CallerRole(c) == middleware.RoleAdmin {
		return true
	}
	writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
	return false
}
