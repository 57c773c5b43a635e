// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"fleetwatch/internal/http/handlers"
	"fleetwatch/internal/http/middleware"
	"fleetwatch/internal/infra"
	"fleetwatch/internal/modules/zone"
)

type RouterDeps struct {
	Zones     *zone.Registry
	Location  handlers.LocationService
	Distress  handlers.DistressService
	Directory handlers.GroupDirectory
	Verifier  infra.TokenVerifier
	Logger    *slog.Logger
	// RatePerSecond is the per-caller request budget; zero disables limiting.
	RatePerSecond float64
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Logger), middleware.Logging(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.Verifier), middleware.RateLimit(deps.RatePerSecond, burstFor(deps.RatePerSecond)))

	zoneHandler := handlers.NewZoneHandler(deps.Zones)
	api.GET("/zones", zoneHandler.List)
	api.GET("/zones/classify", zoneHandler.Classify)

	locationHandler := handlers.NewLocationHandler(deps.Location)
	api.GET("/vehicles/nearby", locationHandler.Nearby)
	api.PUT("/vehicles/:id/location", locationHandler.Update)
	api.GET("/vehicles/:id/location", locationHandler.Latest)
	api.GET("/vehicles/:id/locations", locationHandler.History)

	distressHandler := handlers.NewDistressHandler(deps.Distress)
	api.POST("/distress", distressHandler.Open)
	api.GET("/distress", distressHandler.List)
	api.GET("/distress/:id", distressHandler.Get)
	api.GET("/distress/:id/events", distressHandler.Events)
	api.POST("/distress/:id/claim", distressHandler.Claim)
	api.POST("/distress/:id/close", distressHandler.Close)
	api.POST("/distress/:id/redispatch", distressHandler.Redispatch)

	dispatchHandler := handlers.NewDispatchHandler(deps.Directory, deps.Zones)
	api.GET("/dispatch-groups/:zone", dispatchHandler.Members)
	admin := api.Group("", middleware.RequireRole(middleware.RoleAdmin))
	admin.PUT("/dispatch-groups/:zone/members/:uid", dispatchHandler.AddMember)
	admin.DELETE("/dispatch-groups/:zone/members/:uid", dispatchHandler.RemoveMember)
	api.GET("/staff/:uid/zones", dispatchHandler.Zones)
	api.PUT("/staff/:uid/contact", dispatchHandler.SetContact)

	return r
}

func burstFor(perSecond float64) int {
	if b := int(perSecond * 2); b > 1 {
		return b
	}
	return 1
}
