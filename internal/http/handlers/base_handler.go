// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"fleetwatch/internal/logging"
	"fleetwatch/internal/modules/dispatch"
	"fleetwatch/internal/modules/distress"
	"fleetwatch/internal/modules/location"
)

type errorResponse struct {
	Error string `json:"error"`
}

type conflictResponse struct {
	Error  string          `json:"error"`
	Status distress.Status `json:"status,omitempty"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeServiceError maps module sentinel errors to status codes. Unmapped
// errors are recorded on the context for the logging middleware and hidden
// from the client.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, location.ErrInvalidCoordinates),
		errors.Is(err, distress.ErrValidation),
		errors.Is(err, dispatch.ErrValidation):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, location.ErrVehicleNotFound),
		errors.Is(err, location.ErrNoLocation),
		errors.Is(err, distress.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, distress.ErrConflict):
		writeJSON(c, http.StatusConflict, conflictResponse{Error: err.Error()})
	default:
		_ = c.Error(err)
		logging.LogError(logging.FromContext(c.Request.Context()), "request failed", err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func queryFloat(c *gin.Context, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := c.GetQuery(k); ok {
			f, err := strconv.ParseFloat(v, 64)
			return f, err == nil
		}
	}
	return 0, false
}
