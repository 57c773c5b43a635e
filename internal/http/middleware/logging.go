// README: Request logging middleware.
package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"fleetwatch/internal/logging"
)

// Logging attaches a request-scoped logger to the request context and emits
// one http_request record per request.
func Logging(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		if logger != nil {
			reqLogger := logger.With(
				slog.String("method", c.Request.Method),
				slog.String("path", c.Request.URL.Path),
			)
			c.Request = c.Request.WithContext(logging.WithLogger(c.Request.Context(), reqLogger))
		}
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		attrs := []slog.Attr{slog.String("client_ip", c.ClientIP())}
		if uid := CallerUID(c); uid != "" {
			attrs = append(attrs, slog.String("caller_uid", uid))
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}
		logging.LogHTTPRequest(logger, c.Request.Method, path, c.Writer.Status(),
			float64(time.Since(start).Microseconds())/1000, attrs...)
	}
}
