package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/luthierworks/luthier/internal/logging"
)

// Middleware records HTTP metrics for each request. Requests that matched no
// route share the "unmatched" endpoint label.
func Middleware(m *Metrics, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.IncHTTPRequestsInFlight()
		defer m.DecHTTPRequestsInFlight()

		c.Next()

		status := c.Writer.Status()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		code := strconv.Itoa(status)

		m.RecordRequestLatency(endpoint, c.Request.Method, code, time.Since(start).Seconds())
		m.RecordHTTPRequest(endpoint, c.Request.Method, code)

		if status >= 500 {
			m.RecordError("http_"+code, endpoint, c.Request.Method)
		}
		if len(c.Errors) > 0 {
			logger.ErrorWithContext(c.Request.Context(), "request error", "endpoint", endpoint, "error", c.Errors.String())
		}
	}
}
