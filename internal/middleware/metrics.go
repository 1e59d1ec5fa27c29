package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/riseschools/results-api/internal/service"
)

// Metrics records method, route, status and latency for every API request.
// The scrape endpoint itself is left out so it does not pad the histograms.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, status, time.Since(start))
	}
}
