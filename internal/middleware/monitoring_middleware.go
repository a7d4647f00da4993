package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/saixiaoxi/sipstop/internal/monitors"
)

func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unknown"
}

// MonitoringMiddleware records request count and latency per route.
func MonitoringMiddleware(monitor monitors.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		labels := map[string]string{
			"path":   routePath(c),
			"method": c.Request.Method,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		// The request context is cancelled once the handler returns.
		ctx := context.WithoutCancel(c.Request.Context())
		_ = monitor.Counter(ctx, monitors.MetricHTTPRequests, 1, labels)
		_ = monitor.Histogram(ctx, monitors.MetricHTTPDuration, time.Since(start).Seconds(), labels)
	}
}

// ErrorMonitoring counts errors attached to the context by handlers.
func ErrorMonitoring(monitor monitors.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		ctx := context.WithoutCancel(c.Request.Context())
		for _, e := range c.Errors {
			_ = monitor.Counter(ctx, monitors.MetricHTTPErrors, 1, map[string]string{
				"path":       routePath(c),
				"method":     c.Request.Method,
				"error_type": fmt.Sprintf("%T", e.Err),
			})
		}
	}
}

// MetricsStatus reports whether samples currently reach the primary
// monitor or the fallback.
func MetricsStatus(monitor monitors.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		healthy, _ := monitor.IsHealthy(c.Request.Context())
		if healthy {
			c.JSON(200, gin.H{"status": "UP", "details": gin.H{"monitoring": "UP"}})
			return
		}
		c.JSON(200, gin.H{
			"status": "UP",
			"details": gin.H{
				"monitoring": "DOWN",
				"notes":      "Using fallback strategy for monitoring",
			},
		})
	}
}
