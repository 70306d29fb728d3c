package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"formation-backend/internal/shared/metrics"
	"formation-backend/internal/shared/telemetry"
)

// Context keys handlers set so request logs carry workflow identifiers.
const (
	DossierIDKey      = "dossierId"
	StepInstanceIDKey = "stepInstanceId"
)

// Logging emits a structured log and a latency observation per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		metrics.ObserveRequest(c.Request.Method, c.FullPath(), status, latency)
		telemetry.Info("request.complete", map[string]any{
			"request_id":       RequestIDFromContext(c),
			"method":           c.Request.Method,
			"path":             c.Request.URL.Path,
			"route":            c.FullPath(),
			"status":           status,
			"duration_ms":      float64(latency.Microseconds()) / 1000.0,
			"user_id":          UserIDFromContext(c),
			"role":             UserRoleFromContext(c),
			"dossier_id":       c.GetString(DossierIDKey),
			"step_instance_id": c.GetString(StepInstanceIDKey),
			"client_ip":        c.ClientIP(),
			"user_agent":       c.Request.UserAgent(),
		})
	}
}
