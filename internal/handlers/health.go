package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/coopzone/internal/middleware"
	"github.com/stwalsh4118/coopzone/internal/models"
)

const (
	// APIVersion is the current version of the API
	APIVersion = "0.1.0"
	// HealthCheckTimeout is the timeout for database health checks
	HealthCheckTimeout = 2 * time.Second
)

// Pinger is the part of the database the readiness check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunStatus reports the state of the published exclusion results.
type RunStatus interface {
	Current() (*models.ExclusionSet, error)
	Running() bool
	LastError() error
}

// HealthHandler handles health check and readiness endpoints.
type HealthHandler struct {
	db        Pinger
	runs      RunStatus
	startTime time.Time
	env       string
}

// NewHealthHandler creates a new HealthHandler instance. db may be nil when
// no part of the service uses PostgreSQL.
func NewHealthHandler(db Pinger, runs RunStatus, env string) *HealthHandler {
	return &HealthHandler{
		db:        db,
		runs:      runs,
		startTime: time.Now(),
		env:       env,
	}
}

// HealthResponse represents the basic health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Results  string `json:"results"`
}

// InfoResponse represents the API information response.
type InfoResponse struct {
	RunAt        *time.Time `json:"run_at,omitempty"`
	Version      string     `json:"version"`
	Environment  string     `json:"environment"`
	Uptime       string     `json:"uptime"`
	RunID        string     `json:"run_id,omitempty"`
	LastRunError string     `json:"last_run_error,omitempty"`
	Radius       float64    `json:"radius,omitempty"`
	Parcels      int        `json:"parcels"`
	Running      bool       `json:"running"`
}

// Health handles GET /health endpoint.
// This is a basic health check that always returns 200 OK.
// It does not check any dependencies and is used for basic liveness checks.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "healthy",
	})
}

// Ready handles GET /health/ready endpoint.
// The service is ready once results are published and, when a database is
// configured, it answers a ping.
func (h *HealthHandler) Ready(c *gin.Context) {
	response := ReadyResponse{
		Status:   "ready",
		Database: "not_configured",
		Results:  "published",
	}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), HealthCheckTimeout)
		defer cancel()

		if err := h.db.Ping(ctx); err != nil {
			if log := middleware.GetLogger(c); log != nil {
				log.Error("Database health check failed", err, map[string]interface{}{
					"timeout": HealthCheckTimeout.String(),
				})
			}
			response.Database = "disconnected"
			status = http.StatusServiceUnavailable
		} else {
			response.Database = "connected"
		}
	}

	if _, err := h.runs.Current(); err != nil {
		response.Results = "pending"
		status = http.StatusServiceUnavailable
	}

	if status != http.StatusOK {
		response.Status = "not_ready"
	}
	c.JSON(status, response)
}

// Info handles GET /api/v1/info endpoint.
// Returns API metadata and the state of the current exclusion run.
func (h *HealthHandler) Info(c *gin.Context) {
	response := InfoResponse{
		Version:     APIVersion,
		Environment: h.env,
		Uptime:      formatUptime(time.Since(h.startTime)),
		Running:     h.runs.Running(),
	}
	if set, err := h.runs.Current(); err == nil {
		response.RunID = set.RunID.String()
		runAt := set.CreatedAt
		response.RunAt = &runAt
		response.Radius = set.Radius
		response.Parcels = len(set.Results)
	}
	if err := h.runs.LastError(); err != nil {
		response.LastRunError = err.Error()
	}

	c.JSON(http.StatusOK, response)
}

// formatUptime formats a duration into a human-readable string.
func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}
