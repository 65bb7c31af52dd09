package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// staleBacklogThreshold is the number of hour-old pending payments above
// which the reconciliation component reports unhealthy.
const staleBacklogThreshold = 100

type HealthResponse struct {
	Status     HealthStatus          `json:"status"`
	CheckedAt  time.Time             `json:"checked_at"`
	Components map[string]CheckEntry `json:"components"`
}

type CheckEntry struct {
	Status     HealthStatus   `json:"status"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CheckedAt  time.Time      `json:"checked_at"`
	DurationMs int64          `json:"duration_ms"`
}

type HealthHandler struct {
	db *sqlx.DB
}

func NewHealthHandler(db *sqlx.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// HandleLiveness → just says service is up
func (h *HealthHandler) pingHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "OK"}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandleReadiness → checks the DB connection and the reconciliation backlog.
// Only the DB gates readiness; a stale backlog is surfaced for operators but
// restarting instances would not shrink it.
func (h *HealthHandler) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := map[string]CheckEntry{}

	dbEntry := h.checkDatabase(ctx)
	components["postgres"] = dbEntry

	if dbEntry.Status == HealthHealthy {
		components["reconciliation"] = h.checkBacklog(ctx)
	}

	resp := HealthResponse{
		Status:     dbEntry.Status,
		CheckedAt:  time.Now(),
		Components: components,
	}

	statusCode := http.StatusOK
	if dbEntry.Status == HealthUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func (h *HealthHandler) checkDatabase(ctx context.Context) CheckEntry {
	start := time.Now()
	err := h.db.PingContext(ctx)

	entry := CheckEntry{
		Status:     HealthHealthy,
		CheckedAt:  time.Now(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		entry.Status = HealthUnhealthy
		entry.Message = err.Error()
	}
	return entry
}

// checkBacklog counts pending payments old enough that every reconciler pass
// should already have settled them.
func (h *HealthHandler) checkBacklog(ctx context.Context) CheckEntry {
	start := time.Now()

	var stale int
	err := h.db.GetContext(ctx, &stale,
		`SELECT COUNT(*) FROM payments WHERE status = 'pending' AND created_at < $1`,
		time.Now().UTC().Add(-time.Hour))

	entry := CheckEntry{
		Status:     HealthHealthy,
		CheckedAt:  time.Now(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		entry.Status = HealthUnhealthy
		entry.Message = err.Error()
		return entry
	}

	entry.Details = map[string]any{"stale_pending": stale}
	if stale > staleBacklogThreshold {
		entry.Status = HealthUnhealthy
		entry.Message = "stale pending payments exceed threshold"
	}
	return entry
}
