package handlers

import (
	"context"
	"net/http"
	"time"

	"contentflow/internal/engine/platforms"
	"contentflow/internal/platform/database"

	"github.com/jonboulle/clockwork"
)

const probeTimeout = 3 * time.Second

type HealthHandler struct {
	globalDB *database.GlobalDB
	registry *platforms.Registry
	clock    clockwork.Clock
}

func NewHealthHandler(globalDB *database.GlobalDB, registry *platforms.Registry, clock clockwork.Clock) *HealthHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &HealthHandler{globalDB: globalDB, registry: registry, clock: clock}
}

// Check reports the global database and every platform adapter. Only the database
// affects the status code; an unreachable platform is retried by the queue.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	status := "healthy"
	if err := h.globalDB.DB.PingContext(ctx); err != nil {
		checks["global_db"] = "unhealthy: " + err.Error()
		status = "degraded"
	} else {
		checks["global_db"] = "healthy"
	}

	for _, id := range h.registry.Platforms() {
		a, _ := h.registry.Lookup(id)
		if a.TestConnection(ctx) {
			checks["platform."+id] = "reachable"
		} else {
			checks["platform."+id] = "unreachable"
		}
	}

	response := struct {
		Status    string            `json:"status"`
		Timestamp int64             `json:"timestamp"`
		Checks    map[string]string `json:"checks"`
	}{
		Status:    status,
		Timestamp: h.clock.Now().Unix(),
		Checks:    checks,
	}

	statusCode := http.StatusOK
	if status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}
