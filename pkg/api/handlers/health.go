package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/insurecove/document-service/pkg/metastore"
)

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Can the service reach its metadata store?
type HealthHandler struct {
	store *metastore.GORMStore
}

// NewHealthHandler creates a new health handler. The store may be nil, in
// which case the readiness probe reports unavailable.
func NewHealthHandler(store *metastore.GORMStore) *HealthHandler {
	return &HealthHandler{store: store}
}

// healthResponse is the body of both health probes.
type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Liveness handles GET /health. It succeeds whenever the HTTP server is
// responsive, which is what a Kubernetes liveness probe needs.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Checks:    map[string]string{"service": "docsvc"},
	})
}

// Readiness handles GET /health/ready. It pings the metadata store and
// returns 503 when the database is unreachable.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		WriteJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:    "unhealthy",
			Timestamp: time.Now().UTC(),
			Error:     "metadata store not initialized",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	start := time.Now()
	sqlDB, err := h.store.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	latency := time.Since(start)

	if err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:    "unhealthy",
			Timestamp: time.Now().UTC(),
			Error:     err.Error(),
		})
		return
	}

	WriteJSONOK(w, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Checks: map[string]string{
			"database":         "healthy",
			"database_latency": latency.String(),
		},
	})
}
