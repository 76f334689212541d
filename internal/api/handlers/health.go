package handlers

import (
	"net/http"
	"time"

	"github.com/medview/pyraload/pkg/loader"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	svc *loader.Service
}

// NewHealthHandler creates a HealthHandler. svc may be nil, in which case
// readiness always fails.
func NewHealthHandler(svc *loader.Service) *HealthHandler {
	return &HealthHandler{svc: svc}
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`

	QueueDepth int `json:"queue_depth,omitempty"`
	InFlight   int `json:"in_flight,omitempty"`
}

// Liveness handles GET /health. It reports healthy whenever the process can
// serve requests at all.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}

// Readiness handles GET /health/ready. It reports ready once the loading
// engine is wired, along with current scheduler occupancy.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		WriteJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:    "unhealthy",
			Timestamp: time.Now().UTC(),
		})
		return
	}

	WriteJSONOK(w, healthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().UTC(),
		QueueDepth: h.svc.QueueDepth(),
		InFlight:   h.svc.InFlight(),
	})
}
