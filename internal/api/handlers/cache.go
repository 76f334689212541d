package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medview/pyraload/pkg/loader"
)

// CacheHandler exposes cache occupancy and invalidation.
type CacheHandler struct {
	svc *loader.Service
}

// NewCacheHandler creates a CacheHandler.
func NewCacheHandler(svc *loader.Service) *CacheHandler {
	return &CacheHandler{svc: svc}
}

// CacheUsageResponse is the response body for GET /api/v1/cache.
type CacheUsageResponse struct {
	SizeBytes   int64 `json:"size_bytes"`
	BudgetBytes int64 `json:"budget_bytes"`
	Entries     int   `json:"entries"`
}

// Usage handles GET /api/v1/cache.
func (h *CacheHandler) Usage(w http.ResponseWriter, r *http.Request) {
	size, budget, entries := h.svc.CacheUsage()
	WriteJSONOK(w, CacheUsageResponse{
		SizeBytes:   size,
		BudgetBytes: budget,
		Entries:     entries,
	})
}

// Clear handles DELETE /api/v1/cache.
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.svc.ClearCache()
	WriteNoContent(w)
}

// ClearImage handles DELETE /api/v1/cache/{imageID}.
// Drops every cached level of one image.
func (h *CacheHandler) ClearImage(w http.ResponseWriter, r *http.Request) {
	h.svc.ClearImage(chi.URLParam(r, "imageID"))
	WriteNoContent(w)
}
