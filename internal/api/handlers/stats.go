package handlers

import (
	"net/http"

	"github.com/medview/pyraload/pkg/loader"
)

// StatsHandler exposes the loading counters.
type StatsHandler struct {
	svc *loader.Service
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(svc *loader.Service) *StatsHandler {
	return &StatsHandler{svc: svc}
}

// StatsResponse is the response body for GET /api/v1/stats.
type StatsResponse struct {
	RequestsIssued    int64         `json:"requests_issued"`
	RequestsCompleted int64         `json:"requests_completed"`
	RequestsFailed    int64         `json:"requests_failed"`
	RequestsCancelled int64         `json:"requests_cancelled"`
	Retries           int64         `json:"retries"`
	BytesLoaded       int64         `json:"bytes_loaded"`
	AverageLoadTimeMs float64       `json:"average_load_time_ms"`
	PerQualityCounts  map[int]int64 `json:"per_quality_counts"`
	CacheHits         int64         `json:"cache_hits"`
	CacheMisses       int64         `json:"cache_misses"`
	CacheHitRate      float64       `json:"cache_hit_rate"`
	PreloadsIssued    int64         `json:"preloads_issued"`
}

// Get handles GET /api/v1/stats.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap := h.svc.Statistics()
	WriteJSONOK(w, StatsResponse{
		RequestsIssued:    snap.RequestsIssued,
		RequestsCompleted: snap.RequestsCompleted,
		RequestsFailed:    snap.RequestsFailed,
		RequestsCancelled: snap.RequestsCancelled,
		Retries:           snap.Retries,
		BytesLoaded:       snap.BytesLoaded,
		AverageLoadTimeMs: float64(snap.AverageLoadTime.Microseconds()) / 1000.0,
		PerQualityCounts:  snap.PerQualityCounts,
		CacheHits:         snap.CacheHits,
		CacheMisses:       snap.CacheMisses,
		CacheHitRate:      snap.CacheHitRate,
		PreloadsIssued:    snap.PreloadsIssued,
	})
}

// Reset handles DELETE /api/v1/stats.
func (h *StatsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.svc.ResetStatistics()
	WriteNoContent(w)
}
