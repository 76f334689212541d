package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/medview/pyraload/pkg/bandwidth"
	"github.com/medview/pyraload/pkg/loader"
)

// BandwidthHandler exposes the bandwidth monitor: the active profile, the
// rolling sample history, and client-reported measurements.
type BandwidthHandler struct {
	svc *loader.Service
}

// NewBandwidthHandler creates a BandwidthHandler.
func NewBandwidthHandler(svc *loader.Service) *BandwidthHandler {
	return &BandwidthHandler{svc: svc}
}

// ProfileResponse describes a bandwidth profile.
type ProfileResponse struct {
	Name         string `json:"name"`
	StrategyName string `json:"strategy"`
	QualityLow   int    `json:"quality_low"`
	QualityMed   int    `json:"quality_medium"`
	QualityHigh  int    `json:"quality_high"`
}

// SampleResponse describes one bandwidth measurement.
type SampleResponse struct {
	DownlinkMbps  float64   `json:"downlink_mbps"`
	RTTMs         int64     `json:"rtt_ms"`
	EffectiveType string    `json:"effective_type,omitempty"`
	TakenAt       time.Time `json:"taken_at"`
}

// StatusResponse is the response body for GET /api/v1/bandwidth.
type StatusResponse struct {
	Profile        ProfileResponse  `json:"profile"`
	OptimalQuality int              `json:"optimal_quality"`
	History        []SampleResponse `json:"history"`
}

// Status handles GET /api/v1/bandwidth.
func (h *BandwidthHandler) Status(w http.ResponseWriter, r *http.Request) {
	history := h.svc.BandwidthHistory()
	samples := make([]SampleResponse, len(history))
	for i, s := range history {
		samples[i] = SampleResponse{
			DownlinkMbps:  s.DownlinkMbps,
			RTTMs:         s.RTT.Milliseconds(),
			EffectiveType: s.EffectiveType,
			TakenAt:       s.TakenAt,
		}
	}

	WriteJSONOK(w, StatusResponse{
		Profile:        profileToResponse(h.svc.ActiveProfile()),
		OptimalQuality: h.svc.OptimalQuality(),
		History:        samples,
	})
}

// RecordSampleRequest is the request body for POST /api/v1/bandwidth/samples.
// Viewers report measurements they observe client-side (e.g. from the
// Network Information API) so classification reflects the last mile.
type RecordSampleRequest struct {
	DownlinkMbps  float64 `json:"downlink_mbps"`
	RTTMs         int64   `json:"rtt_ms"`
	EffectiveType string  `json:"effective_type,omitempty"`
}

// RecordSample handles POST /api/v1/bandwidth/samples.
func (h *BandwidthHandler) RecordSample(w http.ResponseWriter, r *http.Request) {
	var req RecordSampleRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.DownlinkMbps <= 0 {
		BadRequest(w, "downlink_mbps must be positive")
		return
	}

	h.svc.RecordBandwidthSample(bandwidth.Sample{
		DownlinkMbps:  req.DownlinkMbps,
		RTT:           time.Duration(req.RTTMs) * time.Millisecond,
		EffectiveType: req.EffectiveType,
	})

	WriteJSON(w, http.StatusAccepted, profileToResponse(h.svc.ActiveProfile()))
}

// SetProfileRequest is the request body for PUT /api/v1/bandwidth/profile.
type SetProfileRequest struct {
	Name string `json:"name"`
}

// SetProfile handles PUT /api/v1/bandwidth/profile.
// Pins a profile, disabling automatic reclassification.
func (h *BandwidthHandler) SetProfile(w http.ResponseWriter, r *http.Request) {
	var req SetProfileRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := h.svc.SetBandwidthProfile(req.Name); err != nil {
		if errors.Is(err, bandwidth.ErrProfileNotFound) {
			NotFound(w, "Bandwidth profile not found")
			return
		}
		InternalServerError(w, "Failed to set profile")
		return
	}

	WriteJSONOK(w, profileToResponse(h.svc.ActiveProfile()))
}

// ResumeAutomatic handles DELETE /api/v1/bandwidth/profile.
// Clears a pinned profile and returns to sample-driven classification.
func (h *BandwidthHandler) ResumeAutomatic(w http.ResponseWriter, r *http.Request) {
	h.svc.ResumeAdaptive()
	WriteNoContent(w)
}

func profileToResponse(p bandwidth.Profile) ProfileResponse {
	return ProfileResponse{
		Name:         p.Name,
		StrategyName: p.StrategyName,
		QualityLow:   p.Thresholds.Low,
		QualityMed:   p.Thresholds.Medium,
		QualityHigh:  p.Thresholds.High,
	}
}
