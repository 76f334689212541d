package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medview/pyraload/pkg/loader"
	"github.com/medview/pyraload/pkg/pyramid"
	"github.com/medview/pyraload/pkg/scheduler"
)

// PyramidHandler handles pyramid registration and inspection.
type PyramidHandler struct {
	svc *loader.Service
}

// NewPyramidHandler creates a PyramidHandler.
func NewPyramidHandler(svc *loader.Service) *PyramidHandler {
	return &PyramidHandler{svc: svc}
}

// RegisterPyramidRequest is the request body for POST /api/v1/pyramids.
type RegisterPyramidRequest struct {
	ImageID   string `json:"image_id"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	SizeBytes int64  `json:"size_bytes"`

	PatientID         string `json:"patient_id,omitempty"`
	Modality          string `json:"modality,omitempty"`
	StudyDescription  string `json:"study_description,omitempty"`
	SeriesDescription string `json:"series_description,omitempty"`

	SliceNumber int  `json:"slice_number,omitempty"`
	TotalSlices int  `json:"total_slices,omitempty"`
	MultiSlice  bool `json:"multi_slice,omitempty"`
}

// LevelResponse describes one pyramid quality level.
type LevelResponse struct {
	Quality  int    `json:"quality"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	ByteSize int64  `json:"byte_size"`
	Locator  string `json:"locator"`
}

// PyramidResponse is the response body for pyramid endpoints.
type PyramidResponse struct {
	ImageID   string          `json:"image_id"`
	Levels    []LevelResponse `json:"levels"`
	TotalSize int64           `json:"total_size"`
}

// Register handles POST /api/v1/pyramids.
// Derives the configured quality levels for a source image and makes the
// image loadable.
func (h *PyramidHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterPyramidRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.ImageID == "" {
		BadRequest(w, "image_id is required")
		return
	}

	model, err := h.svc.GeneratePyramid(req.ImageID, pyramid.ImageInfo{
		Width:             req.Width,
		Height:            req.Height,
		SizeBytes:         req.SizeBytes,
		PatientID:         req.PatientID,
		Modality:          req.Modality,
		StudyDescription:  req.StudyDescription,
		SeriesDescription: req.SeriesDescription,
		SliceNumber:       req.SliceNumber,
		TotalSlices:       req.TotalSlices,
		MultiSlice:        req.MultiSlice,
	})
	if err != nil {
		if errors.Is(err, pyramid.ErrInvalidInput) {
			UnprocessableEntity(w, err.Error())
			return
		}
		InternalServerError(w, "Failed to build pyramid")
		return
	}

	WriteJSONCreated(w, pyramidToResponse(model))
}

// Get handles GET /api/v1/pyramids/{imageID}.
func (h *PyramidHandler) Get(w http.ResponseWriter, r *http.Request) {
	imageID := chi.URLParam(r, "imageID")

	model, err := h.svc.Pyramid(imageID)
	if err != nil {
		if errors.Is(err, scheduler.ErrUnknownImage) {
			NotFound(w, "No pyramid registered for image")
			return
		}
		InternalServerError(w, "Failed to look up pyramid")
		return
	}

	WriteJSONOK(w, pyramidToResponse(model))
}

func pyramidToResponse(m *pyramid.Model) PyramidResponse {
	levels := make([]LevelResponse, len(m.Levels))
	for i, l := range m.Levels {
		levels[i] = LevelResponse{
			Quality:  l.Quality,
			Width:    l.Width,
			Height:   l.Height,
			ByteSize: l.ByteSize,
			Locator:  l.Locator,
		}
	}
	return PyramidResponse{
		ImageID:   m.ID,
		Levels:    levels,
		TotalSize: m.TotalSize,
	}
}
