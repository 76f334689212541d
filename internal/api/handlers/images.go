package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/medview/pyraload/internal/logger"
	"github.com/medview/pyraload/pkg/loader"
	"github.com/medview/pyraload/pkg/scheduler"
)

// ImageHandler serves progressive image loads and preload hints.
type ImageHandler struct {
	svc *loader.Service
}

// NewImageHandler creates an ImageHandler.
func NewImageHandler(svc *loader.Service) *ImageHandler {
	return &ImageHandler{svc: svc}
}

// QualityHeader carries the quality actually achieved by a load, which may be
// lower than requested when upper levels failed.
const QualityHeader = "X-Image-Quality"

// Load handles GET /api/v1/images/{imageID}.
//
// Loads the image up to the requested quality and returns the best payload as
// a single binary response. The `quality` query parameter defaults to the
// active bandwidth profile's optimal quality.
func (h *ImageHandler) Load(w http.ResponseWriter, r *http.Request) {
	imageID := chi.URLParam(r, "imageID")

	quality, ok := h.targetQuality(w, r)
	if !ok {
		return
	}

	achieved := 0
	data, err := h.svc.LoadImageProgressive(r.Context(), imageID, quality,
		func(ev scheduler.ProgressEvent) {
			achieved = ev.Quality
		})
	if err != nil {
		writeLoadError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(QualityHeader, strconv.Itoa(achieved))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// levelEvent is the server-sent event payload for one completed level.
type levelEvent struct {
	ImageID string `json:"image_id"`
	Quality int    `json:"quality"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Bytes   int    `json:"bytes"`
	Data    string `json:"data"` // base64-encoded payload
}

// completeEvent closes a progressive stream.
type completeEvent struct {
	ImageID string `json:"image_id"`
	Quality int    `json:"quality"`
	Bytes   int    `json:"bytes"`
}

// Stream handles GET /api/v1/images/{imageID}/stream.
//
// Streams the progressive load as server-sent events: one `level` event per
// completed quality step in ascending order, then a terminal `complete` or
// `error` event. Viewers render each level as it arrives.
func (h *ImageHandler) Stream(w http.ResponseWriter, r *http.Request) {
	imageID := chi.URLParam(r, "imageID")

	quality, ok := h.targetQuality(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		InternalServerError(w, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	achieved := 0
	data, err := h.svc.LoadImageProgressive(r.Context(), imageID, quality,
		func(ev scheduler.ProgressEvent) {
			achieved = ev.Quality
			writeSSE(w, "level", levelEvent{
				ImageID: ev.ImageID,
				Quality: ev.Quality,
				Width:   ev.Width,
				Height:  ev.Height,
				Bytes:   len(ev.Data),
				Data:    base64.StdEncoding.EncodeToString(ev.Data),
			})
			flusher.Flush()
		})
	if err != nil {
		// Headers are long gone; the error travels as a terminal event.
		writeSSE(w, "error", map[string]string{"error": err.Error()})
		flusher.Flush()
		return
	}

	writeSSE(w, "complete", completeEvent{
		ImageID: imageID,
		Quality: achieved,
		Bytes:   len(data),
	})
	flusher.Flush()
}

// PreloadRequest is the request body for POST /api/v1/images/{imageID}/preload.
type PreloadRequest struct {
	// Direction is "forward", "backward", or "both". Default: "both".
	Direction string `json:"direction,omitempty"`

	// Distance is how many neighbors to warm on each side. Zero uses the
	// configured default.
	Distance int `json:"distance,omitempty"`
}

// Preload handles POST /api/v1/images/{imageID}/preload.
// Warms neighboring slices at lowest quality and priority. Fire and forget:
// the response only acknowledges the hint.
func (h *ImageHandler) Preload(w http.ResponseWriter, r *http.Request) {
	imageID := chi.URLParam(r, "imageID")

	var req PreloadRequest
	if r.ContentLength > 0 && !decodeJSONBody(w, r, &req) {
		return
	}

	dir, err := parseDirection(req.Direction)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	h.svc.Preload(imageID, dir, req.Distance)

	WriteJSON(w, http.StatusAccepted, map[string]any{
		"image_id":  imageID,
		"direction": dir.String(),
		"distance":  req.Distance,
	})
}

// targetQuality parses the `quality` query parameter, defaulting to the
// active profile's optimal quality. Returns false after writing an error
// response.
func (h *ImageHandler) targetQuality(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("quality")
	if raw == "" {
		return h.svc.OptimalQuality(), true
	}

	quality, err := strconv.Atoi(raw)
	if err != nil || quality < 1 || quality > 100 {
		BadRequest(w, "quality must be an integer between 1 and 100")
		return 0, false
	}
	return quality, true
}

func parseDirection(s string) (scheduler.Direction, error) {
	switch s {
	case "forward":
		return scheduler.Forward, nil
	case "backward":
		return scheduler.Backward, nil
	case "both", "":
		return scheduler.Both, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// writeSSE writes one server-sent event with a JSON data payload.
func writeSSE(w http.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		logger.Error("Failed to encode SSE payload", "event", event, "error", err)
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}

// writeLoadError maps scheduler errors to HTTP problem responses.
func writeLoadError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, scheduler.ErrUnknownImage):
		NotFound(w, "No pyramid registered for image")
	case errors.Is(err, scheduler.ErrUnknownLevel):
		UnprocessableEntity(w, err.Error())
	case errors.Is(err, scheduler.ErrNoLevelsAvailable):
		BadGateway(w, "All quality levels failed to load")
	case errors.Is(err, scheduler.ErrSchedulerClosed):
		ServiceUnavailable(w, "Loader is shutting down")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client went away; nothing useful to write.
		logger.Debug("Load aborted by client", "path", r.URL.Path)
	default:
		InternalServerError(w, "Load failed")
	}
}
