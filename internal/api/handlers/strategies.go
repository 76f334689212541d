package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medview/pyraload/pkg/loader"
	"github.com/medview/pyraload/pkg/strategy"
)

// StrategyHandler manages loading strategies and the active selection.
type StrategyHandler struct {
	svc *loader.Service
}

// NewStrategyHandler creates a StrategyHandler.
func NewStrategyHandler(svc *loader.Service) *StrategyHandler {
	return &StrategyHandler{svc: svc}
}

// StrategyRequest is the request body for POST /api/v1/strategies.
//
// Formula selects one of the built-in priority formulas; custom scoring
// functions are not expressible over the API.
type StrategyRequest struct {
	Name               string `json:"name"`
	QualityProgression []int  `json:"quality_progression"`
	PreloadDistance    int    `json:"preload_distance"`
	MaxConcurrentLoads int    `json:"max_concurrent_loads"`
	Formula            string `json:"formula"`
}

// StrategyResponse describes one strategy.
type StrategyResponse struct {
	Name               string `json:"name"`
	QualityProgression []int  `json:"quality_progression"`
	PreloadDistance    int    `json:"preload_distance"`
	MaxConcurrentLoads int    `json:"max_concurrent_loads"`
	Formula            string `json:"formula"`
}

// ActiveStrategyResponse is the response body for GET /api/v1/strategies/active.
type ActiveStrategyResponse struct {
	StrategyResponse
	// Source is "manual", "adaptive", or "default" depending on how the
	// strategy was selected.
	Source string `json:"source,omitempty"`
}

// List handles GET /api/v1/strategies.
func (h *StrategyHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, map[string][]string{"strategies": h.svc.Strategies()})
}

// Create handles POST /api/v1/strategies.
// Registers a user-defined strategy.
func (h *StrategyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req StrategyRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	kind := strategy.FormulaKind(req.Formula)
	switch kind {
	case strategy.FormulaRecencyWeighted, strategy.FormulaQualityWeighted,
		strategy.FormulaQualitySquared, strategy.FormulaProximityOnly:
	case "":
		kind = strategy.FormulaQualityWeighted
	default:
		BadRequest(w, "Unknown priority formula")
		return
	}

	strat := &strategy.Strategy{
		Name:               req.Name,
		QualityProgression: req.QualityProgression,
		PreloadDistance:    req.PreloadDistance,
		MaxConcurrentLoads: req.MaxConcurrentLoads,
		Priority:           strategy.Formula{Kind: kind},
	}

	if err := h.svc.RegisterStrategy(strat); err != nil {
		switch {
		case errors.Is(err, strategy.ErrProtectedResource),
			errors.Is(err, strategy.ErrDuplicateName):
			Conflict(w, err.Error())
		default:
			UnprocessableEntity(w, err.Error())
		}
		return
	}

	WriteJSONCreated(w, strategyToResponse(strat))
}

// Delete handles DELETE /api/v1/strategies/{name}.
// Predefined strategies cannot be removed.
func (h *StrategyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.svc.RemoveStrategy(name); err != nil {
		switch {
		case errors.Is(err, strategy.ErrProtectedResource):
			Conflict(w, err.Error())
		case errors.Is(err, strategy.ErrStrategyNotFound):
			NotFound(w, "Strategy not found")
		default:
			InternalServerError(w, "Failed to remove strategy")
		}
		return
	}

	WriteNoContent(w)
}

// GetActive handles GET /api/v1/strategies/active.
func (h *StrategyHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, ActiveStrategyResponse{
		StrategyResponse: strategyToResponse(h.svc.ActiveStrategy()),
	})
}

// SetActiveRequest is the request body for PUT /api/v1/strategies/active.
type SetActiveRequest struct {
	Name string `json:"name"`
}

// SetActive handles PUT /api/v1/strategies/active.
// Pins a strategy, overriding adaptive selection until ClearActive.
func (h *StrategyHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req SetActiveRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := h.svc.SetStrategy(req.Name); err != nil {
		if errors.Is(err, strategy.ErrStrategyNotFound) {
			NotFound(w, "Strategy not found")
			return
		}
		InternalServerError(w, "Failed to set strategy")
		return
	}

	WriteJSONOK(w, strategyToResponse(h.svc.ActiveStrategy()))
}

// ClearActive handles DELETE /api/v1/strategies/active.
// Removes a manual override; selection returns to adaptive or the configured
// default.
func (h *StrategyHandler) ClearActive(w http.ResponseWriter, r *http.Request) {
	h.svc.ClearStrategy()
	WriteNoContent(w)
}

func strategyToResponse(s *strategy.Strategy) StrategyResponse {
	return StrategyResponse{
		Name:               s.Name,
		QualityProgression: s.Progression(),
		PreloadDistance:    s.PreloadDistance,
		MaxConcurrentLoads: s.MaxConcurrentLoads,
		Formula:            string(s.Priority.Kind),
	}
}
