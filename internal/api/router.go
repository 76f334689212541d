package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/medview/pyraload/internal/api/handlers"
	"github.com/medview/pyraload/internal/logger"
	"github.com/medview/pyraload/pkg/loader"
	"github.com/medview/pyraload/pkg/metrics"
)

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe with scheduler occupancy
//   - GET /metrics - Prometheus scrape endpoint (404 when metrics disabled)
//   - POST /api/v1/pyramids - Register an image and derive its levels
//   - GET /api/v1/pyramids/{imageID} - Inspect a registered pyramid
//   - GET /api/v1/images/{imageID} - Progressive load, single binary response
//   - GET /api/v1/images/{imageID}/stream - Progressive load as SSE level events
//   - POST /api/v1/images/{imageID}/preload - Warm neighboring slices
//   - GET /api/v1/cache - Cache occupancy
//   - DELETE /api/v1/cache - Drop all cached payloads
//   - DELETE /api/v1/cache/{imageID} - Drop one image's cached levels
//   - GET /api/v1/stats - Loading counters
//   - DELETE /api/v1/stats - Reset the counters
//   - GET /api/v1/strategies - Registered strategy names
//   - POST /api/v1/strategies - Register a custom strategy
//   - DELETE /api/v1/strategies/{name} - Remove a custom strategy
//   - GET /api/v1/strategies/active - Currently effective strategy
//   - PUT /api/v1/strategies/active - Pin a strategy
//   - DELETE /api/v1/strategies/active - Clear the pin
//   - GET /api/v1/bandwidth - Active profile and sample history
//   - POST /api/v1/bandwidth/samples - Report a client-side measurement
//   - PUT /api/v1/bandwidth/profile - Pin a bandwidth profile
//   - DELETE /api/v1/bandwidth/profile - Resume automatic classification
//
// No blanket timeout middleware: the stream endpoint holds the connection
// open for the duration of a progressive load, which is already bounded by
// the scheduler's per-request timeout.
func NewRouter(svc *loader.Service) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	healthHandler := handlers.NewHealthHandler(svc)

	// Health routes
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	// Prometheus scrape endpoint; serves 404 when metrics are disabled
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	pyramidHandler := handlers.NewPyramidHandler(svc)
	imageHandler := handlers.NewImageHandler(svc)
	cacheHandler := handlers.NewCacheHandler(svc)
	statsHandler := handlers.NewStatsHandler(svc)
	strategyHandler := handlers.NewStrategyHandler(svc)
	bandwidthHandler := handlers.NewBandwidthHandler(svc)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/pyramids", func(r chi.Router) {
			r.Post("/", pyramidHandler.Register)
			r.Get("/{imageID}", pyramidHandler.Get)
		})

		r.Route("/images/{imageID}", func(r chi.Router) {
			r.Get("/", imageHandler.Load)
			r.Get("/stream", imageHandler.Stream)
			r.Post("/preload", imageHandler.Preload)
		})

		r.Route("/cache", func(r chi.Router) {
			r.Get("/", cacheHandler.Usage)
			r.Delete("/", cacheHandler.Clear)
			r.Delete("/{imageID}", cacheHandler.ClearImage)
		})

		r.Route("/stats", func(r chi.Router) {
			r.Get("/", statsHandler.Get)
			r.Delete("/", statsHandler.Reset)
		})

		r.Route("/strategies", func(r chi.Router) {
			r.Get("/", strategyHandler.List)
			r.Post("/", strategyHandler.Create)

			r.Route("/active", func(r chi.Router) {
				r.Get("/", strategyHandler.GetActive)
				r.Put("/", strategyHandler.SetActive)
				r.Delete("/", strategyHandler.ClearActive)
			})

			r.Delete("/{name}", strategyHandler.Delete)
		})

		r.Route("/bandwidth", func(r chi.Router) {
			r.Get("/", bandwidthHandler.Status)
			r.Post("/samples", bandwidthHandler.RecordSample)
			r.Route("/profile", func(r chi.Router) {
				r.Put("/", bandwidthHandler.SetProfile)
				r.Delete("/", bandwidthHandler.ResumeAutomatic)
			})
		})
	})

	return r
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/") || path == "/metrics"
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
//   - Healthcheck and scrape requests are logged at DEBUG level to reduce noise
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		}

		// Log healthcheck requests at DEBUG to avoid polluting logs in k8s
		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}
