package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medview/pyraload/internal/bytesize"
	"github.com/medview/pyraload/pkg/config"
	"github.com/medview/pyraload/pkg/fetch"
	"github.com/medview/pyraload/pkg/loader"
)

func levelPayload(locator string) []byte {
	return []byte("payload:" + locator)
}

// newTestRouter builds a router over a running loading engine backed by a
// scripted fetcher.
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	cfg := config.GetDefaultConfig()
	cfg.Cache.MaxBytes = 64 * bytesize.MiB
	cfg.Bandwidth.Adaptive = false
	cfg.Scheduler.RetryAttempts = -1
	cfg.Scheduler.Timeout = 5 * time.Second

	fetcher := fetch.FetcherFunc(func(_ context.Context, locator string) ([]byte, error) {
		return levelPayload(locator), nil
	})

	svc, err := loader.New(cfg, fetcher, loader.Options{})
	require.NoError(t, err)

	svc.Start(context.Background())
	t.Cleanup(svc.Close)

	return NewRouter(svc)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func registerTestPyramid(t *testing.T, router http.Handler, imageID string) {
	t.Helper()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/pyramids", map[string]any{
		"image_id":   imageID,
		"width":      1024,
		"height":     768,
		"size_bytes": 4 << 20,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = doJSON(t, router, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var ready struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "healthy", ready.Status)
}

func TestRootRedirectsToHealth(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/health", rec.Header().Get("Location"))
}

func TestMetricsEndpointDisabled(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterAndGetPyramid(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/pyramids", map[string]any{
		"image_id":   "ct-001",
		"width":      1024,
		"height":     768,
		"size_bytes": 4 << 20,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		ImageID string `json:"image_id"`
		Levels  []struct {
			Quality int    `json:"quality"`
			Locator string `json:"locator"`
		} `json:"levels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "ct-001", created.ImageID)
	require.Len(t, created.Levels, 4)
	assert.Equal(t, 25, created.Levels[0].Quality)
	assert.Equal(t, 100, created.Levels[3].Quality)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/pyramids/ct-001", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/pyramids/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestRegisterPyramidValidation(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/pyramids", map[string]any{
		"width": 1024, "height": 768,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/pyramids", map[string]any{
		"image_id": "ct-002", "width": 0, "height": 768,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestLoadImage(t *testing.T) {
	router := newTestRouter(t)
	registerTestPyramid(t, router, "ct-001")

	rec := doJSON(t, router, http.MethodGet, "/api/v1/images/ct-001?quality=100", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("X-Image-Quality"))
	assert.Equal(t, levelPayload("ct-001#q=100"), rec.Body.Bytes())
}

func TestLoadImageErrors(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/images/ghost?quality=100", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	registerTestPyramid(t, router, "ct-001")

	rec = doJSON(t, router, http.MethodGet, "/api/v1/images/ct-001?quality=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/images/ct-001?quality=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamImage(t *testing.T) {
	router := newTestRouter(t)
	registerTestPyramid(t, router, "ct-001")

	rec := doJSON(t, router, http.MethodGet, "/api/v1/images/ct-001/stream?quality=100", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	// The balanced fallback strategy steps 50 -> 75 -> 100.
	assert.Equal(t, 3, strings.Count(body, "event: level"))
	assert.Equal(t, 1, strings.Count(body, "event: complete"))

	// Decode the last level event and verify the payload round-trips.
	var lastLevel struct {
		Quality int    `json:"quality"`
		Data    string `json:"data"`
	}
	for _, block := range strings.Split(body, "\n\n") {
		if !strings.HasPrefix(block, "event: level") {
			continue
		}
		data := strings.TrimPrefix(strings.SplitN(block, "\n", 2)[1], "data: ")
		require.NoError(t, json.Unmarshal([]byte(data), &lastLevel))
	}
	assert.Equal(t, 100, lastLevel.Quality)

	decoded, err := base64.StdEncoding.DecodeString(lastLevel.Data)
	require.NoError(t, err)
	assert.Equal(t, levelPayload("ct-001#q=100"), decoded)
}

func TestStreamImageAllLevelsFail(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Bandwidth.Adaptive = false
	cfg.Scheduler.RetryAttempts = -1
	cfg.Scheduler.Timeout = 5 * time.Second

	fetcher := fetch.FetcherFunc(func(_ context.Context, locator string) ([]byte, error) {
		return nil, fmt.Errorf("origin unreachable")
	})

	svc, err := loader.New(cfg, fetcher, loader.Options{})
	require.NoError(t, err)
	svc.Start(context.Background())
	t.Cleanup(svc.Close)

	router := NewRouter(svc)
	registerTestPyramid(t, router, "ct-001")

	rec := doJSON(t, router, http.MethodGet, "/api/v1/images/ct-001/stream?quality=100", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event: error")
}

func TestPreloadEndpoint(t *testing.T) {
	router := newTestRouter(t)
	for i := 1; i <= 3; i++ {
		registerTestPyramid(t, router, fmt.Sprintf("slice-%d", i))
	}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/images/slice-2/preload", map[string]any{
		"direction": "both",
		"distance":  1,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		rec := doJSON(t, router, http.MethodGet, "/api/v1/cache", nil)
		var usage struct {
			Entries int `json:"entries"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &usage); err != nil {
			return false
		}
		return usage.Entries == 2
	}, 5*time.Second, 20*time.Millisecond)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/images/slice-2/preload", map[string]any{
		"direction": "sideways",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheEndpoints(t *testing.T) {
	router := newTestRouter(t)
	registerTestPyramid(t, router, "ct-001")

	rec := doJSON(t, router, http.MethodGet, "/api/v1/images/ct-001?quality=100", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/cache", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var usage struct {
		SizeBytes   int64 `json:"size_bytes"`
		BudgetBytes int64 `json:"budget_bytes"`
		Entries     int   `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usage))
	assert.Positive(t, usage.SizeBytes)
	assert.Equal(t, 3, usage.Entries)

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/cache/ct-001", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/cache", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/cache", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usage))
	assert.Zero(t, usage.Entries)
}

func TestStatsEndpoints(t *testing.T) {
	router := newTestRouter(t)
	registerTestPyramid(t, router, "ct-001")

	rec := doJSON(t, router, http.MethodGet, "/api/v1/images/ct-001?quality=100", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats struct {
		RequestsCompleted int64 `json:"requests_completed"`
		CacheMisses       int64 `json:"cache_misses"`
		BytesLoaded       int64 `json:"bytes_loaded"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 3, stats.RequestsCompleted)
	assert.EqualValues(t, 3, stats.CacheMisses)
	assert.Positive(t, stats.BytesLoaded)

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/stats", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Zero(t, stats.RequestsCompleted)
}

func TestStrategyEndpoints(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/strategies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "balanced")

	// Pin, inspect, clear.
	rec = doJSON(t, router, http.MethodPut, "/api/v1/strategies/active", map[string]string{
		"name": "high-quality",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/strategies/active", nil)
	var active struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &active))
	assert.Equal(t, "high-quality", active.Name)

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/strategies/active", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/strategies/active", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &active))
	assert.Equal(t, "balanced", active.Name)

	rec = doJSON(t, router, http.MethodPut, "/api/v1/strategies/active", map[string]string{
		"name": "warp",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Custom strategy lifecycle.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/strategies", map[string]any{
		"name":                 "diagnostic",
		"quality_progression":  []int{100},
		"preload_distance":     1,
		"max_concurrent_loads": 1,
		"formula":              "proximity-only",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/strategies", map[string]any{
		"name":                 "balanced",
		"quality_progression":  []int{100},
		"preload_distance":     1,
		"max_concurrent_loads": 1,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/strategies/balanced", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/strategies/diagnostic", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/strategies/diagnostic", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBandwidthEndpoints(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/bandwidth", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Client-reported slow samples drag classification down.
	for i := 0; i < 10; i++ {
		rec = doJSON(t, router, http.MethodPost, "/api/v1/bandwidth/samples", map[string]any{
			"downlink_mbps": 0.5,
			"rtt_ms":        800,
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	var status struct {
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
		OptimalQuality int `json:"optimal_quality"`
		History        []struct {
			DownlinkMbps float64 `json:"downlink_mbps"`
		} `json:"history"`
	}
	rec = doJSON(t, router, http.MethodGet, "/api/v1/bandwidth", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "very-low-speed", status.Profile.Name)
	assert.Equal(t, 40, status.OptimalQuality)
	assert.Len(t, status.History, 10)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/bandwidth/samples", map[string]any{
		"downlink_mbps": -1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Pin and resume.
	rec = doJSON(t, router, http.MethodPut, "/api/v1/bandwidth/profile", map[string]string{
		"name": "high-speed",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/bandwidth", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "high-speed", status.Profile.Name)

	rec = doJSON(t, router, http.MethodPut, "/api/v1/bandwidth/profile", map[string]string{
		"name": "hyperspace",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/bandwidth/profile", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/bandwidth", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "very-low-speed", status.Profile.Name)
}
