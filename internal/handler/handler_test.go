package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narrately/api/internal/activity"
	"github.com/narrately/api/internal/client"
	"github.com/narrately/api/internal/config"
	"github.com/narrately/api/internal/middleware"
	"github.com/narrately/api/internal/model"
	"github.com/narrately/api/internal/service"
	"github.com/narrately/api/internal/stage"
	"github.com/narrately/api/internal/store"
	"github.com/narrately/api/internal/synthcache"
	"github.com/narrately/api/internal/tts"
	ws "github.com/narrately/api/internal/websocket"
	"github.com/narrately/api/pkg/response"
)

type nopDispatcher struct{ ids []string }

func (d *nopDispatcher) Dispatch(ctx context.Context, jobID string) error {
	d.ids = append(d.ids, jobID)
	return nil
}

type staticStages []stage.Health

func (s staticStages) HealthCheck(context.Context) []stage.Health { return s }

type testEnv struct {
	app        *fiber.App
	jobs       *store.Jobs
	dispatcher *nopDispatcher
}

func setup(t *testing.T, limits config.RateLimitConfig) *testEnv {
	t.Helper()
	jobs := store.New(store.NewMemoryBackend(), nil)
	events := activity.NewLog(activity.NewMemoryStore(), nil)
	d := &nopDispatcher{}
	storage := client.NewLocalStorage(t.TempDir(), "http://cdn.test")
	cache := synthcache.New(synthcache.NewMemoryStore(16, time.Hour), nil)
	v := NewValidator()

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	Register(app, Routes{
		Jobs: NewJobHandler(service.NewJobService(jobs, d, events, nil), v),
		Preview: NewPreviewHandler(service.NewPreviewService(tts.NewOfflineProvider(8000), cache, storage, events,
			service.PreviewDefaults{VoiceID: "narrator-1", Lang: "en-US"}, nil), v),
		Health:  NewHealthHandler(staticStages{stage.Healthy("script"), stage.Unhealthy("stitch", "renderer down")}, nil),
		Hub:     ws.NewHub(nil),
		Limiter: middleware.NewRateLimiter(middleware.NewMemoryCounter(nil), nil),
		Limits:  limits,
	})
	return &testEnv{app: app, jobs: jobs, dispatcher: d}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderClientID, "tester")
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func validPlan() map[string]interface{} {
	return map[string]interface{}{
		"topic":    "tides",
		"language": "en-GB",
		"scenes": []map[string]interface{}{
			{"narration": "The tide turns.", "duration_sec": 2},
		},
	}
}

func TestSubmitAndStatus(t *testing.T) {
	env := setup(t, config.RateLimitConfig{})

	resp := env.do(t, http.MethodPost, "/api/jobs", validPlan())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var submitted model.SubmitResponse
	decode(t, resp, &submitted)
	require.NotEmpty(t, submitted.JobID)
	assert.Equal(t, []string{submitted.JobID}, env.dispatcher.ids)

	resp = env.do(t, http.MethodGet, "/api/jobs/"+submitted.JobID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status model.StatusResponse
	decode(t, resp, &status)
	assert.Equal(t, model.JobStateQueued, status.State)
	assert.Equal(t, 0, status.ProgressPct)
}

func TestSubmitValidation(t *testing.T) {
	env := setup(t, config.RateLimitConfig{})

	tests := []struct {
		name string
		body interface{}
	}{
		{"no scenes", map[string]interface{}{"topic": "x", "scenes": []interface{}{}}},
		{"bad language", map[string]interface{}{
			"language": "!!", "scenes": []map[string]interface{}{{"duration_sec": 1}},
		}},
		{"missing duration", map[string]interface{}{
			"scenes": []map[string]interface{}{{"narration": "hi"}},
		}},
		{"pace out of range", map[string]interface{}{
			"pace": 5, "scenes": []map[string]interface{}{{"duration_sec": 1}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var body response.ErrorResponse
			decode(t, resp, &body)
			assert.Equal(t, response.CodeValidationError, body.Error.Code)
		})
	}
	assert.Empty(t, env.dispatcher.ids)
}

func TestUnknownJob(t *testing.T) {
	env := setup(t, config.RateLimitConfig{})

	for _, path := range []string{"/api/jobs/nope", "/api/jobs/nope/activity"} {
		resp := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		var body response.ErrorResponse
		decode(t, resp, &body)
		assert.Equal(t, response.CodeNotFound, body.Error.Code)
	}
	resp := env.do(t, http.MethodPost, "/api/jobs/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelIsIdempotent(t *testing.T) {
	env := setup(t, config.RateLimitConfig{})
	resp := env.do(t, http.MethodPost, "/api/jobs", validPlan())
	var submitted model.SubmitResponse
	decode(t, resp, &submitted)

	for i := 0; i < 2; i++ {
		resp = env.do(t, http.MethodPost, "/api/jobs/"+submitted.JobID+"/cancel", nil)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	job, err := env.jobs.Get(context.Background(), submitted.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCancelled, job.State)

	resp = env.do(t, http.MethodGet, "/api/jobs/"+submitted.JobID+"/activity?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var act model.ActivityResponse
	decode(t, resp, &act)
	require.Len(t, act.Events, 2)
	assert.Equal(t, model.EventJobCancelRequested, act.Events[0].EventType)
	assert.Equal(t, model.EventJobCancelled, act.Events[1].EventType)
}

func TestPreviewReportsCachedOnRepeat(t *testing.T) {
	env := setup(t, config.RateLimitConfig{})
	body := map[string]interface{}{"text": "À bientôt.", "lang": "fr-FR"}

	var first, second model.PreviewResponse
	resp := env.do(t, http.MethodPost, "/api/tts/preview", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &first)
	resp = env.do(t, http.MethodPost, "/api/tts/preview", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &second)

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.URL, second.URL)
	assert.InDelta(t, first.DurationSec, second.DurationSec, 1e-9)
}

func TestStatusPollsAreRateLimited(t *testing.T) {
	env := setup(t, config.RateLimitConfig{StatusPerMin: 1})
	resp := env.do(t, http.MethodPost, "/api/jobs", validPlan())
	var submitted model.SubmitResponse
	decode(t, resp, &submitted)

	resp = env.do(t, http.MethodGet, "/api/jobs/"+submitted.JobID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/api/jobs/"+submitted.JobID, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderRetryAfter))
}

func TestHealthReportsDegradedStages(t *testing.T) {
	env := setup(t, config.RateLimitConfig{})
	resp := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status string         `json:"status"`
		Stages []stage.Health `json:"stages"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "degraded", body.Status)
	require.Len(t, body.Stages, 2)
	assert.Equal(t, "renderer down", body.Stages[1].Detail)
}

func TestWebSocketRouteRequiresUpgrade(t *testing.T) {
	env := setup(t, config.RateLimitConfig{})
	resp := env.do(t, http.MethodGet, "/ws/jobs/abc", nil)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
