package renderclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, WithClientID("dash-1"))
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": code, "message": msg}})
}

func TestGetStatusDecodesSnapshot(t *testing.T) {
	hb := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs/j-1", r.URL.Path)
		assert.Equal(t, "dash-1", r.Header.Get(HeaderClientID))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"job_id":        "j-1",
			"state":         "running",
			"progress_pct":  33,
			"current_stage": "audio",
			"heartbeat_at":  hb,
			"audio_error":   map[string]any{"code": "PROVIDER_UNAVAILABLE", "scenes": []int{1}},
		})
	})

	st, err := c.GetStatus(context.Background(), "j-1")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, 33, st.ProgressPct)
	require.NotNil(t, st.HeartbeatAt)
	assert.True(t, hb.Equal(*st.HeartbeatAt))
	assert.Equal(t, []int{1}, st.AudioError.Scenes)
}

func TestQuotaErrorCarriesRetryAfter(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		writeError(w, http.StatusTooManyRequests, CodeQuotaExceeded, "Rate limit exceeded")
	})

	_, err := c.GetStatus(context.Background(), "j-1")
	var qe *QuotaError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, CodeQuotaExceeded, qe.Code)
	assert.Equal(t, 7*time.Second, qe.RetryAfter)
}

func TestNotFound(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "job not found: j-9")
	})

	_, err := c.GetStatus(context.Background(), "j-9")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, c.Cancel(context.Background(), "j-9"), ErrNotFound)
}

func TestOtherErrorsAreAPIErrors(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed")
	})

	_, err := c.Submit(context.Background(), Plan{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
}

func TestSubmitActivityAndPreview(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/jobs":
			var plan Plan
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&plan))
			assert.Len(t, plan.Scenes, 1)
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"job_id":"j-2"}`))
		case r.URL.Path == "/api/jobs/j-2/activity":
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(`{"events":[{"seq":1,"event_type":"job.submitted"}]}`))
		case r.URL.Path == "/api/jobs/j-2/cancel":
			w.WriteHeader(http.StatusNoContent)
		case r.URL.Path == "/api/tts/preview":
			_, _ = w.Write([]byte(`{"url":"http://cdn/previews/k.wav","duration_sec":1.2,"cached":true}`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	id, err := c.Submit(ctx, Plan{Scenes: []Scene{{Narration: "hi", DurationSec: 1}}})
	require.NoError(t, err)
	assert.Equal(t, "j-2", id)

	events, err := c.Activity(ctx, id, 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "job.submitted", events[0].EventType)

	require.NoError(t, c.Cancel(ctx, id))

	p, err := c.PreviewTTS(ctx, PreviewRequest{Text: "hi"})
	require.NoError(t, err)
	assert.True(t, p.Cached)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 3*time.Second, parseRetryAfter("3", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-4", now))
	assert.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
}
