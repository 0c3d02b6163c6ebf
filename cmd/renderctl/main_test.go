package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/narrately/api/pkg/renderclient"
)

// fakeAPI scripts the render API: every status poll returns the next
// snapshot and the last one repeats.
type fakeAPI struct {
	mu        sync.Mutex
	snapshots []renderclient.Status
	polls     int
	submitted []renderclient.Plan
	clientIDs []string
	cancelled []string
	quota     bool
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs", func(w http.ResponseWriter, r *http.Request) {
		var plan renderclient.Plan
		if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.submitted = append(f.submitted, plan)
		f.clientIDs = append(f.clientIDs, r.Header.Get(renderclient.HeaderClientID))
		f.mu.Unlock()
		writeTestJSON(w, http.StatusAccepted, map[string]string{"job_id": "job-1", "state": "queued"})
	})
	mux.HandleFunc("GET /api/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.quota {
			w.Header().Set("Retry-After", "12")
			writeTestJSON(w, http.StatusTooManyRequests, map[string]any{"error": map[string]string{"code": "QUOTA_EXCEEDED", "message": "slow down"}})
			return
		}
		if r.PathValue("id") != "job-1" {
			writeTestJSON(w, http.StatusNotFound, map[string]any{"error": map[string]string{"code": "NOT_FOUND", "message": "job not found"}})
			return
		}
		i := f.polls
		if i >= len(f.snapshots) {
			i = len(f.snapshots) - 1
		}
		f.polls++
		writeTestJSON(w, http.StatusOK, f.snapshots[i])
	})
	mux.HandleFunc("POST /api/jobs/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.cancelled = append(f.cancelled, r.PathValue("id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/jobs/{id}/activity", func(w http.ResponseWriter, r *http.Request) {
		events := []renderclient.Event{
			{Seq: 1, JobID: "job-1", EventType: "job.submitted", Message: "job queued", TS: time.Now()},
			{Seq: 2, JobID: "job-1", EventType: "job.completed", Message: "job completed", TS: time.Now()},
		}
		if r.URL.Query().Get("limit") == "1" {
			events = events[1:]
		}
		writeTestJSON(w, http.StatusOK, map[string]any{"events": events})
	})
	mux.HandleFunc("POST /api/tts/preview", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, renderclient.Preview{URL: "http://cdn.test/previews/abc.wav", DurationSec: 1.25, Cached: true})
	})
	return mux
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func startFakeAPI(t *testing.T, snapshots ...renderclient.Status) (*fakeAPI, string) {
	t.Helper()
	api := &fakeAPI{snapshots: snapshots}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	prev := defaultPollConfig
	defaultPollConfig = func() renderclient.PollConfig {
		cfg := renderclient.DefaultPollConfig()
		cfg.MinDelay = time.Millisecond
		cfg.MaxDelay = 5 * time.Millisecond
		return cfg
	}
	t.Cleanup(func() { defaultPollConfig = prev })
	return api, srv.URL
}

func runCLI(t *testing.T, server string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--server", server, "--client-id", "cli-test"}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func completedSnapshot() renderclient.Status {
	return renderclient.Status{
		JobID:       "job-1",
		State:       renderclient.StateCompleted,
		ProgressPct: 100,
		Artifacts:   map[string][]string{"video": {"http://cdn.test/jobs/job-1/video/final.mp4"}},
	}
}

func TestSubmitFromFlagsAndWatch(t *testing.T) {
	api, server := startFakeAPI(t,
		renderclient.Status{JobID: "job-1", State: renderclient.StateQueued},
		renderclient.Status{JobID: "job-1", State: renderclient.StateRunning, ProgressPct: 40, CurrentStage: "audio"},
		completedSnapshot(),
	)

	out, _, err := runCLI(t, server, "submit", "--lang", "hi-IN", "--scene", "2.5|नमस्ते दुनिया।|sunrise", "--scene", "3", "--watch")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	requireContains(t, out, "Submitted job job-1")
	requireContains(t, out, "queued")
	requireContains(t, out, "running    40% audio")
	requireContains(t, out, "Video: http://cdn.test/jobs/job-1/video/final.mp4")

	if len(api.submitted) != 1 {
		t.Fatalf("expected one submission, got %d", len(api.submitted))
	}
	plan := api.submitted[0]
	if plan.Language != "hi-IN" || len(plan.Scenes) != 2 {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if plan.Scenes[0].Narration != "नमस्ते दुनिया।" || plan.Scenes[0].ImagePrompt != "sunrise" || plan.Scenes[1].DurationSec != 3 {
		t.Errorf("unexpected scenes %+v", plan.Scenes)
	}
	if api.clientIDs[0] != "cli-test" {
		t.Errorf("expected client id header, got %q", api.clientIDs[0])
	}
}

func TestSubmitFromPlanFileWithOverrides(t *testing.T) {
	api, server := startFakeAPI(t, completedSnapshot())

	path := filepath.Join(t.TempDir(), "plan.json")
	body := `{"topic":"tides","language":"en-US","scenes":[{"narration":"The tide turns.","duration_sec":2}]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write plan: %v", err)
	}

	if _, _, err := runCLI(t, server, "submit", "--plan", path, "--voice", "narrator-2"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	plan := api.submitted[0]
	if plan.Topic != "tides" || plan.VoiceID != "narrator-2" || len(plan.Scenes) != 1 {
		t.Errorf("unexpected plan %+v", plan)
	}
}

func TestSubmitRejectsBadScenes(t *testing.T) {
	_, server := startFakeAPI(t, completedSnapshot())

	if _, _, err := runCLI(t, server, "submit"); err == nil {
		t.Fatal("expected an error without scenes")
	}
	_, _, err := runCLI(t, server, "submit", "--scene", "soon|hello")
	if err == nil {
		t.Fatal("expected an error for a bad duration")
	}
	requireContains(t, err.Error(), "duration")
}

func TestWatchReportsFailure(t *testing.T) {
	_, server := startFakeAPI(t, renderclient.Status{
		JobID: "job-1",
		State: renderclient.StateFailed,
		Error: &renderclient.JobError{Code: "PROVIDER_UNAVAILABLE", Phase: "tts", Message: "voice service unreachable"},
	})

	out, _, err := runCLI(t, server, "watch", "job-1")
	if err == nil {
		t.Fatal("expected failure to surface as an error")
	}
	requireContains(t, err.Error(), "failed in tts")
	requireContains(t, out, "failed")
}

func TestWatchStopsOnQuota(t *testing.T) {
	api, server := startFakeAPI(t, completedSnapshot())
	api.quota = true

	_, _, err := runCLI(t, server, "watch", "job-1")
	if err == nil {
		t.Fatal("expected quota error")
	}
	requireContains(t, err.Error(), "retry in 12s")
}

func TestStatusTableAndNotFound(t *testing.T) {
	_, server := startFakeAPI(t, renderclient.Status{
		JobID:       "job-1",
		State:       renderclient.StateCompleted,
		ProgressPct: 100,
		AudioMetadata: &renderclient.AudioMetadata{
			Lang: "hi-IN", VoiceID: "narrator-1", Provider: "mixed", TotalDurationSec: 5.5,
		},
		AudioError: &renderclient.AudioError{Code: "PROVIDER_UNAVAILABLE", Scenes: []int{1}},
	})

	out, _, err := runCLI(t, server, "status", "job-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "completed")
	requireContains(t, out, "hi-IN narrator-1 via mixed")
	requireContains(t, out, "PROVIDER_UNAVAILABLE scenes [1]")

	_, _, err = runCLI(t, server, "status", "missing")
	if err == nil || err.Error() != "job not found" {
		t.Fatalf("expected job not found, got %v", err)
	}
}

func TestStatusJSON(t *testing.T) {
	_, server := startFakeAPI(t, completedSnapshot())

	out, _, err := runCLI(t, server, "status", "job-1", "--json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var st renderclient.Status
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if st.State != renderclient.StateCompleted {
		t.Errorf("unexpected state %s", st.State)
	}
}

func TestActivityCancelAndPreview(t *testing.T) {
	api, server := startFakeAPI(t, completedSnapshot())

	out, _, err := runCLI(t, server, "activity", "job-1")
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	requireContains(t, out, "job.submitted")
	requireContains(t, out, "job.completed")

	out, _, err = runCLI(t, server, "activity", "job-1", "--limit", "1")
	if err != nil {
		t.Fatalf("activity limit: %v", err)
	}
	if strings.Contains(out, "job.submitted") {
		t.Errorf("expected only the newest event, got %s", out)
	}

	out, _, err = runCLI(t, server, "cancel", "job-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	requireContains(t, out, "Cancellation requested for job-1")
	if len(api.cancelled) != 1 || api.cancelled[0] != "job-1" {
		t.Errorf("unexpected cancels %v", api.cancelled)
	}

	out, _, err = runCLI(t, server, "preview", "hello", "there", "--lang", "en-US")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	requireContains(t, out, "http://cdn.test/previews/abc.wav (1.25s, cached)")
}

func TestParseSceneFlag(t *testing.T) {
	scene, err := parseSceneFlag(" 1.5 | Hello | a cat ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if scene.DurationSec != 1.5 || scene.Narration != "Hello" || scene.ImagePrompt != "a cat" {
		t.Errorf("unexpected scene %+v", scene)
	}
	if _, err := parseSceneFlag("-1"); err == nil {
		t.Error("expected negative duration to fail")
	}
}
