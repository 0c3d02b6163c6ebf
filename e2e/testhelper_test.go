package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/narrately/api/internal/activity"
	"github.com/narrately/api/internal/apperr"
	"github.com/narrately/api/internal/client"
	"github.com/narrately/api/internal/config"
	"github.com/narrately/api/internal/handler"
	"github.com/narrately/api/internal/middleware"
	"github.com/narrately/api/internal/orchestrator"
	"github.com/narrately/api/internal/pacing"
	"github.com/narrately/api/internal/service"
	"github.com/narrately/api/internal/stage"
	"github.com/narrately/api/internal/store"
	"github.com/narrately/api/internal/synthcache"
	"github.com/narrately/api/internal/tts"
	ws "github.com/narrately/api/internal/websocket"
	"github.com/narrately/api/pkg/renderclient"
)

const sampleRate = 8000

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	jobs    *store.Jobs
	storage *client.LocalStorage
	hub     *ws.Hub
	baseURL string
}

type appOptions struct {
	strict   bool
	provider tts.Provider
	limits   config.RateLimitConfig
}

// failingProvider reports the provider unavailable for texts containing
// marker and delegates everything else.
type failingProvider struct {
	tts.Provider
	marker string
}

func (p failingProvider) Synthesize(ctx context.Context, req tts.Request) (tts.Result, error) {
	if strings.Contains(req.Text, p.marker) {
		return tts.Result{}, apperr.ProviderUnavailable("network", io.ErrUnexpectedEOF)
	}
	return p.Provider.Synthesize(ctx, req)
}

// setupApp creates a Fiber app wired like main.go but with in-memory stores,
// local storage, the offline voice and an in-process worker pool.
func setupApp(t *testing.T, opts appOptions) *testApp {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	hub := ws.NewHub(nil)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	jobs := store.New(store.NewMemoryBackend(), nil)
	events := activity.NewLog(activity.NewMemoryStore(), nil, activity.WithBroadcaster(hub))
	storage := client.NewLocalStorage(t.TempDir(), "http://cdn.test")
	cache := synthcache.New(synthcache.NewMemoryStore(128, time.Hour), nil)
	engine := pacing.New(sampleRate)

	provider := opts.provider
	if provider == nil {
		provider = tts.NewOfflineProvider(sampleRate)
	}

	audio := orchestrator.NewAudioStage(provider, cache, engine, storage, events, orchestrator.AudioOptions{
		Strict:       opts.strict,
		Tolerance:    0.05,
		DefaultVoice: "narrator-1",
		DefaultLang:  "en-US",
		Parallelism:  2,
	}, nil)
	orch := orchestrator.New(jobs, events, storage, orchestrator.Options{
		HeartbeatInterval: 50 * time.Millisecond,
		LeaseDuration:     time.Second,
	}, nil,
		stage.NewScriptStage(storage, stage.Defaults{Language: "en-US", VoiceID: "narrator-1"}),
		audio,
		stage.NewImagesStage(nil, storage),
		stage.NewSubtitlesStage(storage),
		stage.NewStitchStage(nil, storage, engine),
		stage.NewPublishStage(nil, storage),
	)

	pool := orchestrator.NewPoolDispatcher(orch, "e2e", 2, 16, nil)
	pool.Start(ctx)

	validate := handler.NewValidator()
	app := fiber.New(fiber.Config{
		ErrorHandler: handler.ErrorHandler,
		BodyLimit:    4 * 1024 * 1024,
	})
	handler.Register(app, handler.Routes{
		Jobs: handler.NewJobHandler(service.NewJobService(jobs, pool, events, nil), validate),
		Preview: handler.NewPreviewHandler(service.NewPreviewService(provider, cache, storage, events,
			service.PreviewDefaults{VoiceID: "narrator-1", Lang: "en-US"}, nil), validate),
		Health:  handler.NewHealthHandler(orch, map[string]handler.Probe{"storage": func(context.Context) error { return nil }}),
		Hub:     hub,
		Limiter: middleware.NewRateLimiter(middleware.NewMemoryCounter(nil), nil),
		Limits:  opts.limits,
	})

	ta := &testApp{app: app, jobs: jobs, storage: storage, hub: hub}
	t.Cleanup(func() {
		_ = app.Shutdown()
		pool.Stop()
		cancel()
		<-hubDone
	})
	return ta
}

// serve starts the app on a loopback listener for real HTTP clients.
func (ta *testApp) serve(t *testing.T) string {
	t.Helper()
	if ta.baseURL != "" {
		return ta.baseURL
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go func() { _ = ta.app.Listener(ln) }()
	ta.baseURL = "http://" + ln.Addr().String()
	return ta.baseURL
}

func (ta *testApp) client(t *testing.T, clientID string) *renderclient.Client {
	return renderclient.New(ta.serve(t), renderclient.WithClientID(clientID))
}

// fastPoll keeps the polling contract but shrinks its delays for tests.
func fastPoll() renderclient.PollConfig {
	cfg := renderclient.DefaultPollConfig()
	cfg.MinDelay = 10 * time.Millisecond
	cfg.MaxDelay = 80 * time.Millisecond
	return cfg
}

// waitTerminal polls jobID until it finishes.
func waitTerminal(t *testing.T, rc *renderclient.Client, jobID string) *renderclient.Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	st, err := renderclient.NewPoller(rc, fastPoll()).Run(ctx, jobID, nil)
	if err != nil {
		t.Fatalf("polling %s failed: %v", jobID, err)
	}
	return st
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
