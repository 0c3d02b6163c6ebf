package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/narrately/api/internal/activity"
	"github.com/narrately/api/internal/client"
	"github.com/narrately/api/internal/config"
	"github.com/narrately/api/internal/handler"
	"github.com/narrately/api/internal/logger"
	"github.com/narrately/api/internal/middleware"
	"github.com/narrately/api/internal/orchestrator"
	"github.com/narrately/api/internal/pacing"
	"github.com/narrately/api/internal/service"
	"github.com/narrately/api/internal/stage"
	"github.com/narrately/api/internal/store"
	"github.com/narrately/api/internal/synthcache"
	"github.com/narrately/api/internal/tts"
	"github.com/narrately/api/internal/worker"
	ws "github.com/narrately/api/internal/websocket"
)

func main() {
	// Optional .env for local runs
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLog := logger.New(logger.Config{
		Level:       cfg.Server.LogLevel,
		Format:      cfg.Server.LogFormat,
		ServiceName: "narrately-api",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Test Redis connection
	redisUp := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisUp = false
		appLog.Warn("redis not available, falling back to in-process stores", "error", err.Error())
	}

	// Initialize WebSocket hub
	hub := ws.NewHub(appLog)
	go hub.Run(ctx)

	// Job store
	var jobBackend store.Backend = store.NewMemoryBackend()
	if redisUp {
		jobBackend = store.NewRedisBackend(redisClient, jobRetention)
	}
	jobs := store.New(jobBackend, nil)

	// Activity log
	eventStore, closeEvents, err := newActivityStore(ctx, cfg, redisClient, redisUp)
	if err != nil {
		log.Fatalf("Failed to open activity store: %v", err)
	}
	defer closeEvents()
	events := activity.NewLog(eventStore, appLog, activity.WithBroadcaster(hub))

	// Synthesis stack
	provider, selection, err := tts.NewFromConfig(&cfg.TTS, cfg.Audio.SampleRate, cfg.Audio.StrictMode, appLog)
	if err != nil {
		log.Fatalf("Failed to configure tts: %v", err)
	}
	appLog.Info("tts providers selected", "chain", strings.Join(variantNames(selection), ","))
	cache := synthcache.New(newCacheStore(cfg, redisClient, redisUp), appLog)
	engine := pacing.New(cfg.Audio.SampleRate)

	// Artifact storage and stage collaborators
	storage, err := newStorage(cfg, appLog)
	if err != nil {
		log.Fatalf("Failed to configure storage: %v", err)
	}
	collab := newCollaborators(ctx, cfg, appLog)

	audio := orchestrator.NewAudioStage(provider, cache, engine, storage, events, orchestrator.AudioOptions{
		Strict:       cfg.Audio.StrictMode,
		Tolerance:    cfg.Audio.PacingTolerance,
		DefaultVoice: cfg.TTS.DefaultVoice,
		DefaultLang:  cfg.TTS.DefaultLang,
		Parallelism:  cfg.Worker.SceneParallelism,
	}, appLog)
	orch := orchestrator.New(jobs, events, storage, orchestrator.Options{
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		LeaseDuration:     cfg.Worker.LeaseDuration,
	}, appLog,
		stage.NewScriptStage(storage, stage.Defaults{Language: cfg.TTS.DefaultLang, VoiceID: cfg.TTS.DefaultVoice}),
		audio,
		stage.NewImagesStage(collab.images, storage),
		stage.NewSubtitlesStage(storage),
		stage.NewStitchStage(collab.renderer, storage, engine),
		stage.NewPublishStage(collab.publisher, storage),
	)

	// Dispatch through asynq when Redis is up, otherwise run jobs in-process
	var dispatcher orchestrator.Dispatcher
	workerDone := make(chan struct{})
	if redisUp {
		asynqClient := asynq.NewClient(redisOpt(cfg))
		defer asynqClient.Close()
		dispatcher = orchestrator.NewAsynqDispatcher(asynqClient, cfg.Worker.Queue)

		go func() {
			defer close(workerDone)
			startWorkerServer(ctx, cfg, orch, appLog)
		}()
	} else {
		pool := orchestrator.NewPoolDispatcher(orch, worker.NewWorkerID(), cfg.Worker.Concurrency, 4*cfg.Worker.Concurrency, appLog)
		pool.Start(ctx)
		dispatcher = pool
		go func() {
			defer close(workerDone)
			<-ctx.Done()
			pool.Stop()
		}()
	}

	// Initialize services
	jobService := service.NewJobService(jobs, dispatcher, events, appLog)
	previewService := service.NewPreviewService(provider, cache, storage, events, service.PreviewDefaults{
		VoiceID: cfg.TTS.DefaultVoice,
		Lang:    cfg.TTS.DefaultLang,
	}, appLog)

	// Initialize handlers
	validate := handler.NewValidator()
	probes := map[string]handler.Probe{
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}
	if ttsClient := client.NewTTSClient(&cfg.TTS); ttsClient.IsConfigured() {
		probes["tts"] = ttsClient.HealthCheck
	}

	var counter middleware.Counter = middleware.NewMemoryCounter(nil)
	if redisUp {
		counter = middleware.NewRedisCounter(redisClient)
	}
	rateLimiter := middleware.NewRateLimiter(counter, appLog)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: handler.ErrorHandler,
		BodyLimit:    4 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		appLog.Debug("debug logging enabled")
	}
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept," + middleware.HeaderClientID,
	}))

	handler.Register(app, handler.Routes{
		Jobs:    handler.NewJobHandler(jobService, validate),
		Preview: handler.NewPreviewHandler(previewService, validate),
		Health:  handler.NewHealthHandler(orch, probes),
		Hub:     hub,
		Limiter: rateLimiter,
		Limits:  cfg.RateLimit,
	})

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		appLog.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			appLog.Error("server shutdown error", "error", err.Error())
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	appLog.Info("server starting", "addr", addr, "env", cfg.Server.Env)
	if err := app.Listen(addr); err != nil {
		appLog.Error("server error", "error", err.Error())
	}

	stop()
	<-workerDone
}

func startWorkerServer(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, appLog *logger.Logger) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	renderWorker := worker.NewRenderWorker(orch, "", cfg.Worker.LeaseDuration, appLog)

	srv := asynq.NewServer(
		redisOpt(cfg),
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				cfg.Worker.Queue: 1,
			},
			LogLevel:        asynqLogLevel,
			RetryDelayFunc:  renderWorker.RetryDelay,
			ShutdownTimeout: cfg.Worker.LeaseDuration,
		},
	)

	appLog.Info("asynq worker starting", "worker_id", renderWorker.WorkerID(), "queue", cfg.Worker.Queue)

	mux := asynq.NewServeMux()
	mux.HandleFunc(orchestrator.TaskTypeRender, renderWorker.ProcessTask)

	if err := srv.Start(mux); err != nil {
		appLog.Error("asynq worker error", "error", err.Error())
		return
	}
	<-ctx.Done()
	srv.Shutdown()
}

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

func variantNames(sel tts.Selection) []string {
	var out []string
	for _, v := range sel.Variants() {
		out = append(out, v.String())
	}
	return out
}
