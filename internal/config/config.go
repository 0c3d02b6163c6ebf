package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Storage   StorageConfig
	R2        R2Config
	TTS       TTSConfig
	Audio     AudioConfig
	Cache     CacheConfig
	Activity  ActivityConfig
	Worker    WorkerConfig
	Images    ServiceConfig
	Renderer  ServiceConfig
	Publish   PublishConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// StorageConfig selects where artifacts are written: "r2" or "local".
type StorageConfig struct {
	Provider  string
	LocalRoot string
	PublicURL string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// TTSConfig selects the synthesis provider: "auto", "network" or "offline".
type TTSConfig struct {
	Provider     string
	BaseURL      string
	APIKey       string
	DefaultVoice string
	DefaultLang  string
	Timeout      time.Duration
	MaxAttempts  int
}

type AudioConfig struct {
	SampleRate      int
	PacingTolerance float64 // relative to the target duration
	StrictMode      bool
}

// CacheConfig selects the synthesis cache backend: "memory" or "redis".
type CacheConfig struct {
	Backend    string
	MaxEntries int
	TTL        time.Duration
}

// ActivityConfig selects the event store: "memory", "redis", "postgres" or "sqlite".
type ActivityConfig struct {
	Backend     string
	PostgresDSN string
	SQLitePath  string
}

type WorkerConfig struct {
	Concurrency       int
	Queue             string
	HeartbeatInterval time.Duration
	LeaseDuration     time.Duration
	SceneParallelism  int
}

type ServiceConfig struct {
	ServiceURL string
	Timeout    time.Duration
}

// PublishConfig selects the publisher: "none" or "gdrive".
type PublishConfig struct {
	Provider           string
	GDriveClientID     string
	GDriveClientSecret string
	GDriveRefreshToken string
	GDriveFolderID     string
}

type RateLimitConfig struct {
	StatusPerMin   int
	SubmitPerHour  int
	PreviewPerMin  int
	ActivityPerMin int
}

// IsProduction reports whether the server runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("TTS_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ACTIVITY_POSTGRES_DSN")
	readSecret("GDRIVE_CLIENT_SECRET")
	readSecret("GDRIVE_REFRESH_TOKEN")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	bindings := map[string]string{
		"server.port":                  "SERVER_PORT",
		"server.env":                   "SERVER_ENV",
		"server.log_level":             "LOG_LEVEL",
		"server.log_format":            "LOG_FORMAT",
		"redis.addr":                   "REDIS_ADDR",
		"redis.password":               "REDIS_PASSWORD",
		"redis.db":                     "REDIS_DB",
		"storage.provider":             "STORAGE_PROVIDER",
		"storage.local_root":           "STORAGE_LOCAL_ROOT",
		"storage.public_url":           "STORAGE_PUBLIC_URL",
		"r2.account_id":                "R2_ACCOUNT_ID",
		"r2.access_key_id":             "R2_ACCESS_KEY_ID",
		"r2.secret_access_key":         "R2_SECRET_ACCESS_KEY",
		"r2.bucket_name":               "R2_BUCKET_NAME",
		"r2.public_url":                "R2_PUBLIC_URL",
		"tts.provider":                 "TTS_PROVIDER",
		"tts.base_url":                 "TTS_BASE_URL",
		"tts.api_key":                  "TTS_API_KEY",
		"tts.default_voice":            "TTS_DEFAULT_VOICE",
		"tts.default_lang":             "TTS_DEFAULT_LANG",
		"tts.timeout":                  "TTS_TIMEOUT",
		"tts.max_attempts":             "TTS_MAX_ATTEMPTS",
		"audio.sample_rate":            "AUDIO_SAMPLE_RATE",
		"audio.pacing_tolerance":       "AUDIO_PACING_TOLERANCE",
		"audio.strict_mode":            "AUDIO_STRICT_MODE",
		"cache.backend":                "CACHE_BACKEND",
		"cache.max_entries":            "CACHE_MAX_ENTRIES",
		"cache.ttl":                    "CACHE_TTL",
		"activity.backend":             "ACTIVITY_BACKEND",
		"activity.postgres_dsn":        "ACTIVITY_POSTGRES_DSN",
		"activity.sqlite_path":         "ACTIVITY_SQLITE_PATH",
		"worker.concurrency":           "WORKER_CONCURRENCY",
		"worker.queue":                 "WORKER_QUEUE",
		"worker.heartbeat_interval":    "WORKER_HEARTBEAT_INTERVAL",
		"worker.lease_duration":        "WORKER_LEASE_DURATION",
		"worker.scene_parallelism":     "WORKER_SCENE_PARALLELISM",
		"images.service_url":           "IMAGES_SERVICE_URL",
		"images.timeout":               "IMAGES_TIMEOUT",
		"renderer.service_url":         "RENDERER_SERVICE_URL",
		"renderer.timeout":             "RENDERER_TIMEOUT",
		"publish.provider":             "PUBLISH_PROVIDER",
		"publish.gdrive_client_id":     "GDRIVE_CLIENT_ID",
		"publish.gdrive_client_secret": "GDRIVE_CLIENT_SECRET",
		"publish.gdrive_refresh_token": "GDRIVE_REFRESH_TOKEN",
		"publish.gdrive_folder_id":     "GDRIVE_FOLDER_ID",
		"ratelimit.status_per_min":     "RATELIMIT_STATUS_PER_MIN",
		"ratelimit.submit_per_hour":    "RATELIMIT_SUBMIT_PER_HOUR",
		"ratelimit.preview_per_min":    "RATELIMIT_PREVIEW_PER_MIN",
		"ratelimit.activity_per_min":   "RATELIMIT_ACTIVITY_PER_MIN",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}

	setDefaults(v)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			LogFormat: v.GetString("server.log_format"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Storage: StorageConfig{
			Provider:  v.GetString("storage.provider"),
			LocalRoot: v.GetString("storage.local_root"),
			PublicURL: v.GetString("storage.public_url"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		TTS: TTSConfig{
			Provider:     strings.ToLower(v.GetString("tts.provider")),
			BaseURL:      v.GetString("tts.base_url"),
			APIKey:       v.GetString("tts.api_key"),
			DefaultVoice: v.GetString("tts.default_voice"),
			DefaultLang:  v.GetString("tts.default_lang"),
			Timeout:      v.GetDuration("tts.timeout"),
			MaxAttempts:  v.GetInt("tts.max_attempts"),
		},
		Audio: AudioConfig{
			SampleRate:      v.GetInt("audio.sample_rate"),
			PacingTolerance: v.GetFloat64("audio.pacing_tolerance"),
			StrictMode:      v.GetBool("audio.strict_mode"),
		},
		Cache: CacheConfig{
			Backend:    v.GetString("cache.backend"),
			MaxEntries: v.GetInt("cache.max_entries"),
			TTL:        v.GetDuration("cache.ttl"),
		},
		Activity: ActivityConfig{
			Backend:     v.GetString("activity.backend"),
			PostgresDSN: v.GetString("activity.postgres_dsn"),
			SQLitePath:  v.GetString("activity.sqlite_path"),
		},
		Worker: WorkerConfig{
			Concurrency:       v.GetInt("worker.concurrency"),
			Queue:             v.GetString("worker.queue"),
			HeartbeatInterval: v.GetDuration("worker.heartbeat_interval"),
			LeaseDuration:     v.GetDuration("worker.lease_duration"),
			SceneParallelism:  v.GetInt("worker.scene_parallelism"),
		},
		Images: ServiceConfig{
			ServiceURL: v.GetString("images.service_url"),
			Timeout:    v.GetDuration("images.timeout"),
		},
		Renderer: ServiceConfig{
			ServiceURL: v.GetString("renderer.service_url"),
			Timeout:    v.GetDuration("renderer.timeout"),
		},
		Publish: PublishConfig{
			Provider:           v.GetString("publish.provider"),
			GDriveClientID:     v.GetString("publish.gdrive_client_id"),
			GDriveClientSecret: v.GetString("publish.gdrive_client_secret"),
			GDriveRefreshToken: v.GetString("publish.gdrive_refresh_token"),
			GDriveFolderID:     v.GetString("publish.gdrive_folder_id"),
		},
		RateLimit: RateLimitConfig{
			StatusPerMin:   v.GetInt("ratelimit.status_per_min"),
			SubmitPerHour:  v.GetInt("ratelimit.submit_per_hour"),
			PreviewPerMin:  v.GetInt("ratelimit.preview_per_min"),
			ActivityPerMin: v.GetInt("ratelimit.activity_per_min"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Storage defaults
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.local_root", "./data/artifacts")
	v.SetDefault("storage.public_url", "http://localhost:8000/artifacts")

	// Synthesis defaults
	v.SetDefault("tts.provider", "auto")
	v.SetDefault("tts.default_voice", "narrator-1")
	v.SetDefault("tts.default_lang", "en-US")
	v.SetDefault("tts.timeout", "20s")
	v.SetDefault("tts.max_attempts", 3)
	v.SetDefault("audio.sample_rate", 24000)
	v.SetDefault("audio.pacing_tolerance", 0.05)
	v.SetDefault("audio.strict_mode", false)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.max_entries", 2048)
	v.SetDefault("cache.ttl", "168h")

	v.SetDefault("activity.backend", "redis")
	v.SetDefault("activity.sqlite_path", "./data/activity.db")

	// Worker defaults
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue", "render")
	v.SetDefault("worker.heartbeat_interval", "10s")
	v.SetDefault("worker.lease_duration", "30s")
	v.SetDefault("worker.scene_parallelism", 4)

	v.SetDefault("images.timeout", "60s")
	v.SetDefault("renderer.timeout", "300s")
	v.SetDefault("publish.provider", "none")

	v.SetDefault("ratelimit.status_per_min", 120)
	v.SetDefault("ratelimit.submit_per_hour", 20)
	v.SetDefault("ratelimit.preview_per_min", 10)
	v.SetDefault("ratelimit.activity_per_min", 60)
}
