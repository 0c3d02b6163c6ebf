package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/narrately/api/internal/activity"
	"github.com/narrately/api/internal/client"
	"github.com/narrately/api/internal/config"
	"github.com/narrately/api/internal/logger"
	"github.com/narrately/api/internal/stage"
	"github.com/narrately/api/internal/synthcache"
)

// Finished jobs and their events expire after a week.
const jobRetention = 7 * 24 * time.Hour

func newActivityStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, redisUp bool) (activity.Store, func(), error) {
	noop := func() {}
	backend := strings.ToLower(cfg.Activity.Backend)
	if backend == "redis" && !redisUp {
		backend = "memory"
	}

	switch backend {
	case "redis":
		return activity.NewRedisStore(rdb, jobRetention), noop, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Activity.PostgresDSN)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		pg := activity.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, noop, err
		}
		return pg, pool.Close, nil
	case "sqlite":
		lite, err := activity.OpenSQLite(cfg.Activity.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return lite, func() { _ = lite.Close() }, nil
	case "memory", "":
		return activity.NewMemoryStore(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown activity backend %q", cfg.Activity.Backend)
	}
}

func newCacheStore(cfg *config.Config, rdb *redis.Client, redisUp bool) synthcache.Store {
	if strings.EqualFold(cfg.Cache.Backend, "redis") && redisUp {
		return synthcache.NewRedisStore(rdb, cfg.Cache.TTL)
	}
	return synthcache.NewMemoryStore(cfg.Cache.MaxEntries, cfg.Cache.TTL)
}

func newStorage(cfg *config.Config, appLog *logger.Logger) (client.StorageClient, error) {
	if strings.EqualFold(cfg.Storage.Provider, "r2") {
		r2, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			return nil, err
		}
		appLog.Info("artifact storage", "provider", "r2", "bucket", cfg.R2.BucketName)
		return r2, nil
	}
	appLog.Info("artifact storage", "provider", "local", "root", cfg.Storage.LocalRoot)
	return client.NewLocalStorage(cfg.Storage.LocalRoot, cfg.Storage.PublicURL), nil
}

// collaborators are the optional external services behind the stages. An
// unset field keeps the interface nil so the stage uses its local fallback.
type collaborators struct {
	images    client.ImageGenerator
	renderer  client.VideoRenderer
	publisher stage.Publisher
}

func newCollaborators(ctx context.Context, cfg *config.Config, appLog *logger.Logger) collaborators {
	var c collaborators

	if images := client.NewImageClient(&cfg.Images); images.IsConfigured() {
		c.images = images
	} else {
		appLog.Warn("image service not configured, scenes get placeholder images")
	}

	if renderer := client.NewRendererClient(&cfg.Renderer); renderer.IsConfigured() {
		c.renderer = renderer
	} else {
		appLog.Warn("renderer not configured, stitch writes the timeline only")
	}

	if strings.EqualFold(cfg.Publish.Provider, "gdrive") {
		drive, err := client.NewGDriveClient(ctx, &cfg.Publish)
		if err != nil {
			log.Fatalf("Failed to configure gdrive publisher: %v", err)
		}
		c.publisher = drive
	}
	return c
}
