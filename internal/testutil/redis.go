// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// SetupTestRedis connects to the Redis named by TEST_REDIS_ADDR and flushes
// the selected database before and after the test. The test is skipped when
// no Redis is reachable, unless TEST_REQUIRE_REDIS=1.
func SetupTestRedis(t testing.TB) *redis.Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		skipOrFail(t, "Redis not available for testing (TEST_REDIS_ADDR unset)")
	}

	db := 15
	if v, err := strconv.Atoi(os.Getenv("TEST_REDIS_DB")); err == nil {
		db = v
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		skipOrFail(t, "Redis not available for testing at "+addr+": "+err.Error())
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush test redis: %v", err)
	}

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		if err := client.Close(); err != nil {
			t.Logf("warning: failed to close redis client: %v", err)
		}
	})
	return client
}

func skipOrFail(t testing.TB, msg string) {
	t.Helper()
	if os.Getenv("TEST_REQUIRE_REDIS") == "1" {
		t.Fatal(msg)
	}
	t.Skip(msg)
}
