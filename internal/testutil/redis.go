package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAddr returns CAPFLOW_TEST_REDIS or localhost:6379.
func RedisAddr() string {
	if addr := os.Getenv("CAPFLOW_TEST_REDIS"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// RedisClient returns a client for RedisAddr or skips the test when no
// server answers. The client is closed on cleanup.
func RedisClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := RedisAddr()
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}
