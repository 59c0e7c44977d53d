package capacity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/capflow/internal/logging"
	"github.com/vnykmshr/capflow/internal/testutil"
	"github.com/vnykmshr/capflow/pkg/batch"
	cferrors "github.com/vnykmshr/capflow/pkg/common/errors"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	return testutil.RedisClient(t)
}

func newRedisWindow(t *testing.T, max int) *RedisWindow {
	t.Helper()
	client := redisClient(t)
	ctx := context.Background()

	w, err := NewRedisWindow(ctx, RedisWindowConfig{
		Client: client,
		Key:    fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano()),
		Max:    max,
		TTL:    time.Minute,
	})
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { _ = w.Close(context.Background()) })
	return w
}

func TestRedisWindowConfigValidation(t *testing.T) {
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	tests := []struct {
		name   string
		config RedisWindowConfig
	}{
		{"nil client", RedisWindowConfig{Key: "k", Max: 1}},
		{"empty key", RedisWindowConfig{Client: client, Max: 1}},
		{"zero max", RedisWindowConfig{Client: client, Key: "k"}},
		{"negative ttl", RedisWindowConfig{Client: client, Key: "k", Max: 1, TTL: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRedisWindow(ctx, tt.config)
			testutil.AssertEqual(t, cferrors.IsValidationError(err), true)
		})
	}
}

func TestRedisWindowReserve(t *testing.T) {
	ctx := context.Background()
	w := newRedisWindow(t, 10)

	granted, err := w.Reserve(ctx, 4)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, granted, 4)

	granted, err = w.Reserve(ctx, 10)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, granted, 6)

	granted, err = w.Reserve(ctx, 1)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, granted, 0)

	used, err := w.Used(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, used, 10)

	testutil.AssertNoError(t, w.Reset(ctx))
	used, _ = w.Used(ctx)
	testutil.AssertEqual(t, used, 0)

	stats, err := w.Stats(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, stats.Requested, int64(15))
	testutil.AssertEqual(t, stats.Granted, int64(10))
	testutil.AssertEqual(t, stats.Resets, int64(1))
	testutil.AssertEqual(t, stats.Max, 10)
}

// Two resources sharing one key never grant more than the shared budget.
func TestRedisWindowShared(t *testing.T) {
	ctx := context.Background()
	w := newRedisWindow(t, 30)

	a, err := NewWithConfig(Config{Name: "a", Window: w, Logger: logging.Discard()})
	testutil.AssertNoError(t, err)
	b, err := NewWithConfig(Config{Name: "b", Window: w, Logger: logging.Discard()})
	testutil.AssertNoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 10; i++ {
		res := a
		if i%2 == 1 {
			res = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			bt := batch.New(newItems(5)...)
			err := res.PerformBatch(ctx, bt)
			if err != nil && !cferrors.IsRetryable(err) {
				t.Errorf("unexpected error: %v", err)
			}
			mu.Lock()
			granted += bt.Fulfilled()
			mu.Unlock()
		}()
	}
	wg.Wait()

	testutil.AssertEqual(t, granted, 30)
	used, _ := w.Used(ctx)
	testutil.AssertEqual(t, used, 30)
}

func TestRedisWindowUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	_, err := NewRedisWindow(context.Background(), RedisWindowConfig{Client: client, Key: "down", Max: 1})
	testutil.AssertError(t, err)

	var opErr *cferrors.OperationError
	testutil.AssertEqual(t, errors.As(err, &opErr), true)
	testutil.AssertEqual(t, opErr.Operation, "initialize")
}
