package capacity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	cferrors "github.com/vnykmshr/capflow/pkg/common/errors"
	"github.com/vnykmshr/capflow/pkg/common/validation"
)

// RedisWindowConfig configures a Window shared through Redis.
type RedisWindowConfig struct {
	// Client is the Redis connection. Required.
	Client redis.UniversalClient

	// Key prefixes the keys used by this window. Required.
	Key string

	// Max is the per-interval budget shared by every process using Key.
	Max int

	// Timeout bounds each Redis round trip. Defaults to 500ms.
	Timeout time.Duration

	// TTL expires idle keys. Zero keeps them forever.
	TTL time.Duration
}

// RedisWindowStats is the shared bookkeeping kept next to the counter.
type RedisWindowStats struct {
	Used      int
	Max       int
	Requested int64
	Granted   int64
	Resets    int64
}

// RedisWindow is a Window whose counter lives in Redis so that several
// processes draw from the same budget.
type RedisWindow struct {
	config   RedisWindowConfig
	usedKey  string
	statsKey string
	reserve  *redis.Script
}

// NewRedisWindow creates a Redis backed window and records its budget.
func NewRedisWindow(ctx context.Context, config RedisWindowConfig) (*RedisWindow, error) {
	if config.Client == nil {
		return nil, cferrors.NewValidationError("capacity", "Client", nil, "cannot be nil").
			WithHint("pass a redis.UniversalClient")
	}
	if err := validation.ValidateNotEmpty("capacity", "Key", config.Key); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositive("capacity", "Max", config.Max); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegativeDuration("capacity", "TTL", config.TTL); err != nil {
		return nil, err
	}
	if config.Timeout <= 0 {
		config.Timeout = 500 * time.Millisecond
	}

	w := &RedisWindow{
		config:   config,
		usedKey:  fmt.Sprintf("capflow:window:{%s}:used", config.Key),
		statsKey: fmt.Sprintf("capflow:window:{%s}:stats", config.Key),
		reserve:  redis.NewScript(luaReserve),
	}

	if err := w.initialize(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RedisWindow) initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	pipe := w.config.Client.Pipeline()
	pipe.SetNX(ctx, w.usedKey, 0, w.config.TTL)
	pipe.HSet(ctx, w.statsKey, "max", w.config.Max)
	if w.config.TTL > 0 {
		pipe.Expire(ctx, w.statsKey, w.config.TTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return cferrors.NewOperationError("capacity", "initialize", err).WithContext(w.config.Key)
	}
	return nil
}

// Reserve grants up to n units from the shared budget.
func (w *RedisWindow) Reserve(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	granted, err := w.reserve.Run(ctx, w.config.Client,
		[]string{w.usedKey, w.statsKey},
		n,
		w.config.Max,
		w.config.TTL.Milliseconds(),
	).Int()
	if err != nil {
		return 0, cferrors.NewOperationError("capacity", "Reserve", unavailable(err)).WithContext(w.config.Key)
	}
	return granted, nil
}

// Reset sets the shared counter back to zero.
func (w *RedisWindow) Reset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	pipe := w.config.Client.TxPipeline()
	pipe.Set(ctx, w.usedKey, 0, w.config.TTL)
	pipe.HIncrBy(ctx, w.statsKey, "resets", 1)

	if _, err := pipe.Exec(ctx); err != nil {
		return cferrors.NewOperationError("capacity", "Reset", unavailable(err)).WithContext(w.config.Key)
	}
	return nil
}

// Used returns the shared counter. A missing key counts as zero.
func (w *RedisWindow) Used(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	used, err := w.config.Client.Get(ctx, w.usedKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, cferrors.NewOperationError("capacity", "Used", unavailable(err)).WithContext(w.config.Key)
	}
	return used, nil
}

// Max returns the shared per-interval budget.
func (w *RedisWindow) Max() int {
	return w.config.Max
}

// Stats reads the counter and the request bookkeeping in one round trip.
func (w *RedisWindow) Stats(ctx context.Context) (*RedisWindowStats, error) {
	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	pipe := w.config.Client.Pipeline()
	usedCmd := pipe.Get(ctx, w.usedKey)
	statsCmd := pipe.HGetAll(ctx, w.statsKey)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, cferrors.NewOperationError("capacity", "Stats", unavailable(err)).WithContext(w.config.Key)
	}

	used, _ := strconv.Atoi(usedCmd.Val())
	fields := statsCmd.Val()
	requested, _ := strconv.ParseInt(fields["requested"], 10, 64)
	granted, _ := strconv.ParseInt(fields["granted"], 10, 64)
	resets, _ := strconv.ParseInt(fields["resets"], 10, 64)

	return &RedisWindowStats{
		Used:      used,
		Max:       w.config.Max,
		Requested: requested,
		Granted:   granted,
		Resets:    resets,
	}, nil
}

// Close removes the window's keys.
func (w *RedisWindow) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	if err := w.config.Client.Del(ctx, w.usedKey, w.statsKey).Err(); err != nil {
		return cferrors.NewOperationError("capacity", "Close", err).WithContext(w.config.Key)
	}
	return nil
}

const luaReserve = `
-- KEYS[1]: used counter
-- KEYS[2]: stats hash
-- ARGV[1]: units requested
-- ARGV[2]: max units per window
-- ARGV[3]: key TTL in milliseconds (0 keeps the key)

local requested = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local granted = max - used
if granted > requested then
    granted = requested
end
if granted < 0 then
    granted = 0
end

if granted > 0 then
    redis.call('INCRBY', KEYS[1], granted)
end
if ttl > 0 then
    redis.call('PEXPIRE', KEYS[1], ttl)
end

redis.call('HINCRBY', KEYS[2], 'requested', requested)
redis.call('HINCRBY', KEYS[2], 'granted', granted)

return granted
`

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", cferrors.ErrWindowUnavailable, err)
}
