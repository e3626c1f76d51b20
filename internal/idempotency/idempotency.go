package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/credits-gateway/pkg/logger"
	"github.com/nimasrn/credits-gateway/pkg/redis"
)

var (
	ErrAlreadyProcessed   = errors.New("payment already processed")
	ErrInProgress         = errors.New("payment is being processed")
	ErrMaxAttemptsReached = errors.New("maximum fulfilment attempts reached")
)

type Config struct {
	LockTTL      time.Duration
	ProcessedTTL time.Duration
	MaxAttempts  int
	KeyPrefix    string
}

func DefaultConfig() Config {
	return Config{
		LockTTL:      30 * time.Second,
		ProcessedTTL: 7 * 24 * time.Hour,
		MaxAttempts:  5,
		KeyPrefix:    "payment:",
	}
}

// Guard makes payment fulfilment run at most once per provider reference.
// A short lock keeps concurrent callbacks apart, a long-lived marker remembers completed ones.
type Guard struct {
	redis  redis.RedisAdapter
	config Config
}

func NewGuard(adapter redis.RedisAdapter, config Config) *Guard {
	def := DefaultConfig()
	if config.LockTTL <= 0 {
		config.LockTTL = def.LockTTL
	}
	if config.ProcessedTTL <= 0 {
		config.ProcessedTTL = def.ProcessedTTL
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = def.KeyPrefix
	}
	return &Guard{
		redis:  adapter,
		config: config,
	}
}

// Claim is held by the caller between Acquire and Complete/Fail.
type Claim struct {
	Key      string
	Attempt  int
	token    []byte
	released bool
	guard    *Guard
}

func (g *Guard) lockKey(key string) string      { return g.config.KeyPrefix + "lock:" + key }
func (g *Guard) processedKey(key string) string { return g.config.KeyPrefix + "done:" + key }
func (g *Guard) attemptsKey(key string) string  { return g.config.KeyPrefix + "attempts:" + key }

// Acquire takes the processing lock for key.
func (g *Guard) Acquire(ctx context.Context, key string) (*Claim, error) {
	exists, err := g.redis.Exist(ctx, g.processedKey(key))
	if err != nil {
		// a Redis hiccup must not block a paid order, the ledger dedupes on reference id anyway
		logger.Warn("[idempotency] processed check failed", "key", key, "error", err)
	} else if exists > 0 {
		return nil, ErrAlreadyProcessed
	}

	attempts, err := g.Attempts(ctx, key)
	if err != nil {
		logger.Warn("[idempotency] attempts lookup failed", "key", key, "error", err)
	}
	if attempts >= g.config.MaxAttempts {
		return nil, fmt.Errorf("%w: key=%s attempts=%d", ErrMaxAttemptsReached, key, attempts)
	}

	token := []byte(uuid.NewString())
	ok, err := g.redis.SetNX(ctx, g.lockKey(key), token, g.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrInProgress
	}

	logger.Debug("[idempotency] lock acquired", "key", key, "attempt", attempts+1)
	return &Claim{Key: key, Attempt: attempts + 1, token: token, guard: g}, nil
}

// Complete records the key as processed and drops the lock and attempt counter.
func (g *Guard) Complete(ctx context.Context, c *Claim) error {
	if err := g.redis.Set(ctx, g.processedKey(c.Key), []byte("1"), g.config.ProcessedTTL); err != nil {
		logger.Error("[idempotency] mark processed failed", "key", c.Key, "error", err)
		return fmt.Errorf("mark processed %s: %w", c.Key, err)
	}
	if err := g.redis.Del(ctx, g.attemptsKey(c.Key)); err != nil {
		logger.Warn("[idempotency] cleanup failed", "key", c.Key, "error", err)
	}
	g.Release(ctx, c)
	return nil
}

// Fail counts the attempt and releases the lock so a provider retry can try again.
func (g *Guard) Fail(ctx context.Context, c *Claim, reason error) {
	if _, err := g.redis.Incr(ctx, g.attemptsKey(c.Key), g.config.ProcessedTTL); err != nil {
		logger.Warn("[idempotency] attempt counter failed", "key", c.Key, "error", err)
	}
	g.Release(ctx, c)
	logger.Warn("[idempotency] fulfilment failed",
		"key", c.Key,
		"attempt", c.Attempt,
		"max_attempts", g.config.MaxAttempts,
		"reason", reason,
	)
}

// Release drops the lock without recording anything. A lock that expired and was taken by
// another caller is left alone. Safe to call more than once.
func (g *Guard) Release(ctx context.Context, c *Claim) {
	if c == nil || c.released {
		return
	}
	deleted, err := g.redis.DelIfEqual(ctx, g.lockKey(c.Key), c.token)
	if err != nil {
		logger.Warn("[idempotency] release failed", "key", c.Key, "error", err)
		return
	}
	if !deleted {
		logger.Warn("[idempotency] lock expired before release", "key", c.Key)
	}
	c.released = true
}

func (g *Guard) Attempts(ctx context.Context, key string) (int, error) {
	raw, err := g.redis.Get(ctx, g.attemptsKey(key))
	if err != nil {
		if redis.IsNil(err) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("parse attempts %q: %w", raw, err)
	}
	return n, nil
}

func (g *Guard) IsProcessed(ctx context.Context, key string) (bool, error) {
	exists, err := g.redis.Exist(ctx, g.processedKey(key))
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
