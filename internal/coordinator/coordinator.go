// Package coordinator implements the Distributed Coordinator: atomic
// claim locks with TTL, a client-session registry, and pub/sub for
// cross-replica broadcast — backed by Redis, with a single-replica
// fallback when Redis is unreachable.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/forestshield/core/internal/domain"
	"github.com/forestshield/core/internal/metrics"
)

// refreshScript extends a key's TTL only if it is still held by token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes a key only if it is still held by token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Coordinator is a Redis-backed domain.Coordinator with graceful
// degradation to single-replica mode when Redis is unreachable.
type Coordinator struct {
	rdb   *redis.Client
	log   *zap.Logger
	token string

	mu          sync.Mutex
	degraded    bool
	localClaims map[string]time.Time
}

// New connects to Redis at addr. If the initial ping fails, the
// Coordinator starts in degraded (single-replica) mode and logs a
// warning rather than failing construction — per spec §4.3, DC
// connectivity is optional.
func New(ctx context.Context, addr string, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	c := &Coordinator{
		rdb:         rdb,
		log:         log.Named("coordinator"),
		token:       uuid.NewString(),
		localClaims: make(map[string]time.Time),
	}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		c.log.Warn("redis unreachable at startup, degrading to single-replica mode", zap.Error(err))
		c.degraded = true
	}
	metrics.CoordinatorDegraded.Set(boolToFloat(c.degraded))
	return c
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// Degraded reports whether the coordinator is currently operating in
// single-replica fallback mode.
func (c *Coordinator) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

func (c *Coordinator) setDegraded(v bool) {
	c.mu.Lock()
	was := c.degraded
	c.degraded = v
	c.mu.Unlock()
	if v && !was {
		c.log.Warn("redis operation failed, degrading to single-replica mode")
	}
	if !v && was {
		c.log.Info("redis reachable again, leaving single-replica mode")
	}
	if v != was {
		metrics.CoordinatorDegraded.Set(boolToFloat(v))
	}
}

// Claim is an atomic set-if-absent-with-expiry. In degraded mode every
// claim succeeds locally — the documented single-replica fallback.
func (c *Coordinator) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if c.Degraded() {
		return c.localClaim(key, ttl), nil
	}
	ok, err := c.rdb.SetNX(ctx, key, c.token, ttl).Result()
	if err != nil {
		c.setDegraded(true)
		return c.localClaim(key, ttl), nil
	}
	return ok, nil
}

func (c *Coordinator) localClaim(key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if exp, ok := c.localClaims[key]; ok && time.Now().Before(exp) {
		return false
	}
	c.localClaims[key] = time.Now().Add(ttl)
	return true
}

// Refresh extends ttl only if this instance still owns key.
func (c *Coordinator) Refresh(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if c.Degraded() {
		return c.localClaim(key, ttl) || c.localRefresh(key, ttl), nil
	}
	res, err := refreshScript.Run(ctx, c.rdb, []string{key}, c.token, ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.setDegraded(true)
		return c.localRefresh(key, ttl), nil
	}
	return res == 1, nil
}

func (c *Coordinator) localRefresh(key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.localClaims[key]; !ok {
		return false
	}
	c.localClaims[key] = time.Now().Add(ttl)
	return true
}

// Release is unconditional from the caller's perspective but only
// removes the key if this instance still owns it.
func (c *Coordinator) Release(ctx context.Context, key string) error {
	if c.Degraded() {
		c.mu.Lock()
		delete(c.localClaims, key)
		c.mu.Unlock()
		return nil
	}
	_, err := releaseScript.Run(ctx, c.rdb, []string{key}, c.token).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.setDegraded(true)
		c.mu.Lock()
		delete(c.localClaims, key)
		c.mu.Unlock()
	}
	return nil
}

// ─── Client-session registry ───────────────────────────────────────────

func clientKey(clientID string) string { return "client:" + clientID }

func (c *Coordinator) SetClient(ctx context.Context, clientID string, info []byte, ttl time.Duration) error {
	if c.Degraded() {
		return nil // session registry has no meaningful single-replica analog to persist
	}
	if err := c.rdb.Set(ctx, clientKey(clientID), info, ttl).Err(); err != nil {
		c.setDegraded(true)
		return nil
	}
	return nil
}

func (c *Coordinator) GetClient(ctx context.Context, clientID string) ([]byte, bool, error) {
	if c.Degraded() {
		return nil, false, nil
	}
	b, err := c.rdb.Get(ctx, clientKey(clientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		c.setDegraded(true)
		return nil, false, nil
	}
	return b, true, nil
}

func (c *Coordinator) RemoveClient(ctx context.Context, clientID string) error {
	if c.Degraded() {
		return nil
	}
	return c.rdb.Del(ctx, clientKey(clientID)).Err()
}

// ─── Pub/sub ────────────────────────────────────────────────────────────

func (c *Coordinator) Publish(ctx context.Context, channel string, msg []byte) error {
	if c.Degraded() {
		return nil // no cross-replica fanout possible without a broker
	}
	return c.rdb.Publish(ctx, channel, msg).Err()
}

func (c *Coordinator) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	if c.Degraded() {
		ch := make(chan []byte)
		close(ch)
		return ch, func() {}, nil
	}
	sub := c.rdb.Subscribe(ctx, channel)
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			out <- []byte(msg.Payload)
		}
	}()
	return out, func() { sub.Close() }, nil
}

// Health reports connectivity and round-trip latency to Redis.
func (c *Coordinator) Health(ctx context.Context) (bool, time.Duration) {
	start := time.Now()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.setDegraded(true)
		return false, 0
	}
	c.setDegraded(false)
	return true, time.Since(start)
}

func (c *Coordinator) Close() error { return c.rdb.Close() }

var _ domain.Coordinator = (*Coordinator)(nil)
