package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrRedisUnavailable  = errors.New("redis unavailable")
)

type Scope string

const (
	ScopeIP       Scope = "ip"
	ScopeOperator Scope = "operator"
)

type Decision struct {
	Scope      Scope
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter int // seconds
	Allowed    bool
}

type LimitConfig struct {
	Rate   int           `yaml:"rate" json:"rate"`
	Window time.Duration `yaml:"window" json:"window"`
}

func (c LimitConfig) Enabled() bool { return c.Rate > 0 && c.Window > 0 }

// Checker decides whether one more request under key fits in config.
type Checker interface {
	CheckRateLimit(ctx context.Context, key string, config LimitConfig) (*Decision, error)
}

// INCR then set the window expiry on the first hit; returns count and remaining TTL.
var windowScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if tonumber(current) == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return {current, redis.call("PTTL", KEYS[1])}
`)

// Limiter is a fixed-window counter shared across instances through Redis.
type Limiter struct {
	client *redis.Client
	salt   string
	now    func() time.Time
}

func NewLimiter(client *redis.Client, salt string) *Limiter {
	return &Limiter{client: client, salt: salt, now: time.Now}
}

// HashIP keeps raw client addresses out of Redis keys.
func (l *Limiter) HashIP(ip string) string {
	hash := sha256.Sum256([]byte(ip + l.salt))
	return hex.EncodeToString(hash[:])
}

func (l *Limiter) CheckRateLimit(ctx context.Context, key string, config LimitConfig) (*Decision, error) {
	res, err := windowScript.Run(ctx, l.client, []string{key}, config.Window.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		return nil, ErrRedisUnavailable
	}
	count, ttlMs := int(res[0]), res[1]
	if ttlMs < 0 {
		ttlMs = config.Window.Milliseconds()
	}
	ttl := time.Duration(ttlMs) * time.Millisecond

	remaining := config.Rate - count
	if remaining < 0 {
		remaining = 0
	}
	return &Decision{
		Limit:      config.Rate,
		Remaining:  remaining,
		Reset:      l.now().Add(ttl),
		RetryAfter: int(math.Ceil(ttl.Seconds())),
		Allowed:    count <= config.Rate,
	}, nil
}

// LocalLimiter is an in-process token bucket per key. It keeps a single
// instance protected when Redis is not configured or not reachable.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets *lru.Cache[string, *rate.Limiter]
}

func NewLocalLimiter(maxKeys int) *LocalLimiter {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	cache, _ := lru.New[string, *rate.Limiter](maxKeys)
	return &LocalLimiter{buckets: cache}
}

func (l *LocalLimiter) CheckRateLimit(_ context.Context, key string, config LimitConfig) (*Decision, error) {
	if !config.Enabled() {
		return &Decision{Allowed: true}, nil
	}

	l.mu.Lock()
	b, ok := l.buckets.Get(key)
	if !ok {
		b = rate.NewLimiter(rate.Every(config.Window/time.Duration(config.Rate)), config.Rate)
		l.buckets.Add(key, b)
	}
	l.mu.Unlock()

	now := time.Now()
	r := b.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	allowed := r.OK() && delay == 0
	if !allowed {
		r.CancelAt(now)
	}

	remaining := int(b.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return &Decision{
		Limit:      config.Rate,
		Remaining:  remaining,
		Reset:      now.Add(delay),
		RetryAfter: int(math.Ceil(delay.Seconds())),
		Allowed:    allowed,
	}, nil
}

// Fallback asks primary first and falls through to secondary when primary
// reports ErrRedisUnavailable.
type Fallback struct {
	Primary   Checker
	Secondary Checker
	OnFailure func(err error)
}

func (f *Fallback) CheckRateLimit(ctx context.Context, key string, config LimitConfig) (*Decision, error) {
	if f.Primary != nil {
		d, err := f.Primary.CheckRateLimit(ctx, key, config)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, ErrRedisUnavailable) || f.Secondary == nil {
			return nil, err
		}
		if f.OnFailure != nil {
			f.OnFailure(err)
		}
	}
	return f.Secondary.CheckRateLimit(ctx, key, config)
}
