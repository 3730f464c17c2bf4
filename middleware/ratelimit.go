package middleware

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tokmz/courier"
)

// RateLimiterConfig 限流中间件配置
type RateLimiterConfig struct {
	// RequestsPerSecond 每个 key 每秒允许的请求数
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	// Burst 突发容量，<= 0 时等于 RequestsPerSecond
	Burst int `mapstructure:"burst"`

	// KeyFunc 限流 key，默认客户端 IP
	KeyFunc func(c *courier.Context) string `mapstructure:"-"`
	// SkipFunc 返回 true 时不限流
	SkipFunc func(c *courier.Context) bool `mapstructure:"-"`
	// ExcludePaths 不限流的路径
	ExcludePaths []string `mapstructure:"exclude_paths"`

	// BucketExpiry 超过该时长未访问的 key 被清理
	BucketExpiry time.Duration `mapstructure:"bucket_expiry"`
}

func defaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		RequestsPerSecond: 100,
		Burst:             100,
		BucketExpiry:      30 * time.Minute,
	}
}

type visitor struct {
	limiter *rate.Limiter
	seen    time.Time
}

// limiterStore 按 key 保存令牌桶，访问时顺带清理过期项
type limiterStore struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	expiry   time.Duration
	swept    time.Time
}

func (s *limiterStore) allow(key string, now time.Time) bool {
	s.mu.Lock()
	if s.expiry > 0 && now.Sub(s.swept) > s.expiry {
		for k, v := range s.visitors {
			if now.Sub(v.seen) > s.expiry {
				delete(s.visitors, k)
			}
		}
		s.swept = now
	}
	v, ok := s.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.visitors[key] = v
	}
	v.seen = now
	s.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

// RateLimiter 创建令牌桶限流中间件，超限时以 429 结束请求
func RateLimiter(cfgs ...*RateLimiterConfig) courier.HandlerFunc {
	cfg := defaultRateLimiterConfig()
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *courier.Context) string {
			return c.ClientIP()
		}
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = max(int(cfg.RequestsPerSecond), 1)
	}

	skip := make(map[string]struct{}, len(cfg.ExcludePaths))
	for _, p := range cfg.ExcludePaths {
		skip[p] = struct{}{}
	}

	store := &limiterStore{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    burst,
		expiry:   cfg.BucketExpiry,
		swept:    time.Now(),
	}

	return func(c *courier.Context) {
		if cfg.SkipFunc != nil && cfg.SkipFunc(c) {
			c.Next()
			return
		}
		if _, ok := skip[c.Request().URL.Path]; ok {
			c.Next()
			return
		}

		key := cfg.KeyFunc(c)
		if !store.allow(key, time.Now()) {
			c.Logger().Warn("rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Request().URL.Path),
				zap.Float64("rate", cfg.RequestsPerSecond),
			)
			c.Abort()
			_ = c.Error(ErrTooManyRequests)
			return
		}

		c.Next()
	}
}
