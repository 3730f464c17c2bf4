package middleware

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/tokmz/courier"
)

// TimeoutConfig 超时中间件配置
type TimeoutConfig struct {
	// Timeout 请求处理时限
	Timeout time.Duration `mapstructure:"timeout"`
	// TimeoutMessage 超时响应消息
	TimeoutMessage string `mapstructure:"timeout_message"`

	SkipFunc     func(c *courier.Context) bool `mapstructure:"-"`
	ExcludePaths []string                      `mapstructure:"exclude_paths"`
}

func defaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		Timeout:        30 * time.Second,
		TimeoutMessage: ErrRequestTimeout.Message,
	}
}

// Timeout 为请求 context 设置截止时间
// handler 通过 RequestContext().Done() 感知超时；超时且尚未响应时返回 408
func Timeout(cfgs ...*TimeoutConfig) courier.HandlerFunc {
	cfg := defaultTimeoutConfig()
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}
	msg := cfg.TimeoutMessage
	if msg == "" {
		msg = ErrRequestTimeout.Message
	}

	skip := make(map[string]struct{}, len(cfg.ExcludePaths))
	for _, p := range cfg.ExcludePaths {
		skip[p] = struct{}{}
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

		ctx, cancel := context.WithTimeout(c.Request().Context(), cfg.Timeout)
		defer cancel()
		c.SetRequestContext(ctx)

		c.Next()

		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Writer().Written() {
			c.Abort()
			_ = c.Error(ErrRequestTimeout.WithMessage(msg))
		}
	}
}
