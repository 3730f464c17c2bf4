package http1

import (
	"time"

	"github.com/tokmz/courier/pkg/config"
	"github.com/tokmz/courier/pkg/errors"
)

// Config 服务配置
type Config struct {
	Addr string `mapstructure:"addr"`

	// ReadTimeout 读取单个请求（头部 + 消息体）的超时，0 表示不限制
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout 写出单个响应的超时，0 表示不限制
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// IdleTimeout 连接上没有请求时的最长等待时间，0 表示使用 ReadTimeout
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// MaxBodyBytes 请求体上限，超出时返回 413 并关闭连接
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
	// MaxPipelineDepth 单个连接上未写完响应的请求数上限，达到后暂停读取
	MaxPipelineDepth int `mapstructure:"max_pipeline_depth"`
	// MaxConcurrentHandlers 全局并发处理器上限
	MaxConcurrentHandlers int64 `mapstructure:"max_concurrent_handlers"`

	// BufferSize 读写缓冲区大小
	BufferSize int `mapstructure:"buffer_size"`
	// ShutdownTimeout 优雅关闭等待时间
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Addr:                  ":8080",
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           120 * time.Second,
		MaxBodyBytes:          10 << 20,
		MaxPipelineDepth:      16,
		MaxConcurrentHandlers: 1024,
		BufferSize:            4096,
		ShutdownTimeout:       10 * time.Second,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch {
	case c.MaxBodyBytes <= 0:
		return errors.ErrValidation.WithMessage("http1: max_body_bytes must be positive")
	case c.MaxPipelineDepth <= 0:
		return errors.ErrValidation.WithMessage("http1: max_pipeline_depth must be positive")
	case c.MaxConcurrentHandlers <= 0:
		return errors.ErrValidation.WithMessage("http1: max_concurrent_handlers must be positive")
	case c.BufferSize <= 0:
		return errors.ErrValidation.WithMessage("http1: buffer_size must be positive")
	case c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0:
		return errors.ErrValidation.WithMessage("http1: timeouts must not be negative")
	}
	return nil
}

// LoadConfig 从配置管理器读取 key 下的服务配置，缺失项使用默认值
func LoadConfig(c *config.Config, key string) (*Config, error) {
	cfg, err := config.Section(c, key, *DefaultConfig())
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
