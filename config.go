package courier

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/courier/pkg/config"
	"github.com/tokmz/courier/pkg/http1"
	"github.com/tokmz/courier/pkg/logger"
)

// ServerConfig 服务器配置
type ServerConfig struct {
	// Addr 监听地址，默认 ":8080"
	Addr string `mapstructure:"addr"`

	// ReadTimeout 读取超时
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout 写入超时
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout 空闲超时
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// MaxHeaderBytes 最大请求头字节数
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`
}

// ShutdownConfig 关机配置
type ShutdownConfig struct {
	// Timeout 关机超时时间，默认 10 秒
	Timeout time.Duration `mapstructure:"timeout"`

	// BeforeShutdown 关机前回调
	BeforeShutdown func() `mapstructure:"-"`

	// AfterShutdown 关机后回调
	AfterShutdown func() `mapstructure:"-"`
}

// Config 应用配置
type Config struct {
	// Mode 运行模式：debug, release, test
	Mode string `mapstructure:"mode"`

	// Server 服务器配置
	Server ServerConfig `mapstructure:"server"`

	// Shutdown 关机配置
	Shutdown ShutdownConfig `mapstructure:"shutdown"`

	// TrustedProxies 信任的代理 IP
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	// MaxMultipartMemory 最大 multipart 内存（字节）
	MaxMultipartMemory int64 `mapstructure:"max_multipart_memory"`

	// Pipelining 非 nil 时使用 http1 流水线传输代替 net/http
	Pipelining *http1.Config `mapstructure:"pipelining"`

	// Logger 日志实例，nil 时不输出
	Logger logger.Logger `mapstructure:"-"`
}

// Option 配置选项函数
type Option func(*Config)

// defaultConfig 返回默认配置
func defaultConfig() *Config {
	return &Config{
		Mode: gin.DebugMode,
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20, // 1MB
		},
		Shutdown: ShutdownConfig{
			Timeout: 10 * time.Second,
		},
		MaxMultipartMemory: 32 << 20, // 32MB
	}
}

// LoadConfig 从配置管理器读取 key 下的应用配置，返回可直接传给 New 的选项
func LoadConfig(c *config.Config, key string) (Option, error) {
	cfg, err := config.Section(c, key, *defaultConfig())
	if err != nil {
		return nil, err
	}
	if cfg.Pipelining != nil {
		sub := "pipelining"
		if key != "" {
			sub = key + "." + sub
		}
		p, err := http1.LoadConfig(c, sub)
		if err != nil {
			return nil, err
		}
		cfg.Pipelining = p
	}
	return func(dst *Config) {
		l := dst.Logger
		*dst = cfg
		if dst.Logger == nil {
			dst.Logger = l
		}
	}, nil
}

// WithMode 设置运行模式
func WithMode(mode string) Option {
	return func(c *Config) {
		c.Mode = mode
	}
}

// WithAddr 设置监听地址
func WithAddr(addr string) Option {
	return func(c *Config) {
		c.Server.Addr = addr
	}
}

// WithReadTimeout 设置读取超时
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Server.ReadTimeout = timeout
	}
}

// WithWriteTimeout 设置写入超时
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Server.WriteTimeout = timeout
	}
}

// WithIdleTimeout 设置空闲超时
func WithIdleTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Server.IdleTimeout = timeout
	}
}

// WithShutdownTimeout 设置关机超时时间
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Shutdown.Timeout = timeout
	}
}

// WithBeforeShutdown 设置关机前回调
func WithBeforeShutdown(fn func()) Option {
	return func(c *Config) {
		c.Shutdown.BeforeShutdown = fn
	}
}

// WithAfterShutdown 设置关机后回调
func WithAfterShutdown(fn func()) Option {
	return func(c *Config) {
		c.Shutdown.AfterShutdown = fn
	}
}

// WithTrustedProxies 设置信任的代理
func WithTrustedProxies(proxies ...string) Option {
	return func(c *Config) {
		c.TrustedProxies = proxies
	}
}

// WithMaxMultipartMemory 设置最大 multipart 内存
func WithMaxMultipartMemory(size int64) Option {
	return func(c *Config) {
		c.MaxMultipartMemory = size
	}
}

// WithPipelining 使用 http1 流水线传输，cfg 为 nil 时使用默认配置
func WithPipelining(cfg *http1.Config) Option {
	return func(c *Config) {
		if cfg == nil {
			cfg = http1.DefaultConfig()
		}
		c.Pipelining = cfg
	}
}

// WithLogger 设置日志实例
func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
