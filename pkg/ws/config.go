package ws

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/tokmz/courier/pkg/config"
	"github.com/tokmz/courier/pkg/logger"
)

// DialContextFunc 建立 TCP 连接的函数
type DialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// ClientConfig 客户端配置
type ClientConfig struct {
	// 握手配置
	HandshakeTimeout         time.Duration `mapstructure:"handshake_timeout"`           // 握手超时时间
	MaxHandshakeResponseSize int           `mapstructure:"max_handshake_response_size"` // 握手响应读取上限
	EnableCompression        bool          `mapstructure:"enable_compression"`          // 是否声明 permessage-deflate

	// 连接配置
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`  // 读缓冲区大小
	WriteBufferSize int           `mapstructure:"write_buffer_size"` // 写缓冲区大小
	MaxMessageSize  int64         `mapstructure:"max_message_size"`  // 最大消息大小
	WriteWait       time.Duration `mapstructure:"write_wait"`        // 单次写超时

	// TLS 配置，为 nil 时使用系统根证书
	TLSConfig *tls.Config `mapstructure:"-"`
	// NetDialContext 自定义拨号，为 nil 时使用 net.Dialer
	NetDialContext DialContextFunc `mapstructure:"-"`

	Logger  logger.Logger `mapstructure:"-"`
	Metrics Metrics       `mapstructure:"-"`
}

// DefaultClientConfig 默认配置
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		HandshakeTimeout:         45 * time.Second,
		MaxHandshakeResponseSize: 8192,
		EnableCompression:        true,
		ReadBufferSize:           4096,
		WriteBufferSize:          4096,
		MaxMessageSize:           512 * 1024, // 512KB
		WriteWait:                10 * time.Second,
	}
}

// Validate 验证配置
func (c *ClientConfig) Validate() error {
	switch {
	case c.HandshakeTimeout <= 0:
		return ErrInvalidConfig.WithMessage("ws: handshake_timeout must be positive")
	case c.MaxHandshakeResponseSize <= 0:
		return ErrInvalidConfig.WithMessage("ws: max_handshake_response_size must be positive")
	case c.ReadBufferSize <= 0 || c.WriteBufferSize <= 0:
		return ErrInvalidConfig.WithMessage("ws: buffer sizes must be positive")
	case c.MaxMessageSize <= 0:
		return ErrInvalidConfig.WithMessage("ws: max_message_size must be positive")
	case c.WriteWait <= 0:
		return ErrInvalidConfig.WithMessage("ws: write_wait must be positive")
	}
	return nil
}

// ClientOption 客户端选项
type ClientOption func(*ClientConfig)

// WithHandshakeTimeout 设置握手超时
func WithHandshakeTimeout(d time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.HandshakeTimeout = d
	}
}

// WithMaxHandshakeResponseSize 设置握手响应上限
func WithMaxHandshakeResponseSize(n int) ClientOption {
	return func(c *ClientConfig) {
		c.MaxHandshakeResponseSize = n
	}
}

// WithCompression 是否声明压缩能力
func WithCompression(enabled bool) ClientOption {
	return func(c *ClientConfig) {
		c.EnableCompression = enabled
	}
}

// WithMessageSizeLimit 设置消息大小限制
func WithMessageSizeLimit(size int64) ClientOption {
	return func(c *ClientConfig) {
		c.MaxMessageSize = size
	}
}

// WithTLSConfig 设置 TLS 配置
func WithTLSConfig(cfg *tls.Config) ClientOption {
	return func(c *ClientConfig) {
		c.TLSConfig = cfg
	}
}

// WithNetDialContext 设置拨号函数
func WithNetDialContext(fn DialContextFunc) ClientOption {
	return func(c *ClientConfig) {
		c.NetDialContext = fn
	}
}

// WithLogger 设置 Logger
func WithLogger(l logger.Logger) ClientOption {
	return func(c *ClientConfig) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithMetrics 设置监控
func WithMetrics(m Metrics) ClientOption {
	return func(c *ClientConfig) {
		if m != nil {
			c.Metrics = m
		}
	}
}

// LoadClientConfig 从配置管理器读取 key 下的客户端配置，缺失项使用默认值
func LoadClientConfig(c *config.Config, key string) (*ClientConfig, error) {
	cfg, err := config.Section(c, key, *DefaultClientConfig())
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
