package dispatch

import (
	"github.com/tokmz/courier/pkg/body"
	"github.com/tokmz/courier/pkg/logger"
)

// Option 配置选项
type Option func(*Dispatcher)

// WithLogger 设置 Logger
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics 设置监控
func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithSerializer 设置消息体序列化器
func WithSerializer(s *body.Serializer) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.serializer = s
		}
	}
}

// WithBufferSize 传输层未提供 SinkFactory 时使用的缓冲大小
func WithBufferSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.bufferSize = size
		}
	}
}
