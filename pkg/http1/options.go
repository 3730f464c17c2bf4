package http1

import (
	"github.com/tokmz/courier/pkg/dispatch"
	"github.com/tokmz/courier/pkg/logger"
)

// Option 服务选项
type Option func(*Server)

// WithLogger 设置 Logger
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics 设置响应分发监控
func WithMetrics(m dispatch.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithConnState 设置连接状态回调
func WithConnState(fn func(remote string, state ConnState)) Option {
	return func(s *Server) {
		s.connState = fn
	}
}
