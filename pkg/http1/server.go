// Package http1 是一个支持流水线的 HTTP/1.1 服务端
//
// 同一连接上的请求并发处理，响应通过 dispatch.Dispatcher 按请求顺序写出，
// 响应体以 chunked 编码流式发送。
package http1

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tokmz/courier/pkg/dispatch"
	"github.com/tokmz/courier/pkg/logger"
)

// Server 流水线 HTTP/1.1 服务
type Server struct {
	cfg       *Config
	handler   Handler
	logger    logger.Logger
	metrics   dispatch.Metrics
	connState func(remote string, state ConnState)
	sem       *semaphore.Weighted
	sinks     *dispatch.PooledSinkFactory

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
}

// NewServer 创建服务
func NewServer(cfg *Config, handler Handler, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("http1: nil handler")
	}

	s := &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger.Nop(),
		metrics: dispatch.NoopMetrics{},
		sem:     semaphore.NewWeighted(cfg.MaxConcurrentHandlers),
		sinks:   dispatch.NewPooledSinkFactory(cfg.BufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ListenAndServe 监听 cfg.Addr 并阻塞服务，直到 ctx 结束或 Shutdown
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve 在 ln 上接受连接
// ctx 结束或 Shutdown 后停止接受新连接，等待已有连接写完响应后返回
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()
	defer close(done)

	s.logger.Info("http1 server listening", zap.String("addr", ln.Addr().String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		for {
			nc, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					cancel()
					return nil
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					continue
				}
				cancel()
				return err
			}
			g.Go(func() error {
				s.ServeConn(gctx, nc)
				return nil
			})
		}
	})

	err := g.Wait()
	s.logger.Info("http1 server stopped", zap.String("addr", ln.Addr().String()))
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// ServeConn 服务单个已建立的连接，连接关闭后返回
func (s *Server) ServeConn(ctx context.Context, nc net.Conn) {
	newConn(s, nc).serve(ctx)
}

// Addr 返回监听地址，未开始监听时返回 nil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown 停止接受新连接并等待在途响应写完
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
