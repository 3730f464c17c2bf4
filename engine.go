package courier

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/courier/pkg/http1"
	"github.com/tokmz/courier/pkg/logger"
	"github.com/tokmz/courier/pkg/tracing"
)

type Engine struct {
	config *Config
	engine *gin.Engine
	logger logger.Logger

	mu        sync.Mutex
	server    *http.Server
	pipelined *http1.Server
}

// New 创建一个新的 Engine 实例，使用 Options 模式配置
func New(opts ...Option) *Engine {
	config := defaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	// gin.SetMode 是全局操作，多次调用会相互覆盖
	if gin.Mode() == gin.DebugMode || config.Mode != gin.DebugMode {
		gin.SetMode(config.Mode)
	}

	log := config.Logger
	if log == nil {
		log = logger.Nop()
	}

	ginEngine := gin.New()

	e := &Engine{
		engine: ginEngine,
		config: config,
		logger: log,
	}

	// 默认 Recovery 中间件，panic 时以统一结构响应
	ginEngine.Use(wrap(Recovery(log)))

	if config.TrustedProxies != nil {
		if err := ginEngine.SetTrustedProxies(config.TrustedProxies); err != nil {
			log.Warn("set trusted proxies failed", zap.Error(err))
		}
	}
	ginEngine.MaxMultipartMemory = config.MaxMultipartMemory

	return e
}

// Default 创建一个带有请求日志与链路追踪中间件的 Engine
func Default(opts ...Option) *Engine {
	e := New(opts...)
	e.engine.Use(tracing.Middleware(), logger.Middleware(e.logger))
	return e
}

// Use 注册全局中间件
func (e *Engine) Use(middlewares ...HandlerFunc) {
	e.engine.Use(wrapAll(nil, middlewares...)...)
}

// Group 返回路由组
func (e *Engine) Group(path string, middlewares ...HandlerFunc) *RouterGroup {
	return &RouterGroup{
		group: e.engine.Group(path, wrapAll(nil, middlewares...)...),
	}
}

// RouterGroup 返回根路由组
func (e *Engine) RouterGroup() *RouterGroup {
	return &RouterGroup{
		group: &e.engine.RouterGroup,
	}
}

// Handler 返回 net/http 形式的处理器
func (e *Engine) Handler() http.Handler {
	return e.engine
}

// Run 启动服务器，收到 SIGINT/SIGTERM 时优雅关机
func (e *Engine) Run(addr ...string) error {
	address := e.config.Server.Addr
	if len(addr) > 0 && addr[0] != "" {
		address = addr[0]
	}

	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return e.Serve(ctx, ln)
}

// Serve 在 ln 上提供服务，ctx 结束后优雅关机
// 配置了 Pipelining 时使用 http1 流水线传输
func (e *Engine) Serve(ctx context.Context, ln net.Listener) error {
	e.logger.Info("courier server starting",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("pipelining", e.config.Pipelining != nil),
	)
	if e.config.Pipelining != nil {
		return e.servePipelined(ctx, ln)
	}

	srv := &http.Server{
		Handler:        e.engine,
		ReadTimeout:    e.config.Server.ReadTimeout,
		WriteTimeout:   e.config.Server.WriteTimeout,
		IdleTimeout:    e.config.Server.IdleTimeout,
		MaxHeaderBytes: e.config.Server.MaxHeaderBytes,
	}
	e.mu.Lock()
	e.server = srv
	e.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		e.logger.Info("courier server shutting down")
	}
	return e.gracefulShutdown()
}

func (e *Engine) servePipelined(ctx context.Context, ln net.Listener) error {
	srv, err := http1.NewServer(e.config.Pipelining, e.HTTP1Handler(), http1.WithLogger(e.logger))
	if err != nil {
		_ = ln.Close()
		return err
	}
	e.mu.Lock()
	e.pipelined = srv
	e.mu.Unlock()

	var before chan struct{}
	stop := func() bool { return true }
	if fn := e.config.Shutdown.BeforeShutdown; fn != nil {
		before = make(chan struct{})
		stop = context.AfterFunc(ctx, func() {
			defer close(before)
			fn()
		})
	}
	err = srv.Serve(ctx, ln)
	// BeforeShutdown 已开始执行时等待其结束
	if !stop() {
		<-before
	}
	if ctx.Err() != nil && e.config.Shutdown.AfterShutdown != nil {
		e.config.Shutdown.AfterShutdown()
	}
	return err
}

// gracefulShutdown 执行优雅关机流程
func (e *Engine) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.Shutdown.Timeout)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		e.logger.Error("courier server forced to close", zap.Error(err))
		return err
	}
	e.logger.Info("courier server exited")
	return nil
}

// Shutdown 手动关闭服务器
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	srv, pipelined := e.server, e.pipelined
	e.mu.Unlock()

	if pipelined != nil {
		return pipelined.Shutdown(ctx)
	}
	if srv == nil {
		return nil
	}

	if e.config.Shutdown.BeforeShutdown != nil {
		e.config.Shutdown.BeforeShutdown()
	}
	err := srv.Shutdown(ctx)
	if e.config.Shutdown.AfterShutdown != nil {
		e.config.Shutdown.AfterShutdown()
	}
	return err
}
