package http1

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/courier/pkg/body"
	"github.com/tokmz/courier/pkg/dispatch"
)

// ConnState 连接状态
type ConnState uint8

const (
	StateNew ConnState = iota
	StateActive
	StateIdle
	StateClosed
)

// String 返回状态名称
func (s ConnState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// conn 单个客户端连接
// 读取在 serve 所在的 goroutine 上顺序进行，写出由 Dispatcher 的写出 goroutine 完成
type conn struct {
	srv        *Server
	nc         net.Conn
	remote     string
	br         *bufio.Reader
	bw         *bufio.Writer
	dispatcher *dispatch.Dispatcher

	depth    chan struct{}
	handlers sync.WaitGroup

	broken  atomic.Bool
	failErr atomic.Value
}

func newConn(s *Server, nc net.Conn) *conn {
	c := &conn{
		srv:    s,
		nc:     nc,
		remote: nc.RemoteAddr().String(),
		br:     bufio.NewReaderSize(nc, s.cfg.BufferSize),
		bw:     bufio.NewWriterSize(nc, s.cfg.BufferSize),
		depth:  make(chan struct{}, s.cfg.MaxPipelineDepth),
	}
	c.dispatcher = dispatch.New(c,
		dispatch.WithLogger(s.logger.With(zap.String("remote", c.remote))),
		dispatch.WithMetrics(s.metrics),
		dispatch.WithBufferSize(s.cfg.BufferSize),
	)
	return c
}

// SinkFactory 实现 dispatch.SinkFactoryProvider，所有连接共享缓冲池
func (c *conn) SinkFactory() dispatch.SinkFactory {
	return c.srv.sinks
}

// Submit 实现 dispatch.Transport：写出状态行与头部，返回响应体 Sink
func (c *conn) Submit(ex *dispatch.Exchange, msg *dispatch.Message, notify dispatch.Notifier) (dispatch.Sink, error) {
	if c.broken.Load() {
		return nil, ErrConnBroken.WithError(c.cause())
	}
	if d := c.srv.cfg.WriteTimeout; d > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(d))
	}

	req := ex.Request
	f := responseFraming(req, msg)

	h := msg.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Del("Content-Length")
	h.Del("Transfer-Encoding")
	switch f {
	case framingChunked:
		h.Set("Transfer-Encoding", "chunked")
		h.Set("Trailer", BodyErrorTrailer)
	case framingNone:
		if msg.Body.Kind() == body.KindEmpty && bodyAllowed(msg.StatusCode) {
			h.Set("Content-Length", "0")
		}
	}
	if req == nil || req.Close {
		h.Set("Connection", "close")
	}

	proto := "HTTP/1.1"
	if req != nil && !req.ProtoAtLeast(1, 1) {
		proto = "HTTP/1.0"
	}

	status := msg.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	if _, err := fmt.Fprintf(c.bw, "%s %03d %s\r\n", proto, status, http.StatusText(status)); err != nil {
		c.fail(err)
		return nil, err
	}
	if err := h.Write(c.bw); err != nil {
		c.fail(err)
		return nil, err
	}
	if _, err := c.bw.WriteString("\r\n"); err != nil {
		c.fail(err)
		return nil, err
	}

	return newBodySink(c, f, notify), nil
}

func responseFraming(req *http.Request, msg *dispatch.Message) framing {
	if !bodyAllowed(msg.StatusCode) || (req != nil && req.Method == http.MethodHead) {
		return framingNone
	}
	if msg.Body.Kind() == body.KindEmpty {
		return framingNone
	}
	if req != nil && !req.ProtoAtLeast(1, 1) {
		return framingClose
	}
	return framingChunked
}

// bodyAllowed RFC 9112 6.3
func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

// fail 标记连接损坏并关闭底层连接，读循环随之退出
func (c *conn) fail(err error) {
	if c.broken.CompareAndSwap(false, true) {
		c.failErr.Store(err)
		_ = c.nc.Close()
		c.srv.logger.Warn("connection broken", zap.String("remote", c.remote), zap.Error(err))
	}
}

func (c *conn) cause() error {
	if err, ok := c.failErr.Load().(error); ok {
		return err
	}
	return nil
}

func (c *conn) setState(state ConnState) {
	if c.srv.connState != nil {
		c.srv.connState(c.remote, state)
	}
}

// serve 顺序读取请求并分派给处理器，直到连接关闭或 ctx 结束
func (c *conn) serve(ctx context.Context) {
	c.setState(StateNew)
	stop := context.AfterFunc(ctx, func() {
		// 中断阻塞的读取，已排队的响应继续写出
		_ = c.nc.SetReadDeadline(time.Now())
	})
	defer stop()

	var readErr error
	for {
		req, err := c.readRequest(ctx)
		if err != nil {
			readErr = err
			break
		}

		if !c.acquire(ctx) {
			readErr = ctx.Err()
			break
		}

		ex := c.dispatcher.Accept(req.Context(), req)
		if req.ContentLength == tooLarge {
			c.reject(ex, http.StatusRequestEntityTooLarge, "request body too large")
			break
		}

		// 按到达顺序占用处理器名额：先到的请求先写出，持有名额等待写出不会形成环
		if err := c.srv.sem.Acquire(ctx, 1); err != nil {
			c.reject(ex, http.StatusServiceUnavailable, "server shutting down")
			readErr = err
			break
		}

		c.handlers.Add(1)
		go c.handle(ex)

		if req.Close {
			break
		}
	}

	c.handlers.Wait()
	<-c.dispatcher.Idle()
	c.dispatcher.Close(readErr)
	_ = c.nc.Close()
	c.setState(StateClosed)

	if readErr != nil && !isClosedErr(readErr) {
		c.srv.logger.Debug("connection closed", zap.String("remote", c.remote), zap.Error(readErr))
	}
}

// tooLarge 标记请求体超限
const tooLarge = -2

// readRequest 读取下一个请求并完整读入消息体
// 读下一个请求之前必须消费完当前请求体
func (c *conn) readRequest(ctx context.Context) (*http.Request, error) {
	cfg := c.srv.cfg
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	idle := cfg.IdleTimeout
	if idle == 0 {
		idle = cfg.ReadTimeout
	}
	if idle > 0 {
		_ = c.nc.SetReadDeadline(time.Now().Add(idle))
	}
	// 等待首字节期间视为空闲
	if c.br.Buffered() == 0 {
		c.setState(StateIdle)
	}
	if _, err := c.br.Peek(1); err != nil {
		return nil, err
	}
	c.setState(StateActive)
	if cfg.ReadTimeout > 0 {
		_ = c.nc.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}

	req, err := http.ReadRequest(c.br)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(req.Body, cfg.MaxBodyBytes+1))
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}

	if int64(len(data)) > cfg.MaxBodyBytes {
		req.ContentLength = tooLarge
		req.Close = true
		data = nil
	} else {
		req.ContentLength = int64(len(data))
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.RemoteAddr = c.remote
	// HTTP/1.0 响应体以关闭连接结束，不支持 keep-alive
	if !req.ProtoAtLeast(1, 1) {
		req.Close = true
	}
	req = req.WithContext(ctx)

	if idle > 0 {
		_ = c.nc.SetReadDeadline(time.Time{})
	}
	return req, nil
}

// acquire 占用一个流水线位置，满时阻塞读取
func (c *conn) acquire(ctx context.Context) bool {
	select {
	case c.depth <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *conn) release() {
	select {
	case <-c.depth:
	default:
	}
}

func (c *conn) handle(ex *dispatch.Exchange) {
	defer c.handlers.Done()
	defer c.srv.sem.Release(1)

	res := &Responder{c: c, ex: ex, release: c.release}

	defer func() {
		if r := recover(); r != nil {
			c.srv.logger.Error("handler panic",
				zap.String("remote", c.remote),
				zap.String("path", ex.Request.URL.Path),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			if !res.Responded() {
				res.Text(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			}
			return
		}
		if !res.Responded() {
			c.srv.logger.Error(ErrNoResponse.Message, zap.String("path", ex.Request.URL.Path))
			res.Text(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
	}()

	c.srv.handler.ServeHTTP1(ex.Context(), ex.Request, res)
}

func (c *conn) reject(ex *dispatch.Exchange, status int, reason string) {
	res := &Responder{c: c, ex: ex, release: c.release}
	res.Send(dispatch.NewMessage(status, body.String(reason)).
		WithContentType("text/plain; charset=utf-8"))
	c.srv.logger.Info("request rejected",
		zap.String("remote", c.remote),
		zap.Int("status", status),
		zap.String("reason", reason),
	)
}

func isClosedErr(err error) bool {
	var ne net.Error
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, io.ErrClosedPipe) ||
		(errors.As(err, &ne) && ne.Timeout())
}
