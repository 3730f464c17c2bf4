package ws

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tokmz/courier/pkg/errors"
	"github.com/tokmz/courier/pkg/logger"
	"github.com/tokmz/courier/pkg/tracing"
)

// 由握手过程生成的请求头，不允许调用方设置
var reservedHeaders = []string{
	"Upgrade",
	"Connection",
	"Sec-Websocket-Key",
	"Sec-Websocket-Version",
	"Sec-Websocket-Extensions",
}

// HandshakeRequest 握手请求
type HandshakeRequest struct {
	URL string
	// SubProtocols 逗号分隔，顺序即偏好
	SubProtocols string
	// IdleTimeout 大于 0 时从建连开始监控空闲，<= 0 不监控
	IdleTimeout time.Duration
	Header      http.Header
	// AutoRead 握手成功后立即开始读取，否则等待 Connection.StartReading
	AutoRead bool
	Handler  FrameHandler
}

// Client WebSocket 客户端
type Client struct {
	cfg     *ClientConfig
	logger  logger.Logger
	metrics Metrics
}

// NewClient 创建客户端，cfg 为 nil 时使用默认配置
func NewClient(cfg *ClientConfig, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		cfg = DefaultClientConfig()
	} else {
		copied := *cfg
		cfg = &copied
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NoopMetrics{}
	}
	return &Client{cfg: cfg, logger: cfg.Logger.Named("ws"), metrics: cfg.Metrics}, nil
}

// Config 返回生效的配置
func (c *Client) Config() ClientConfig {
	return *c.cfg
}

// Handshake 发起握手，立即返回结果 future
// 地址或请求头不合法时 future 在返回前已失败，不会发起任何网络连接
func (c *Client) Handshake(ctx context.Context, req HandshakeRequest) *HandshakeFuture {
	f := newHandshakeFuture()
	f.advance(StateResolving)
	c.metrics.IncrementHandshakes()

	t, err := parseTarget(req.URL)
	if err == nil {
		err = checkHeader(req.Header)
	}
	if err != nil {
		c.fail(f, err, nil)
		return f
	}

	a := &attempt{client: c, future: f, req: req, target: t}
	go a.run(ctx)
	return f
}

// Connect 握手并等待结果，ctx 结束时取消握手
func (c *Client) Connect(ctx context.Context, req HandshakeRequest) (*Connection, error) {
	return await(ctx, c.Handshake(ctx, req))
}

// await 等待 f 的结果；ctx 先结束时取消握手，取消失败说明结果已在设置中
func await(ctx context.Context, f *HandshakeFuture) (*Connection, error) {
	res, err := f.Wait(ctx)
	if res == nil {
		if f.Cancel() {
			return nil, err
		}
		<-f.Done()
		res, _ = f.Result()
	}
	return res.Conn, res.Err
}

func (c *Client) fail(f *HandshakeFuture, err error, resp *http.Response) {
	if f.NotifyError(err, resp) != nil {
		return
	}
	kind := errors.KindOf(err).String()
	c.metrics.IncrementHandshakeFailures(kind)
	c.logger.Warn("ws handshake failed", zap.String("kind", kind), zap.Error(err))
}

func (c *Client) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if c.cfg.NetDialContext != nil {
		return c.cfg.NetDialContext(ctx, network, addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

func (c *Client) tlsConfig(host string) *tls.Config {
	var cfg *tls.Config
	if c.cfg.TLSConfig != nil {
		cfg = c.cfg.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	if len(cfg.NextProtos) > 0 {
		cfg.NextProtos = []string{"http/1.1"}
	}
	return cfg
}

func checkHeader(h http.Header) error {
	for _, k := range reservedHeaders {
		if _, ok := h[k]; ok {
			return ErrInvalidConfig.WithMessage(fmt.Sprintf("ws: header %q is set by the handshake", k))
		}
	}
	return nil
}

// splitProtocols 拆分逗号分隔的子协议列表
func splitProtocols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// negotiate 校验服务端选中的子协议
// 请求了子协议时必须选中其中之一；未请求时服务端不能返回子协议
func negotiate(requested []string, accepted string) (string, error) {
	accepted = strings.TrimSpace(accepted)
	if len(requested) == 0 {
		if accepted == "" {
			return "", nil
		}
		return "", ErrSubprotocolMismatch.WithMessage(
			fmt.Sprintf("ws: invalid subprotocol %q, none requested", accepted))
	}
	for _, p := range requested {
		if p == accepted {
			return accepted, nil
		}
	}
	return "", ErrSubprotocolMismatch.WithMessage(
		fmt.Sprintf("ws: invalid subprotocol %q, expected one of %q", accepted, strings.Join(requested, ",")))
}

// attempt 单次握手
type attempt struct {
	client *Client
	future *HandshakeFuture
	req    HandshakeRequest
	target *target

	ctx     context.Context
	idle    *idleConn
	hs      *handshakeConn
	release func() bool
}

func (a *attempt) run(parent context.Context) {
	c := a.client
	start := time.Now()

	ctx, span := tracing.StartSpan(parent, "ws.handshake", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("ws.url", a.target.url.String()),
		attribute.String("ws.subprotocols", a.req.SubProtocols),
	)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()
	a.ctx = ctx
	a.future.setAbort(cancel)

	protocols := splitProtocols(a.req.SubProtocols)
	dialer := &websocket.Dialer{
		Proxy:             nil,
		HandshakeTimeout:  c.cfg.HandshakeTimeout,
		ReadBufferSize:    c.cfg.ReadBufferSize,
		WriteBufferSize:   c.cfg.WriteBufferSize,
		EnableCompression: c.cfg.EnableCompression,
		Subprotocols:      protocols,
		NetDialContext:    a.dial,
		NetDialTLSContext: a.dialTLS,
	}

	a.future.advance(StateConnecting)
	conn, resp, err := dialer.DialContext(ctx, a.target.url.String(), a.req.Header)
	if err == nil && a.release != nil && !a.release() {
		// 握手完成的同时被取消或超时，连接已被关闭
		_ = conn.Close()
		conn, err = nil, context.Cause(ctx)
	}
	if err != nil {
		err = a.classify(err)
		tracing.End(span, err)
		c.fail(a.future, err, resp)
		return
	}
	a.hs.done()

	subprotocol, err := negotiate(protocols, conn.Subprotocol())
	if err != nil {
		_ = conn.Close()
		tracing.End(span, err)
		c.fail(a.future, err, resp)
		return
	}

	connection := newConnection(conn, a.idle, subprotocol, resp, a.req.Handler, c.cfg)
	if err := a.future.NotifySuccess(connection, resp); err != nil {
		// 已被取消
		_ = connection.Close()
		tracing.End(span, err)
		return
	}
	span.SetAttributes(attribute.String("ws.subprotocol", subprotocol), attribute.String("ws.session", connection.ID()))
	tracing.End(span, nil)

	c.metrics.RecordHandshakeLatency(time.Since(start).Milliseconds())
	c.logger.Debug("ws handshake completed",
		zap.String("url", a.target.url.String()),
		zap.String("subprotocol", subprotocol),
		zap.String("session", connection.ID()),
	)

	if a.req.AutoRead {
		_ = connection.StartReading()
	}
}

// dial 建立 TCP 连接并安装空闲看门狗
func (a *attempt) dial(ctx context.Context, network, _ string) (net.Conn, error) {
	nc, err := a.client.dialContext(ctx, network, a.target.addr())
	if err != nil {
		return nil, ErrDial.WithError(err)
	}
	a.idle = newIdleConn(nc, a.req.IdleTimeout)
	return a.watch(a.idle), nil
}

// dialTLS 在发送任何 HTTP 字节前完成 TLS 握手
func (a *attempt) dialTLS(ctx context.Context, network, _ string) (net.Conn, error) {
	nc, err := a.client.dialContext(ctx, network, a.target.addr())
	if err != nil {
		return nil, ErrDial.WithError(err)
	}
	a.idle = newIdleConn(nc, a.req.IdleTimeout)

	tc := tls.Client(a.idle, a.client.tlsConfig(a.target.host))
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = a.idle.Close()
		if a.idle.Expired() {
			return nil, ErrIdleTimeout.WithError(err)
		}
		return nil, ErrTLSHandshake.WithError(err)
	}
	return a.watch(tc), nil
}

// watch 包装握手阶段的连接，取消或超时时关闭连接
func (a *attempt) watch(nc net.Conn) net.Conn {
	a.hs = newHandshakeConn(nc, a.client.cfg.MaxHandshakeResponseSize, func() {
		a.future.advance(StateHandshakeSent)
	})
	hs := a.hs
	a.release = context.AfterFunc(a.ctx, func() {
		_ = hs.Close()
	})
	return a.hs
}

// classify 把握手错误归入错误分类
func (a *attempt) classify(err error) error {
	switch {
	case a.idle != nil && a.idle.Expired():
		return ErrIdleTimeout.WithError(err)
	case stderrors.Is(err, websocket.ErrBadHandshake):
		return ErrHandshakeRejected.WithError(err)
	case errors.KindOf(err) != errors.KindUnknown:
		return err
	case stderrors.Is(a.ctx.Err(), context.DeadlineExceeded), stderrors.Is(err, context.DeadlineExceeded):
		return ErrHandshakeTimeout.WithError(err)
	case a.ctx.Err() != nil, stderrors.Is(err, context.Canceled):
		return ErrHandshakeCanceled.WithError(err)
	}
	var ne net.Error
	if stderrors.As(err, &ne) && ne.Timeout() {
		return ErrHandshakeTimeout.WithError(err)
	}
	return ErrHandshakeFailed.WithError(err)
}
