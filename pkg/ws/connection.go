package ws

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/courier/pkg/errors"
	"github.com/tokmz/courier/pkg/logger"
)

// FrameHandler 入站消息处理器
// OnMessage 在读协程上顺序调用；OnClose 在连接结束时调用一次
type FrameHandler interface {
	OnMessage(c *Connection, messageType int, data []byte)
	OnClose(c *Connection, err error)
}

// FrameHandlerFuncs 函数形式的 FrameHandler，字段可为空
type FrameHandlerFuncs struct {
	Message func(c *Connection, messageType int, data []byte)
	Close   func(c *Connection, err error)
}

func (h FrameHandlerFuncs) OnMessage(c *Connection, messageType int, data []byte) {
	if h.Message != nil {
		h.Message(c, messageType, data)
	}
}

func (h FrameHandlerFuncs) OnClose(c *Connection, err error) {
	if h.Close != nil {
		h.Close(c, err)
	}
}

// Connection 握手成功后的 WebSocket 连接
// 写操作互斥；读协程在 StartReading 或 AutoRead 时启动
type Connection struct {
	id          string
	conn        *websocket.Conn
	idle        *idleConn
	subprotocol string
	response    *http.Response
	handler     FrameHandler

	maxMessageSize int64
	writeWait      time.Duration
	logger         logger.Logger
	metrics        Metrics

	writeMu   sync.Mutex
	readOnce  sync.Once
	reading   atomic.Bool
	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}

	errMu sync.Mutex
	err   error
}

func newConnection(conn *websocket.Conn, idle *idleConn, subprotocol string, resp *http.Response,
	handler FrameHandler, cfg *ClientConfig) *Connection {
	c := &Connection{
		id:             uuid.NewString(),
		conn:           conn,
		idle:           idle,
		subprotocol:    subprotocol,
		response:       resp,
		handler:        handler,
		maxMessageSize: cfg.MaxMessageSize,
		writeWait:      cfg.WriteWait,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		done:           make(chan struct{}),
	}
	c.logger = c.logger.With(zap.String("session", c.id))
	c.metrics.IncrementConnections()
	idle.setOnIdle(func() {
		c.shutdown(ErrIdleTimeout)
	})
	return c
}

// ID 会话 ID
func (c *Connection) ID() string {
	return c.id
}

// Subprotocol 协商出的子协议，未协商时为空
func (c *Connection) Subprotocol() string {
	return c.subprotocol
}

// Response 握手响应
func (c *Connection) Response() *http.Response {
	return c.response
}

// LocalAddr 本地地址
func (c *Connection) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr 远端地址
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Reading 是否已开始读取
func (c *Connection) Reading() bool {
	return c.reading.Load()
}

// StartReading 启动读协程，重复调用无效果
func (c *Connection) StartReading() error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	c.readOnce.Do(func() {
		c.reading.Store(true)
		go c.readLoop()
	})
	return nil
}

// readLoop 读取消息
func (c *Connection) readLoop() {
	c.conn.SetReadLimit(c.maxMessageSize)
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.metrics.IncrementReadErrors()
				c.logger.Debug("ws read failed", zap.Error(err))
			}
			c.shutdown(ErrConnectionClosed.WithError(err))
			return
		}
		c.metrics.IncrementMessageCount("in")
		if c.handler != nil {
			c.handler.OnMessage(c, mt, data)
		}
	}
}

// WriteMessage 写入一条消息
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		c.metrics.IncrementWriteErrors()
		return ErrWriteFailed.WithError(err)
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.metrics.IncrementWriteErrors()
		return ErrWriteFailed.WithError(err)
	}
	c.metrics.IncrementMessageCount("out")
	return nil
}

// WriteText 写入文本消息
func (c *Connection) WriteText(s string) error {
	return c.WriteMessage(websocket.TextMessage, []byte(s))
}

// WriteBinary 写入二进制消息
func (c *Connection) WriteBinary(b []byte) error {
	return c.WriteMessage(websocket.BinaryMessage, b)
}

// WriteJSON 编码为 JSON 后以文本消息写入
func (c *Connection) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrEncodeFailed.WithError(err)
	}
	return c.WriteMessage(websocket.TextMessage, data)
}

// Ping 发送 ping 控制帧
func (c *Connection) Ping(data []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if err := c.conn.WriteControl(websocket.PingMessage, data, time.Now().Add(c.writeWait)); err != nil {
		c.metrics.IncrementWriteErrors()
		return ErrWriteFailed.WithError(err)
	}
	return nil
}

// Close 发送 1000 关闭帧并关闭连接
func (c *Connection) Close() error {
	return c.CloseWithCode(websocket.CloseNormalClosure, "")
}

// CloseWithCode 发送指定关闭码后关闭连接，重复调用无效果
func (c *Connection) CloseWithCode(code int, text string) error {
	if c.closed.Load() {
		return nil
	}
	// 对端可能已断开，关闭帧写失败不影响本地关闭
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text),
		time.Now().Add(c.writeWait))
	c.shutdown(ErrConnectionClosed)
	return nil
}

// Done 连接结束后关闭
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err 连接结束原因，未结束时为 nil
func (c *Connection) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Connection) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.idle.Expired() {
			cause = ErrIdleTimeout
			c.metrics.IncrementIdleTimeouts()
		}

		c.errMu.Lock()
		c.err = cause
		c.errMu.Unlock()

		_ = c.conn.Close()
		c.metrics.DecrementConnections()
		c.logger.Debug("ws connection closed", zap.String("kind", errors.KindOf(cause).String()), zap.Error(cause))

		close(c.done)
		if c.handler != nil {
			c.handler.OnClose(c, cause)
		}
	})
}
