package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// idleConn 空闲看门狗
// 任何一次读写都会刷新活动时间，超过 idle 没有活动时关闭连接
type idleConn struct {
	net.Conn
	idle    time.Duration
	last    atomic.Int64
	expired atomic.Bool
	closed  atomic.Bool
	timer   *time.Timer

	mu     sync.Mutex
	onIdle func()

	closeOnce sync.Once
	closeErr  error
}

// newIdleConn idle <= 0 时不启动看门狗
func newIdleConn(nc net.Conn, idle time.Duration) *idleConn {
	c := &idleConn{Conn: nc, idle: idle}
	if idle > 0 {
		c.touch()
		c.timer = time.AfterFunc(idle, c.check)
	}
	return c
}

func (c *idleConn) touch() {
	c.last.Store(time.Now().UnixNano())
}

func (c *idleConn) check() {
	if c.closed.Load() {
		return
	}
	elapsed := time.Since(time.Unix(0, c.last.Load()))
	if elapsed < c.idle {
		c.timer.Reset(c.idle - elapsed)
		return
	}

	c.expired.Store(true)
	_ = c.Close()

	c.mu.Lock()
	fn := c.onIdle
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// setOnIdle 设置超时回调，已超时则立即执行
func (c *idleConn) setOnIdle(fn func()) {
	c.mu.Lock()
	c.onIdle = fn
	c.mu.Unlock()
	if c.expired.Load() {
		fn()
	}
}

// Expired 是否因空闲被关闭
func (c *idleConn) Expired() bool {
	return c.expired.Load()
}

func (c *idleConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 && c.timer != nil {
		c.touch()
	}
	return n, err
}

func (c *idleConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 && c.timer != nil {
		c.touch()
	}
	return n, err
}

func (c *idleConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.timer != nil {
			c.timer.Stop()
		}
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}

// handshakeConn 握手阶段的连接包装
// 第一次写出时回调 onFirstWrite；握手完成前读取的字节数不超过 limit
type handshakeConn struct {
	net.Conn
	limit        int
	read         atomic.Int64
	handshaking  atomic.Bool
	firstWrite   sync.Once
	onFirstWrite func()
}

func newHandshakeConn(nc net.Conn, limit int, onFirstWrite func()) *handshakeConn {
	c := &handshakeConn{Conn: nc, limit: limit, onFirstWrite: onFirstWrite}
	c.handshaking.Store(true)
	return c
}

// done 结束握手阶段，之后不再限制读取
func (c *handshakeConn) done() {
	c.handshaking.Store(false)
}

func (c *handshakeConn) Read(p []byte) (int, error) {
	if !c.handshaking.Load() {
		return c.Conn.Read(p)
	}

	remaining := c.limit - int(c.read.Load())
	if remaining <= 0 {
		return 0, ErrResponseTooLarge
	}
	if len(p) > remaining {
		p = p[:remaining]
	}
	n, err := c.Conn.Read(p)
	c.read.Add(int64(n))
	return n, err
}

func (c *handshakeConn) Write(p []byte) (int, error) {
	if c.onFirstWrite != nil {
		c.firstWrite.Do(c.onFirstWrite)
	}
	return c.Conn.Write(p)
}
