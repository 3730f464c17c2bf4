package http1

import (
	"io"
	"net/http/httputil"
	"strings"
	"sync"

	"github.com/tokmz/courier/pkg/dispatch"
)

// BodyErrorTrailer 响应体中途失败时写在 chunked 结尾的 trailer
const BodyErrorTrailer = "X-Body-Error"

// framing 响应体的分帧方式
type framing uint8

const (
	framingNone    framing = iota // 无消息体（HEAD、204、304）
	framingChunked                // HTTP/1.1 chunked
	framingClose                  // HTTP/1.0，以关闭连接结束
)

// bodySink 单个响应体的原始 Sink，写入连接的 bufio.Writer
type bodySink struct {
	c       *conn
	framing framing
	cw      io.WriteCloser
	notify  dispatch.Notifier
	once    sync.Once
}

func newBodySink(c *conn, f framing, notify dispatch.Notifier) *bodySink {
	s := &bodySink{c: c, framing: f, notify: notify}
	if f == framingChunked {
		s.cw = httputil.NewChunkedWriter(c.bw)
	}
	return s
}

func (s *bodySink) Write(p []byte) (int, error) {
	switch s.framing {
	case framingNone:
		return len(p), nil
	case framingChunked:
		return s.cw.Write(p)
	default:
		return s.c.bw.Write(p)
	}
}

// Close 结束响应体并刷出
func (s *bodySink) Close() error {
	err := s.finish(nil)
	s.once.Do(func() {
		if err != nil {
			s.notify.OnError(err)
			return
		}
		s.notify.OnSuccess()
	})
	return err
}

// CloseWithError chunked 响应以 trailer 报告失败，连接仍可继续使用；
// 其他分帧方式无法表达失败，只能断开连接
func (s *bodySink) CloseWithError(cause error) error {
	err := s.finish(cause)
	s.once.Do(func() {
		s.notify.OnError(cause)
	})
	return err
}

func (s *bodySink) finish(cause error) error {
	var err error
	if s.framing == framingChunked {
		err = s.cw.Close()
		if err == nil && cause != nil {
			_, err = io.WriteString(s.c.bw, BodyErrorTrailer+": "+sanitize(cause.Error())+"\r\n")
		}
		if err == nil {
			_, err = io.WriteString(s.c.bw, "\r\n")
		}
	}
	if err == nil {
		err = s.c.bw.Flush()
	}

	switch {
	case err != nil:
		s.c.fail(err)
	case cause != nil && s.framing == framingClose:
		s.c.fail(cause)
	}
	return err
}

// sanitize 去掉会破坏头部格式的字符
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' || r < 0x20 && r != '\t' {
			return ' '
		}
		return r
	}, s)
}
