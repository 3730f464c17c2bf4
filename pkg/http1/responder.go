package http1

import (
	"context"
	"net/http"
	"sync"

	"github.com/tokmz/courier/pkg/body"
	"github.com/tokmz/courier/pkg/completion"
	"github.com/tokmz/courier/pkg/dispatch"
)

// Handler 处理单个请求
// 返回前必须通过 Responder 发送恰好一个响应，否则服务端代为返回 500
// 同一连接上的处理器并发执行，响应仍按请求顺序写出
type Handler interface {
	ServeHTTP1(ctx context.Context, req *http.Request, res *Responder)
}

// HandlerFunc 函数适配器
type HandlerFunc func(ctx context.Context, req *http.Request, res *Responder)

// ServeHTTP1 实现 Handler
func (f HandlerFunc) ServeHTTP1(ctx context.Context, req *http.Request, res *Responder) {
	f(ctx, req, res)
}

// Responder 单个请求的响应入口
type Responder struct {
	c       *conn
	ex      *dispatch.Exchange
	once    sync.Once
	handle  *completion.Handle
	release func()
}

// Exchange 返回底层 Exchange
func (r *Responder) Exchange() *dispatch.Exchange {
	return r.ex
}

// Send 提交响应，返回完成句柄
func (r *Responder) Send(msg *dispatch.Message) *completion.Handle {
	h := r.c.dispatcher.SendResponse(r.ex, msg)
	r.once.Do(func() {
		r.handle = h
		h.OnComplete(func(error) { r.release() })
	})
	return h
}

// JSON 发送 JSON 响应
func (r *Responder) JSON(status int, v any) *completion.Handle {
	return r.Send(dispatch.JSON(status, v))
}

// Text 发送纯文本响应
func (r *Responder) Text(status int, s string) *completion.Handle {
	return r.Send(dispatch.NewMessage(status, body.String(s)).
		WithContentType("text/plain; charset=utf-8"))
}

// Status 发送无消息体响应
func (r *Responder) Status(status int) *completion.Handle {
	return r.Send(dispatch.NewMessage(status, body.Empty()))
}

// Responded 是否已发送响应
func (r *Responder) Responded() bool {
	return r.ex.Responded()
}
