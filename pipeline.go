package courier

import (
	"bytes"
	"context"
	"net/http"

	"github.com/tokmz/courier/pkg/body"
	"github.com/tokmz/courier/pkg/dispatch"
	"github.com/tokmz/courier/pkg/http1"
)

// HTTP1Handler 以 http1.Handler 暴露路由，供流水线传输使用
// 经 Context.Send 的响应直接交给连接的 Dispatcher；
// 直接写 ResponseWriter 的处理器（如 gin 自带的 404）先缓冲再整体发送
func (e *Engine) HTTP1Handler() http1.Handler {
	return http1.HandlerFunc(func(ctx context.Context, req *http.Request, res *http1.Responder) {
		req = req.WithContext(context.WithValue(ctx, responderKey{}, res))
		rec := newRecorder()
		e.engine.ServeHTTP(rec, req)
		if res.Responded() {
			return
		}

		msg := dispatch.NewMessage(rec.status, body.Bytes(rec.buf.Bytes()))
		for k, vs := range rec.header {
			msg.Header[k] = vs
		}
		res.Send(msg)
	})
}

// recorder 缓冲式 ResponseWriter
type recorder struct {
	header http.Header
	status int
	wrote  bool
	buf    bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header), status: http.StatusOK}
}

func (r *recorder) Header() http.Header {
	return r.header
}

func (r *recorder) WriteHeader(code int) {
	if r.wrote {
		return
	}
	r.wrote = true
	r.status = code
}

func (r *recorder) Write(p []byte) (int, error) {
	r.WriteHeader(http.StatusOK)
	return r.buf.Write(p)
}

func (r *recorder) Flush() {}
