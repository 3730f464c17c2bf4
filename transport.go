package courier

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/courier/pkg/body"
	"github.com/tokmz/courier/pkg/dispatch"
	"github.com/tokmz/courier/pkg/errors"
	"github.com/tokmz/courier/pkg/http1"
)

// ErrResponseWritten 响应头已经写出
var ErrResponseWritten = errors.New(3201, errors.KindValidation, "courier: response already written", 409)

var trailerReplacer = strings.NewReplacer("\r", " ", "\n", " ")

// writerTransport 把 Dispatcher 的输出写到 gin 的 ResponseWriter
// 每个请求一个实例，只承载一个响应
type writerTransport struct {
	w    gin.ResponseWriter
	head bool
}

func (t *writerTransport) Submit(_ *dispatch.Exchange, msg *dispatch.Message, notify dispatch.Notifier) (dispatch.Sink, error) {
	if t.w.Written() {
		return nil, ErrResponseWritten
	}

	status := msg.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	bodyless := t.head || status == http.StatusNoContent || status == http.StatusNotModified || status < 200

	h := t.w.Header()
	for k, vs := range msg.Header {
		h[k] = append([]string(nil), vs...)
	}
	trailer := !bodyless && msg.Body.Kind() != body.KindEmpty
	if trailer {
		h.Add("Trailer", http1.BodyErrorTrailer)
	}

	t.w.WriteHeader(status)
	t.w.WriteHeaderNow()
	return &writerSink{w: t.w, notify: notify, discard: bodyless, trailer: trailer}, nil
}

// writerSink 单个响应体
type writerSink struct {
	w       gin.ResponseWriter
	notify  dispatch.Notifier
	discard bool
	trailer bool
	closed  bool
	err     error
}

func (s *writerSink) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.discard {
		return len(p), nil
	}
	n, err := s.w.Write(p)
	if err != nil {
		s.err = err
	}
	return n, err
}

func (s *writerSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.err != nil {
		s.notify.OnError(s.err)
		return s.err
	}
	s.w.Flush()
	s.notify.OnSuccess()
	return nil
}

// CloseWithError 响应体中途失败，状态码已发出，原因写入 trailer
func (s *writerSink) CloseWithError(cause error) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.trailer && s.err == nil {
		s.w.Header().Set(http1.BodyErrorTrailer, trailerReplacer.Replace(cause.Error()))
	}
	s.notify.OnError(cause)
	return nil
}
