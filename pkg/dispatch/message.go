package dispatch

import (
	"net/http"

	"github.com/tokmz/courier/pkg/body"
)

// Message 出站响应
// 提交给 SendResponse 后归 Dispatcher 所有，调用方不应再修改
type Message struct {
	StatusCode int
	Header     http.Header
	Body       body.Source
}

// NewMessage 创建响应
func NewMessage(status int, src body.Source) *Message {
	return &Message{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       src,
	}
}

// JSON application/json 响应
func JSON(status int, v any) *Message {
	return NewMessage(status, body.JSON(v)).WithContentType("application/json; charset=utf-8")
}

// Multipart multipart 响应，boundary 在发送时生成
func Multipart(status int, subtype string, parts ...*body.Part) *Message {
	if subtype == "" {
		subtype = "mixed"
	}
	return NewMessage(status, body.Multipart(parts, nil)).WithContentType("multipart/" + subtype)
}

// WithContentType 设置 Content-Type
func (m *Message) WithContentType(ct string) *Message {
	if m.Header == nil {
		m.Header = make(http.Header)
	}
	m.Header.Set("Content-Type", ct)
	return m
}

// ContentType 返回 Content-Type
func (m *Message) ContentType() string {
	if m.Header == nil {
		return ""
	}
	return m.Header.Get("Content-Type")
}
