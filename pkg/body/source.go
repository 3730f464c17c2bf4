package body

import (
	"bytes"
	"io"
	"net/textproto"
	"strings"
)

// Kind 消息体变体
type Kind uint8

const (
	// KindEmpty 空消息体
	KindEmpty Kind = iota
	// KindRaw 原始字节流，原样透传
	KindRaw
	// KindJSON 通过流式 JSON 生成器写出
	KindJSON
	// KindValue 值自行序列化
	KindValue
	// KindMultipart multipart 分段
	KindMultipart
)

// String 返回变体名称
func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindRaw:
		return "raw"
	case KindJSON:
		return "json"
	case KindValue:
		return "value"
	case KindMultipart:
		return "multipart"
	default:
		return "unknown"
	}
}

// Serializable 能够把自身写入字节流的值
type Serializable interface {
	SerializeTo(w io.Writer) error
}

// SerializableFunc 函数适配器
type SerializableFunc func(w io.Writer) error

// SerializeTo 实现 Serializable
func (f SerializableFunc) SerializeTo(w io.Writer) error {
	return f(w)
}

// Source 出站消息体，每个实例只有一个变体生效
// 零值为空消息体
type Source struct {
	kind  Kind
	raw   io.Reader
	json  any
	value Serializable
	parts []*Part
}

// Empty 空消息体
func Empty() Source {
	return Source{}
}

// Raw 原始字节流
// r 为 nil 时视为空消息体；r 若实现 io.Closer，写出后会被关闭
func Raw(r io.Reader) Source {
	return Source{kind: KindRaw, raw: r}
}

// Bytes 原始字节
func Bytes(b []byte) Source {
	return Raw(bytes.NewReader(b))
}

// String 原始字符串
func String(s string) Source {
	return Raw(strings.NewReader(s))
}

// JSON 以 JSON 形式写出 v
func JSON(v any) Source {
	return Source{kind: KindJSON, json: v}
}

// Value 由 v 自行序列化
func Value(v Serializable) Source {
	return Source{kind: KindValue, value: v}
}

// Multipart multipart 消息体
// parts 为空时写出 raw（兼容旧行为），raw 可为 nil
func Multipart(parts []*Part, raw io.Reader) Source {
	return Source{kind: KindMultipart, parts: parts, raw: raw}
}

// Kind 返回变体
func (s Source) Kind() Kind {
	return s.kind
}

// Parts 返回 multipart 分段（非 multipart 变体返回 nil）
func (s Source) Parts() []*Part {
	return s.parts
}

// Part multipart 中的一个分段
type Part struct {
	Header textproto.MIMEHeader
	Body   Source
}

// NewPart 创建分段
// contentType 为空时不设置 Content-Type
func NewPart(contentType string, body Source) *Part {
	p := &Part{
		Header: make(textproto.MIMEHeader),
		Body:   body,
	}
	if contentType != "" {
		p.Header.Set("Content-Type", contentType)
	}
	return p
}

// FormField 创建 form-data 文本字段
func FormField(name, value string) *Part {
	p := NewPart("", String(value))
	p.Header.Set("Content-Disposition", `form-data; name="`+escapeQuotes(name)+`"`)
	return p
}

// FormFile 创建 form-data 文件字段
func FormFile(field, filename, contentType string, r io.Reader) *Part {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	p := NewPart(contentType, Raw(r))
	p.Header.Set("Content-Disposition",
		`form-data; name="`+escapeQuotes(field)+`"; filename="`+escapeQuotes(filename)+`"`)
	return p
}

// WithHeader 设置分段头部
func (p *Part) WithHeader(key, value string) *Part {
	if p.Header == nil {
		p.Header = make(textproto.MIMEHeader)
	}
	p.Header.Set(key, value)
	return p
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
