package body

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"

	"github.com/goccy/go-json"
)

// ErrorCloser 可以携带失败原因关闭的出站字节流
// 序列化失败时优先调用 CloseWithError，使传输层能区分正常结束与中途失败
type ErrorCloser interface {
	CloseWithError(err error) error
}

// Option 序列化器选项
type Option func(*Serializer)

// WithJSONOptions 设置叶子节点的 goccy/go-json 编码选项
func WithJSONOptions(opts ...json.EncodeOptionFunc) Option {
	return func(s *Serializer) {
		s.jsonOpts = append(s.jsonOpts, opts...)
	}
}

// WithCopyBufferSize 设置原始字节透传的缓冲区大小
func WithCopyBufferSize(size int) Option {
	return func(s *Serializer) {
		if size > 0 {
			s.copyBufSize = size
		}
	}
}

// Serializer 把 Source 写入出站字节流
// 无状态，可并发使用
type Serializer struct {
	jsonOpts    []json.EncodeOptionFunc
	copyBufSize int
}

// NewSerializer 创建序列化器
func NewSerializer(opts ...Option) *Serializer {
	s := &Serializer{copyBufSize: 32 * 1024}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serialize 把 src 写入 sink，任何路径退出时都会关闭 sink
// multipart 变体在此路径下按原始字节写出
func (s *Serializer) Serialize(src Source, sink io.WriteCloser) error {
	return s.run(sink, func(w io.Writer) error {
		return s.write(w, src)
	})
}

// SerializeMultipart 使用 boundary 把 src 按 multipart 编码写入 sink，任何路径退出时都会关闭 sink
// 分段列表为空时写出原始字节（兼容旧行为）
func (s *Serializer) SerializeMultipart(boundary string, src Source, sink io.WriteCloser) error {
	return s.run(sink, func(w io.Writer) error {
		return s.writeMultipart(w, boundary, src)
	})
}

// run 执行写出并保证 sink 被关闭
func (s *Serializer) run(sink io.WriteCloser, fn func(io.Writer) error) (err error) {
	sw := &sinkWriter{w: sink}

	defer func() {
		if r := recover(); r != nil {
			err = ErrSerialize.WithError(fmt.Errorf("panic: %v", r))
		}
		if cerr := closeSink(sink, err); cerr != nil && err == nil {
			err = ErrTransfer.WithError(cerr)
		}
	}()

	if ferr := fn(sw); ferr != nil {
		// 写 sink 失败归为传输错误，其余归为序列化错误
		if sw.err != nil {
			return ErrTransfer.WithError(sw.err)
		}
		return ErrSerialize.WithError(ferr)
	}
	return nil
}

func (s *Serializer) write(w io.Writer, src Source) error {
	switch src.kind {
	case KindEmpty:
		return nil
	case KindRaw, KindMultipart:
		return s.copyRaw(w, src.raw)
	case KindJSON:
		return newGenerator(w, s.jsonOpts).generate(src.json)
	case KindValue:
		if src.value == nil {
			return nil
		}
		return src.value.SerializeTo(w)
	default:
		return fmt.Errorf("unknown body kind %d", src.kind)
	}
}

func (s *Serializer) writeMultipart(w io.Writer, boundary string, src Source) error {
	if src.kind != KindMultipart || len(src.parts) == 0 {
		return s.write(w, src)
	}

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(boundary); err != nil {
		return err
	}

	for i, part := range src.parts {
		if part == nil {
			return fmt.Errorf("multipart part %d is nil", i)
		}

		header := cloneHeader(part.Header)

		nested := ""
		if part.Body.kind == KindMultipart && len(part.Body.parts) > 0 {
			ct := header.Get("Content-Type")
			if ct == "" || !IsMultipart(ct) {
				ct = "multipart/mixed"
			}
			b, ct, err := EnsureBoundary(ct)
			if err != nil {
				return err
			}
			header.Set("Content-Type", ct)
			nested = b
		}

		pw, err := mw.CreatePart(header)
		if err != nil {
			return err
		}

		if nested != "" {
			err = s.writeMultipart(pw, nested, part.Body)
		} else {
			err = s.write(pw, part.Body)
		}
		if err != nil {
			return err
		}
	}

	return mw.Close()
}

func (s *Serializer) copyRaw(w io.Writer, r io.Reader) error {
	if r == nil {
		return nil
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}
	_, err := io.CopyBuffer(w, r, make([]byte, s.copyBufSize))
	return err
}

// sinkWriter 记录写 sink 时的第一个错误，用于错误归类
type sinkWriter struct {
	w   io.Writer
	err error
}

func (sw *sinkWriter) Write(p []byte) (int, error) {
	if sw.err != nil {
		return 0, sw.err
	}
	n, err := sw.w.Write(p)
	if err != nil {
		sw.err = err
	}
	return n, err
}

func closeSink(sink io.Closer, err error) error {
	if err != nil {
		if ec, ok := sink.(ErrorCloser); ok {
			return ec.CloseWithError(err)
		}
	}
	return sink.Close()
}

func cloneHeader(h textproto.MIMEHeader) textproto.MIMEHeader {
	out := make(textproto.MIMEHeader, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}
