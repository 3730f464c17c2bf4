package dispatch

import (
	"bufio"
	"sync"
)

// DefaultBufferSize 默认写缓冲大小
const DefaultBufferSize = 4096

// bufferedSink 在原始 Sink 前加一层 bufio.Writer
type bufferedSink struct {
	raw     Sink
	w       *bufio.Writer
	release func(*bufio.Writer)
	once    sync.Once
}

// NewBufferedSink 每次分配新的缓冲区
func NewBufferedSink(raw Sink, size int) Sink {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &bufferedSink{raw: raw, w: bufio.NewWriterSize(raw, size)}
}

func (s *bufferedSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

// Close 刷出缓冲后关闭原始 Sink；刷出失败时以该错误关闭
func (s *bufferedSink) Close() error {
	err := s.w.Flush()
	s.done()
	if err != nil {
		_ = s.raw.CloseWithError(err)
		return err
	}
	return s.raw.Close()
}

// CloseWithError 尽量刷出已缓冲的数据后以 err 关闭
func (s *bufferedSink) CloseWithError(err error) error {
	_ = s.w.Flush()
	s.done()
	return s.raw.CloseWithError(err)
}

func (s *bufferedSink) done() {
	s.once.Do(func() {
		if s.release != nil {
			s.release(s.w)
		}
	})
}

// PooledSinkFactory 复用 bufio.Writer 的 SinkFactory
type PooledSinkFactory struct {
	pool sync.Pool
}

// NewPooledSinkFactory 创建池化 SinkFactory
func NewPooledSinkFactory(size int) *PooledSinkFactory {
	if size <= 0 {
		size = DefaultBufferSize
	}
	f := &PooledSinkFactory{}
	f.pool.New = func() any {
		return bufio.NewWriterSize(nil, size)
	}
	return f
}

// NewSink 从池中取出缓冲区，关闭 Sink 时归还
func (f *PooledSinkFactory) NewSink(raw Sink) Sink {
	w := f.pool.Get().(*bufio.Writer)
	w.Reset(raw)
	return &bufferedSink{
		raw: raw,
		w:   w,
		release: func(w *bufio.Writer) {
			w.Reset(nil)
			f.pool.Put(w)
		},
	}
}
