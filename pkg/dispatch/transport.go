package dispatch

import "io"

// Notifier 传输层在响应写完或失败时回调
// completion.Listener 实现该接口
type Notifier interface {
	OnSuccess()
	OnError(err error)
}

// Sink 单个响应体的出站字节流
// Close 表示正常结束，CloseWithError 表示中途失败；两者只应调用其一
type Sink interface {
	io.WriteCloser
	CloseWithError(err error) error
}

// Transport 连接的出站侧
// Submit 写出状态行与头部并返回响应体的 Sink；
// Sink 关闭后传输层负责调用 notify（成功或失败）
type Transport interface {
	Submit(ex *Exchange, msg *Message, notify Notifier) (Sink, error)
}

// SinkFactory 包装传输层的原始 Sink（缓冲、池化等）
type SinkFactory interface {
	NewSink(raw Sink) Sink
}

// SinkFactoryFunc 函数适配器
type SinkFactoryFunc func(raw Sink) Sink

// NewSink 实现 SinkFactory
func (f SinkFactoryFunc) NewSink(raw Sink) Sink {
	return f(raw)
}

// SinkFactoryProvider 自带 SinkFactory 的传输层
type SinkFactoryProvider interface {
	SinkFactory() SinkFactory
}
