package dispatch

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
)

// Exchange 一次请求/响应交换
// 由 Dispatcher.Accept 创建，Seq 为请求到达顺序
type Exchange struct {
	seq     uint64
	owner   *Dispatcher
	ctx     context.Context
	Request *http.Request

	responded atomic.Bool

	mu          sync.Mutex
	transferErr error
}

// Seq 到达序号
func (e *Exchange) Seq() uint64 {
	return e.seq
}

// Context 请求上下文
func (e *Exchange) Context() context.Context {
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

// Responded 是否已提交响应（或被放弃）
func (e *Exchange) Responded() bool {
	return e.responded.Load()
}

// SetTransferError 记录响应体传输阶段的错误，实现 completion.ErrorSlot
func (e *Exchange) SetTransferError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.transferErr == nil {
		e.transferErr = err
	}
}

// TransferError 返回记录的传输错误
func (e *Exchange) TransferError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transferErr
}
