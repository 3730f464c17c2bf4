package completion

import (
	"errors"
	"io"
	"net"
	"os"
	"sync/atomic"
	"syscall"

	cerrors "github.com/tokmz/courier/pkg/errors"
)

// ErrorSlot 请求上记录传输错误的位置
type ErrorSlot interface {
	SetTransferError(err error)
}

// ErrorSlotFunc 函数适配器
type ErrorSlotFunc func(err error)

// SetTransferError 实现 ErrorSlot
func (f ErrorSlotFunc) SetTransferError(err error) {
	f(err)
}

// Listener 传输层的响应状态回调
// OnSuccess/OnError 至多生效一次，生效后监听器即被解除
type Listener struct {
	handle       *Handle
	slot         ErrorSlot
	sinkAttached bool
	fired        atomic.Bool
}

// NewListener 创建监听器
// sinkAttached 表示响应体经由出站字节流写出，此时失败会同时记录到 slot
func NewListener(handle *Handle, slot ErrorSlot, sinkAttached bool) *Listener {
	return &Listener{
		handle:       handle,
		slot:         slot,
		sinkAttached: sinkAttached,
	}
}

// OnSuccess 响应已完整写出
func (l *Listener) OnSuccess() {
	if !l.fired.CompareAndSwap(false, true) {
		return
	}
	l.handle.Succeed()
}

// OnError 响应写出失败
func (l *Listener) OnError(err error) {
	if !l.fired.CompareAndSwap(false, true) {
		return
	}
	if err == nil {
		err = cerrors.ErrTransfer.WithMessage("completion: response failed")
	}
	if l.sinkAttached && l.slot != nil {
		l.slot.SetTransferError(AsTransferError(err))
	}
	l.handle.Fail(err)
}

// Fired 是否已触发
func (l *Listener) Fired() bool {
	return l.fired.Load()
}

// AsTransferError 把错误归类为传输错误
// 已分类的错误和 I/O 错误原样返回，其余包装为 Transfer
func AsTransferError(err error) error {
	if err == nil {
		return nil
	}
	if cerrors.KindOf(err) != cerrors.KindUnknown || IsIOError(err) {
		return err
	}
	return cerrors.ErrTransfer.WithError(err)
}

// IsIOError 判断是否为 I/O 层错误
func IsIOError(err error) bool {
	var netErr net.Error
	var pathErr *os.PathError
	var errno syscall.Errno
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.As(err, &netErr),
		errors.As(err, &pathErr),
		errors.As(err, &errno):
		return true
	}
	return false
}
