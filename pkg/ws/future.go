package ws

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/tokmz/courier/internal/oneshot"
)

// State 握手状态
type State int32

const (
	StateIdle State = iota
	StateResolving
	StateConnecting
	StateHandshakeSent
	StateOpen
	StateFailed
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateConnecting:
		return "connecting"
	case StateHandshakeSent:
		return "handshake_sent"
	case StateOpen:
		return "open"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal 是否为终态
func (s State) Terminal() bool {
	return s == StateOpen || s == StateFailed
}

// HandshakeResult 握手结果
// 成功时 Conn 非空；失败时 Err 非空，Response 为已收到的原始响应（可能为 nil）
type HandshakeResult struct {
	Conn        *Connection
	SubProtocol string
	Response    *http.Response
	Err         error
}

// Open 是否握手成功
func (r *HandshakeResult) Open() bool {
	return r != nil && r.Err == nil && r.Conn != nil
}

// HandshakeFuture 握手结果，只会被设置一次
type HandshakeFuture struct {
	cell     *oneshot.Cell[*HandshakeResult]
	state    atomic.Int32
	resolved atomic.Bool

	mu    sync.Mutex
	abort func()
}

func newHandshakeFuture() *HandshakeFuture {
	return &HandshakeFuture{cell: oneshot.New[*HandshakeResult]()}
}

// State 当前状态
func (f *HandshakeFuture) State() State {
	return State(f.state.Load())
}

// advance 状态只前进，终态后不再变化
func (f *HandshakeFuture) advance(s State) {
	for {
		cur := State(f.state.Load())
		if cur.Terminal() || s <= cur {
			return
		}
		if f.state.CompareAndSwap(int32(cur), int32(s)) {
			return
		}
	}
}

func (f *HandshakeFuture) resolve(res *HandshakeResult, s State) bool {
	if !f.resolved.CompareAndSwap(false, true) {
		return false
	}
	f.state.Store(int32(s))
	f.cell.Resolve(res)
	return true
}

// NotifySuccess 以成功结束握手
// 已有结果时返回 ErrAlreadyResolved，回调不会再次触发
func (f *HandshakeFuture) NotifySuccess(conn *Connection, resp *http.Response) error {
	if conn == nil {
		return ErrHandshakeFailed.WithMessage("ws: nil connection")
	}
	res := &HandshakeResult{Conn: conn, SubProtocol: conn.Subprotocol(), Response: resp}
	if !f.resolve(res, StateOpen) {
		return ErrAlreadyResolved
	}
	return nil
}

// NotifyError 以失败结束握手，err 为 nil 时使用 ErrHandshakeFailed
// 已有结果时返回 ErrAlreadyResolved
func (f *HandshakeFuture) NotifyError(err error, resp *http.Response) error {
	if err == nil {
		err = ErrHandshakeFailed
	}
	if !f.resolve(&HandshakeResult{Err: err, Response: resp}, StateFailed) {
		return ErrAlreadyResolved
	}
	return nil
}

// Cancel 放弃握手：关闭底层连接并以 ErrHandshakeCanceled 结束
// 已有结果时返回 false
func (f *HandshakeFuture) Cancel() bool {
	if !f.resolve(&HandshakeResult{Err: ErrHandshakeCanceled}, StateFailed) {
		return false
	}
	f.mu.Lock()
	abort := f.abort
	f.mu.Unlock()
	if abort != nil {
		abort()
	}
	return true
}

// setAbort 设置取消函数，已结束时立即执行
func (f *HandshakeFuture) setAbort(fn func()) {
	f.mu.Lock()
	f.abort = fn
	f.mu.Unlock()
	if f.resolved.Load() {
		fn()
	}
}

// OnComplete 注册结果回调，已有结果时立即在当前 goroutine 执行
func (f *HandshakeFuture) OnComplete(fn func(*HandshakeResult)) {
	f.cell.OnResolve(fn)
}

// Done 有结果且回调执行完后关闭
func (f *HandshakeFuture) Done() <-chan struct{} {
	return f.cell.Done()
}

// Result 返回结果，尚未结束时第二个返回值为 false
func (f *HandshakeFuture) Result() (*HandshakeResult, bool) {
	return f.cell.Peek()
}

// Wait 阻塞直到有结果或 ctx 结束
// 握手失败时同时返回结果与失败原因
func (f *HandshakeFuture) Wait(ctx context.Context) (*HandshakeResult, error) {
	res, err := f.cell.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return res, res.Err
}
