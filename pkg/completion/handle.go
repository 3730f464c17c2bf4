// Package completion 提供一次性完成句柄与响应状态监听器
package completion

import (
	"context"

	"github.com/tokmz/courier/internal/oneshot"
)

// Handle 一次性完成信号
// 成功或失败只会被触发一次，之后的触发被忽略
type Handle struct {
	cell *oneshot.Cell[error]
}

// NewHandle 创建未完成的句柄
func NewHandle() *Handle {
	return &Handle{cell: oneshot.New[error]()}
}

// Succeed 标记成功，返回是否由本次调用完成
func (h *Handle) Succeed() bool {
	return h.cell.Resolve(nil)
}

// Fail 标记失败，返回是否由本次调用完成
// err 为 nil 时等同于 Succeed
func (h *Handle) Fail(err error) bool {
	return h.cell.Resolve(err)
}

// Done 完成后关闭
func (h *Handle) Done() <-chan struct{} {
	return h.cell.Done()
}

// Completed 是否已完成
func (h *Handle) Completed() bool {
	return h.cell.Resolved()
}

// Err 返回失败原因，未完成或成功时返回 nil
func (h *Handle) Err() error {
	err, _ := h.cell.Peek()
	return err
}

// Wait 阻塞直到完成或 ctx 结束
// 返回完成结果；ctx 先结束时返回 ctx 的错误
func (h *Handle) Wait(ctx context.Context) error {
	err, werr := h.cell.Wait(ctx)
	if werr != nil {
		return werr
	}
	return err
}

// OnComplete 注册完成回调，已完成时立即在当前 goroutine 执行
func (h *Handle) OnComplete(fn func(err error)) {
	h.cell.OnResolve(fn)
}
