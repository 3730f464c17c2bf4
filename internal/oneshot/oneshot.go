// Package oneshot 只设置一次的结果，可被任意多个等待者与后注册的回调观察
package oneshot

import (
	"context"
	"sync"
)

// Cell 一次性结果
type Cell[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	resolved  bool
	value     T
	callbacks []func(T)
}

// New 创建未设置的 Cell
func New[T any]() *Cell[T] {
	return &Cell[T]{done: make(chan struct{})}
}

// Resolve 设置结果，先执行已注册回调再唤醒等待者
// 已设置过时不做任何事并返回 false
func (c *Cell[T]) Resolve(v T) bool {
	c.mu.Lock()
	if c.resolved {
		c.mu.Unlock()
		return false
	}
	c.resolved = true
	c.value = v
	callbacks := c.callbacks
	c.callbacks = nil
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn(v)
	}
	close(c.done)
	return true
}

// OnResolve 注册回调，已设置时立即在当前 goroutine 执行
func (c *Cell[T]) OnResolve(fn func(T)) {
	c.mu.Lock()
	if !c.resolved {
		c.callbacks = append(c.callbacks, fn)
		c.mu.Unlock()
		return
	}
	v := c.value
	c.mu.Unlock()
	fn(v)
}

// Done 设置完成且回调执行完后关闭
func (c *Cell[T]) Done() <-chan struct{} {
	return c.done
}

// Resolved 是否已设置
func (c *Cell[T]) Resolved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolved
}

// Peek 返回当前值及是否已设置
func (c *Cell[T]) Peek() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.resolved
}

// Wait 阻塞直到设置完成或 ctx 结束
func (c *Cell[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		v, _ := c.Peek()
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
