// Package future 提供跨协程的一次性完成原语
//
// Future 只能被完成一次：Resolve 成功，或 Fail 失败（FailAfter 延迟失败），
// 之后的完成调用全部被忽略。等待方可以：
//   - Wait(ctx) 阻塞直到完成或 ctx 取消
//   - WaitTimeout(d) 阻塞直到完成或超时（d == 0 表示不限时）
//   - Done() 获取完成通知 channel，用于 select
//
// 超时计时使用可注入的 clock.Clock，测试中可使用 clock.NewMock()。
package future

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrTimeout 等待超时
var ErrTimeout = errors.New("future: wait timeout")

// Future 一次性完成的结果
type Future[T any] struct {
	clock clock.Clock

	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// New 使用系统时钟创建 Future
func New[T any]() *Future[T] {
	return NewWithClock[T](clock.New())
}

// NewWithClock 使用指定时钟创建 Future
func NewWithClock[T any](clk clock.Clock) *Future[T] {
	if clk == nil {
		clk = clock.New()
	}
	return &Future[T]{
		clock: clk,
		done:  make(chan struct{}),
	}
}

// Resolved 创建一个已经成功完成的 Future
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Resolve(v)
	return f
}

// Failed 创建一个已经失败的 Future
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.Fail(err)
	return f
}

// Resolve 以成功值完成，返回本次调用是否生效
func (f *Future[T]) Resolve(v T) bool {
	return f.complete(v, nil)
}

// Fail 以错误完成，返回本次调用是否生效
func (f *Future[T]) Fail(err error) bool {
	var zero T
	return f.complete(zero, err)
}

func (f *Future[T]) complete(v T, err error) bool {
	applied := false
	f.once.Do(func() {
		f.value = v
		f.err = err
		applied = true
		close(f.done)
	})
	return applied
}

// FailAfter 在 d 之后以 err 完成（若届时尚未完成）
//
// 返回的函数用于取消计时器。
func (f *Future[T]) FailAfter(d time.Duration, err error) (stop func() bool) {
	t := f.clock.AfterFunc(d, func() { f.Fail(err) })
	return t.Stop
}

// Done 返回完成通知 channel
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone 是否已完成
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err 返回失败原因，未完成或成功完成时返回 nil
func (f *Future[T]) Err() error {
	if !f.IsDone() {
		return nil
	}
	return f.err
}

// Wait 阻塞直到完成或 ctx 结束
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// WaitTimeout 阻塞直到完成或超时，timeout <= 0 表示不限时
func (f *Future[T]) WaitTimeout(timeout time.Duration) (T, error) {
	if timeout <= 0 {
		<-f.done
		return f.value, f.err
	}

	// 已完成时不创建计时器
	select {
	case <-f.done:
		return f.value, f.err
	default:
	}

	timer := f.clock.Timer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.value, f.err
	case <-timer.C:
		var zero T
		return zero, ErrTimeout
	}
}
