package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Interface 远程接口描述：方法名到方法 ID
type Interface struct {
	name    string
	methods map[string]uint16
}

// NewInterface 创建接口描述
func NewInterface(name string) *Interface {
	return &Interface{name: name, methods: make(map[string]uint16)}
}

// Method 添加方法，返回自身以便链式调用
func (i *Interface) Method(name string, id uint16) *Interface {
	i.methods[name] = id
	return i
}

// Name 返回接口名称
func (i *Interface) Name() string {
	return i.name
}

// MethodID 按名称查找方法 ID
func (i *Interface) MethodID(name string) (uint16, bool) {
	id, ok := i.methods[name]
	return id, ok
}

// Proxy 调用方视角的远程接口
//
// 每次调用打开一个管道并等待其 Close。
type Proxy struct {
	session *Session
	iface   *Interface
	timeout time.Duration
}

// Interface 返回 desc 的代理，同一会话内按描述缓存
func (s *Session) Interface(desc *Interface) *Proxy {
	if p, ok := s.proxies.Get(desc); ok {
		return p
	}
	p := &Proxy{session: s, iface: desc, timeout: s.opts.CallTimeout}
	s.proxies.Add(desc, p)
	return p
}

// Session 返回代理所属会话
func (p *Proxy) Session() *Session {
	return p.session
}

// Call 按方法名调用
func (p *Proxy) Call(ctx context.Context, name string, params ...any) (any, error) {
	id, ok := p.iface.MethodID(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, p.iface.name, name)
	}
	return p.CallMethod(ctx, id, params...)
}

// CallMethod 按方法 ID 调用
//
// 等待超过 CallTimeout 返回 ErrTimeout；对端以错误关闭时返回 *RemoteError。
// 超时或 ctx 取消时管道被取消，对端收到以错误关闭的 Close。
func (p *Proxy) CallMethod(ctx context.Context, id uint16, params ...any) (any, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = p.session.clock.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	pipe, err := p.session.Open(id, params...)
	if err != nil {
		return nil, err
	}
	result, err := pipe.Result(ctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		err = fmt.Errorf("%w: %s method %d on pipe %s", ErrTimeout, p.iface.name, id, pipe.ID())
		pipe.Cancel(err)
		return nil, err
	case errors.Is(err, context.Canceled):
		pipe.Cancel(err)
		return nil, err
	}
	return result, err
}

// Invoke 按方法名调用并把结果断言为 T
//
// 结果为 nil 时返回 T 的零值。
func Invoke[T any](ctx context.Context, p *Proxy, name string, params ...any) (T, error) {
	var zero T
	v, err := p.Call(ctx, name, params...)
	if err != nil || v == nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("session: %s.%s returned %T, want %T", p.iface.name, name, v, zero)
	}
	return t, nil
}
