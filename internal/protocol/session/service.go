package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler 服务方法实现
//
// 返回值成为 Close 的结果；返回的错误被字符串化后作为 Close 的错误信息。
type Handler func(ctx context.Context, call *Call) (any, error)

// Call 一次入站调用
type Call struct {
	// Pipe 承载本次调用的管道，流式方法通过它读写数据块
	Pipe *Pipe

	// Method 方法 ID
	Method uint16

	// Params 解码后的参数
	Params []any
}

// Param 返回第 i 个参数并断言为 T
func Param[T any](c *Call, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(c.Params) {
		return zero, fmt.Errorf("session: method %d expects parameter %d, got %d parameters", c.Method, i, len(c.Params))
	}
	v, ok := c.Params[i].(T)
	if !ok {
		return zero, fmt.Errorf("session: method %d parameter %d is %T, want %T", c.Method, i, c.Params[i], zero)
	}
	return v, nil
}

// method 已绑定的服务方法
type method struct {
	id      uint16
	name    string
	handler Handler
}

// Service 方法 ID 到实现的分派表
//
// 同一服务内方法 ID 必须唯一。分派按 ID 查表，不按名称。
type Service struct {
	name string

	mu      sync.RWMutex
	methods map[uint16]*method
}

// NewService 创建空服务
func NewService(name string) *Service {
	return &Service{
		name:    name,
		methods: make(map[uint16]*method),
	}
}

// Name 返回服务名称
func (s *Service) Name() string {
	return s.name
}

// Register 绑定方法，ID 已被占用时返回 ErrDuplicateMethod
func (s *Service) Register(id uint16, name string, h Handler) error {
	if h == nil {
		return fmt.Errorf("session: nil handler for method %d", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.methods[id]; ok {
		return fmt.Errorf("%w: %d (%s) already bound to %s", ErrDuplicateMethod, id, name, existing.name)
	}
	s.methods[id] = &method{id: id, name: name, handler: h}
	return nil
}

// MustRegister 同 Register，失败时 panic
func (s *Service) MustRegister(id uint16, name string, h Handler) *Service {
	if err := s.Register(id, name, h); err != nil {
		panic(err)
	}
	return s
}

// Lookup 按 ID 查找方法名称
func (s *Service) Lookup(id uint16) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.methods[id]
	if !ok {
		return "", false
	}
	return m.name, true
}

// Methods 返回已绑定的方法 ID，升序
func (s *Service) Methods() []uint16 {
	s.mu.RLock()
	ids := make([]uint16, 0, len(s.methods))
	for id := range s.methods {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// call 执行入站调用，handler 的 panic 被转换为错误
func (s *Service) call(ctx context.Context, c *Call) (result any, err error) {
	if s == nil {
		return nil, fmt.Errorf("%w: %d", ErrMethodNotFound, c.Method)
	}
	s.mu.RLock()
	m, ok := s.methods[c.Method]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrMethodNotFound, c.Method)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("服务方法 panic", "service", s.name, "method", m.name, "panic", r)
			result = nil
			err = fmt.Errorf("panic in %s.%s: %v", s.name, m.name, r)
		}
	}()
	return m.handler(ctx, c)
}
