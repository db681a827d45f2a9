package irpc

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/dep2p/go-irpc/config"
	"github.com/dep2p/go-irpc/internal/core/metrics"
	"github.com/dep2p/go-irpc/internal/core/reactor"
	"github.com/dep2p/go-irpc/internal/core/workerpool"
	"github.com/dep2p/go-irpc/internal/debug/introspect"
	"github.com/dep2p/go-irpc/internal/protocol/codec"
	"github.com/dep2p/go-irpc/internal/protocol/session"
	"github.com/dep2p/go-irpc/pkg/lib/log"
)

var logger = log.Logger("irpc")

// stopTimeout Close 等待 Fx 应用停止的上限
const stopTimeout = 30 * time.Second

// Context 会话的运行环境
//
// 一个 Context 持有一个事件循环、一个入站调用执行器、一个编解码器和指标上报，
// 其上创建的所有会话共享它们。关闭 Context 会关闭所有监听器与会话。
type Context struct {
	cfg        *config.Config
	clock      clock.Clock
	dispatcher *reactor.Dispatcher
	executor   workerpool.Executor
	codec      *codec.Codec
	reporter   metrics.Reporter

	// app 由 New 创建时非 nil
	app       *fx.App
	closeOnce sync.Once
	closeErr  error

	mu        sync.Mutex
	closed    bool
	sessions  map[*session.Session]struct{}
	listeners map[*Listener]struct{}
}

// ════════════════════════════════════════════════════════════════════════════
//                              构造函数
// ════════════════════════════════════════════════════════════════════════════

// New 创建并启动 Context
//
// 示例：
//
//	c, err := irpc.New(ctx, irpc.WithPreset(irpc.PresetServer))
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
func New(ctx context.Context, opts ...Option) (*Context, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	cfg, err := o.unifiedConfig()
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	var c *Context
	app := fx.New(buildFxOptions(cfg, o, &c)...)
	if err := app.Err(); err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	if err := app.Start(ctx); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	c.app = app

	logger.Info("Context 已启动", "version", Version, "dispatcher", c.dispatcher.Name())
	return c, nil
}

// buildFxOptions 组装 Fx 应用
func buildFxOptions(cfg *config.Config, o *options, target **Context) []fx.Option {
	modules := []fx.Option{
		fx.Supply(cfg),
		Module(),
		fx.Populate(target),
	}

	if o.registerer != nil {
		reg := o.registerer
		modules = append(modules, fx.Provide(func() prometheus.Registerer { return reg }))
		if g, ok := reg.(prometheus.Gatherer); ok {
			modules = append(modules, fx.Provide(func() prometheus.Gatherer { return g }))
		}
	}
	if o.clock != nil {
		clk := o.clock
		modules = append(modules, fx.Provide(func() clock.Clock { return clk }))
	}
	if o.executor != nil {
		e := o.executor
		modules = append(modules, fx.Decorate(func(workerpool.Executor) workerpool.Executor { return e }))
	}
	modules = append(modules, o.fxOptions...)

	fxLog := o.fxLogger
	if fxLog == nil {
		fxLog = zap.NewNop()
	}
	modules = append(modules, fx.WithLogger(func() fxevent.Logger {
		return &fxevent.ZapLogger{Logger: fxLog}
	}))
	return modules
}

// ContextParams Context 依赖参数
type ContextParams struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Dispatcher *reactor.Dispatcher
	Executor   workerpool.Executor
	Codec      *codec.Codec
	Reporter   metrics.Reporter
	Clock      clock.Clock `optional:"true"`
}

// NewFromParams 从参数创建 Context
func NewFromParams(p ContextParams) *Context {
	cfg := p.UnifiedCfg
	if cfg == nil {
		cfg = config.NewConfig()
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Context{
		cfg:        cfg,
		clock:      clk,
		dispatcher: p.Dispatcher,
		executor:   p.Executor,
		codec:      p.Codec,
		reporter:   metrics.OrNop(p.Reporter),
		sessions:   make(map[*session.Session]struct{}),
		listeners:  make(map[*Listener]struct{}),
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              基本信息
// ════════════════════════════════════════════════════════════════════════════

// Config 返回统一配置
func (c *Context) Config() *config.Config {
	return c.cfg
}

// Dispatcher 返回事件循环
func (c *Context) Dispatcher() *reactor.Dispatcher {
	return c.dispatcher
}

// Reporter 返回指标上报
func (c *Context) Reporter() metrics.Reporter {
	return c.reporter
}

// Stats 返回流量快照
func (c *Context) Stats() metrics.Stats {
	return c.reporter.Snapshot()
}

// NumSessions 返回存活的会话数
func (c *Context) NumSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// SessionInfos 返回存活会话的摘要，按 ID 排序
func (c *Context) SessionInfos() []introspect.SessionInfo {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	infos := make([]introspect.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, introspect.SessionInfo{
			ID:      s.ID(),
			Name:    s.Name(),
			Passive: s.IsPassive(),
			Pipes:   s.NumPipes(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// ════════════════════════════════════════════════════════════════════════════
//                              会话构建
// ════════════════════════════════════════════════════════════════════════════

// SessionBuilder 会话构建器
type SessionBuilder struct {
	c       *Context
	name    string
	conn    net.Conn
	ep      *reactor.Endpoint
	in, out int
	hasFDs  bool
	service *Service
	passive bool
	opts    []session.Option
}

// NewSession 开始构建会话
//
// 示例：
//
//	s, err := c.NewSession("peer").On(conn).Service(svc).Passive().Create()
func (c *Context) NewSession(name string) *SessionBuilder {
	return &SessionBuilder{c: c, name: name}
}

// On 使用 TCP 或 Unix 连接，连接的文件描述符被接管
func (b *SessionBuilder) On(conn net.Conn) *SessionBuilder {
	b.conn = conn
	return b
}

// OnFDs 使用一对已打开的文件描述符，in 与 out 可以相同
func (b *SessionBuilder) OnFDs(in, out int) *SessionBuilder {
	b.in, b.out, b.hasFDs = in, out, true
	return b
}

// OnEndpoint 使用已注册到本 Context 事件循环的连接
func (b *SessionBuilder) OnEndpoint(ep *reactor.Endpoint) *SessionBuilder {
	b.ep = ep
	return b
}

// Service 设置本地服务
func (b *SessionBuilder) Service(svc *Service) *SessionBuilder {
	b.service = svc
	return b
}

// Passive 标记为被动方（接受连接的一方）
func (b *SessionBuilder) Passive() *SessionBuilder {
	b.passive = true
	return b
}

// With 追加会话选项
func (b *SessionBuilder) With(opts ...session.Option) *SessionBuilder {
	b.opts = append(b.opts, opts...)
	return b
}

// Create 创建会话
func (b *SessionBuilder) Create() (*Session, error) {
	c := b.c
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		if b.conn != nil {
			b.conn.Close()
		}
		return nil, ErrContextClosed
	}

	ep, err := b.endpoint()
	if err != nil {
		return nil, err
	}

	opts := []session.Option{
		session.WithConfig(c.cfg.Session),
		session.WithName(b.name),
		session.WithService(b.service),
		session.WithExecutor(c.executor),
		session.WithCodec(c.codec),
		session.WithReporter(c.reporter),
		session.WithClock(c.clock),
	}
	if b.passive {
		opts = append(opts, session.Passive())
	}
	opts = append(opts, b.opts...)

	s, err := session.New(ep, opts...)
	if err != nil {
		_ = ep.Close()
		return nil, err
	}
	if err := c.track(s); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (b *SessionBuilder) endpoint() (*reactor.Endpoint, error) {
	d := b.c.dispatcher
	switch {
	case b.ep != nil:
		if b.ep.Dispatcher() != d {
			return nil, fmt.Errorf("%w: endpoint %s belongs to another context", ErrIO, b.ep.Name())
		}
		return b.ep, nil
	case b.conn != nil:
		ep, err := d.Attach(b.name, b.conn)
		if err != nil {
			b.conn.Close()
			return nil, err
		}
		return ep, nil
	case b.hasFDs:
		ep := reactor.NewEndpoint(d, b.name, b.in, b.out)
		if err := d.Register(ep); err != nil {
			return nil, err
		}
		return ep, nil
	default:
		return nil, ErrNoConnection
	}
}

func (c *Context) track(s *Session) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrContextClosed
	}
	c.sessions[s] = struct{}{}
	c.mu.Unlock()

	s.Endpoint().OnClose(func(error) {
		c.mu.Lock()
		delete(c.sessions, s)
		c.mu.Unlock()
	})
	return nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期
// ════════════════════════════════════════════════════════════════════════════

// Close 关闭所有监听器与会话，然后停止事件循环与执行器
//
// 重复调用返回首次关闭的结果。
func (c *Context) Close() error {
	c.closeOnce.Do(func() {
		if c.app == nil {
			c.closeErr = c.shutdown()
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := c.app.Stop(ctx); err != nil {
			c.closeErr = fmt.Errorf("stop fx app: %w", err)
		}
		logger.Info("Context 已关闭")
	})
	return c.closeErr
}

// shutdown 关闭监听器与会话，由 Fx OnStop 或 Close 调用
func (c *Context) shutdown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	listeners := make([]*Listener, 0, len(c.listeners))
	for l := range c.listeners {
		listeners = append(listeners, l)
	}
	sessions := make([]*Session, 0, len(c.sessions))
	for s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	var err error
	for _, l := range listeners {
		err = multierr.Append(err, l.Close())
	}
	for _, s := range sessions {
		err = multierr.Append(err, s.Close())
	}
	logger.Debug("会话已全部关闭", "listeners", len(listeners), "sessions", len(sessions))
	return err
}
