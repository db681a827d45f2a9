package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-irpc/internal/core/buffer"
	"github.com/dep2p/go-irpc/internal/core/metrics"
	"github.com/dep2p/go-irpc/internal/core/reactor"
	"github.com/dep2p/go-irpc/internal/core/workerpool"
	"github.com/dep2p/go-irpc/internal/protocol/codec"
	"github.com/dep2p/go-irpc/pkg/lib/log"
)

var logger = log.Logger("protocol/session")

// Session 一条连接上的管道多路复用
//
// Session 拥有管道 ID 计数器和管道表，二者受同一把锁保护。
// 入站消息在连接所属的事件循环协程上逐条处理，入站调用交给 Executor 执行。
type Session struct {
	id       uuid.UUID
	opts     Options
	codec    *codec.Codec
	ep       *reactor.Endpoint
	executor workerpool.Executor
	reporter metrics.Reporter
	clock    clock.Clock

	mu     sync.Mutex
	seq    uint32
	pipes  map[PipeID]*Pipe
	closed bool
	cause  error

	proxies *lru.Cache[*Interface, *Proxy]

	closeOnce sync.Once
	done      chan struct{}
}

// New 在连接上创建会话并接管其数据消费
func New(ep *reactor.Endpoint, opts ...Option) (*Session, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Codec == nil {
		o.Codec = codec.New()
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	o.Reporter = metrics.OrNop(o.Reporter)
	if o.Executor == nil {
		o.Executor = goExecutor
	}
	if o.InboundQueueCapacity <= 0 {
		o.InboundQueueCapacity = DefaultOptions().InboundQueueCapacity
	}
	if o.ProxyCacheSize <= 0 {
		o.ProxyCacheSize = DefaultOptions().ProxyCacheSize
	}
	if o.Name == "" {
		o.Name = ep.Name()
	}

	proxies, err := lru.New[*Interface, *Proxy](o.ProxyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("session: proxy cache: %w", err)
	}

	s := &Session{
		id:       uuid.New(),
		opts:     o,
		codec:    o.Codec,
		ep:       ep,
		executor: o.Executor,
		reporter: o.Reporter,
		clock:    o.Clock,
		pipes:    make(map[PipeID]*Pipe),
		proxies:  proxies,
		done:     make(chan struct{}),
	}

	ep.OnClose(s.onEndpointClosed)
	if err := ep.SetReceiver(s.receive); err != nil {
		s.shutdown(err)
		return nil, err
	}

	logger.Debug("会话已创建", "session", s.opts.Name, "id", s.id, "passive", o.Passive)
	return s, nil
}

// goExecutor 每个入站调用一个协程
var goExecutor = workerpool.ExecutorFunc(func(task workerpool.Task) error {
	go task(context.Background())
	return nil
})

// ID 返回会话唯一标识
func (s *Session) ID() string {
	return s.id.String()
}

// Name 返回会话名称
func (s *Session) Name() string {
	return s.opts.Name
}

// IsPassive 是否为被动方
func (s *Session) IsPassive() bool {
	return s.opts.Passive
}

// Endpoint 返回底层连接
func (s *Session) Endpoint() *reactor.Endpoint {
	return s.ep
}

// Service 返回本地服务
func (s *Session) Service() *Service {
	return s.opts.Service
}

// NumPipes 返回管道表中的管道数
func (s *Session) NumPipes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pipes)
}

// Done 返回会话关闭通知
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err 返回会话关闭原因，未关闭或正常关闭时为 nil
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Open 打开管道并调用对端的 method
//
// 参数必须能被类型化编码；不能编码时返回 codec.ErrEncoding，管道不会被创建。
func (s *Session) Open(method uint16, params ...any) (*Pipe, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	id := s.nextIDLocked()
	p := newPipe(s, id, method)
	s.pipes[id] = p
	s.mu.Unlock()
	s.reporter.PipeOpened()

	if params == nil {
		params = []any{}
	}
	data, err := s.codec.Encode(&codec.Open{Pipe: uint32(id), Method: method, Params: params})
	if err == nil {
		err = s.write(codec.KindOpen, data)
	}
	if err != nil {
		s.remove(p)
		p.closeF.Fail(err)
		return nil, err
	}
	return p, nil
}

// nextIDLocked 分配一个不在管道表中的 ID，调用方持有 s.mu
func (s *Session) nextIDLocked() PipeID {
	for {
		s.seq = (s.seq + 1) &^ uint32(PassiveMask)
		id := PipeID(s.seq)
		if s.opts.Passive {
			id |= PassiveMask
		}
		if _, live := s.pipes[id]; !live {
			return id
		}
		logger.Debug("管道 ID 冲突，重新分配", "session", s.opts.Name, "pipe", id)
	}
}

// remove 从管道表移除 p，返回是否移除
func (s *Session) remove(p *Pipe) bool {
	s.mu.Lock()
	cur, ok := s.pipes[p.id]
	if ok && cur == p {
		delete(s.pipes, p.id)
	}
	s.mu.Unlock()
	if ok && cur == p {
		s.reporter.PipeClosed()
		return true
	}
	return false
}

// send 编码并发送消息
func (s *Session) send(m codec.Message) error {
	data, err := s.codec.Encode(m)
	if err != nil {
		return err
	}
	return s.write(m.Kind(), data)
}

// write 把已编码的帧放入连接出站队列
//
// 在事件循环协程上调用时不等待背压。
func (s *Session) write(kind codec.Kind, data []byte) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if _, err := s.ep.AsyncWrite(data); err != nil {
		if errors.Is(err, reactor.ErrEndpointClosed) {
			return fmt.Errorf("%w: %v", ErrSessionClosed, err)
		}
		return err
	}
	s.reporter.LogFrameSent(kind.String(), len(data))
	return nil
}

// receive 连接数据消费者，在事件循环协程上运行
//
// 逐条解码并分派，直到缓冲区中不再有完整的帧。
func (s *Session) receive(buf *buffer.Buffer) {
	for !s.isClosed() {
		before := buf.Len()
		m, err := s.codec.Decode(buf)
		if err != nil {
			s.violation(err)
			return
		}
		if m == nil {
			return
		}
		s.reporter.LogFrameReceived(m.Kind().String(), before-buf.Len())
		s.dispatch(m)
	}
}

// violation 协议错误，关闭连接
func (s *Session) violation(err error) {
	s.reporter.LogProtocolViolation()
	logger.Error("协议错误，关闭连接", "session", s.opts.Name, "err", err)
	s.shutdown(err)
	_ = s.ep.CloseWithError(err)
}

func (s *Session) dispatch(m codec.Message) {
	switch m := m.(type) {
	case *codec.Open:
		s.handleOpen(m)
	case *codec.Close:
		s.handleClose(m)
	case *codec.Block:
		s.handleBlock(m)
	}
}

func (s *Session) handleOpen(m *codec.Open) {
	id := PipeID(m.Pipe)
	if id.Passive() == s.opts.Passive {
		s.violation(fmt.Errorf("%w: open for pipe %s with local origination", codec.ErrProtocolViolation, id))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, live := s.pipes[id]; live {
		s.mu.Unlock()
		s.violation(fmt.Errorf("%w: open for live pipe %s", codec.ErrProtocolViolation, id))
		return
	}
	p := newPipe(s, id, m.Method)
	s.pipes[id] = p
	s.mu.Unlock()
	s.reporter.PipeOpened()

	call := &Call{Pipe: p, Method: m.Method, Params: m.Params}
	if err := s.executor.Execute(func(ctx context.Context) { s.invoke(ctx, call) }); err != nil {
		logger.Warn("入站调用无法执行", "session", s.opts.Name, "pipe", id, "err", err)
		_ = p.CloseWithError(err)
	}
}

// invoke 执行入站调用并回送唯一的 Close
func (s *Session) invoke(ctx context.Context, call *Call) {
	p := call.Pipe
	if ctx.Err() != nil {
		// 执行池在调用开始前关闭
		if err := p.sendClose(&codec.Close{Pipe: uint32(p.id), Error: errorMessage(workerpool.ErrPoolClosed)}, true); err != nil && !errors.Is(err, ErrClosedPipe) {
			logger.Debug("调用结果未发送", "session", s.opts.Name, "pipe", p.id, "err", err)
		}
		return
	}
	start := s.clock.Now()
	result, err := s.opts.Service.call(withPipe(ctx, p), call)
	s.reporter.LogInvocation(call.Method, s.clock.Since(start), err != nil)

	c := &codec.Close{Pipe: uint32(p.id), Result: result}
	if err != nil {
		c = &codec.Close{Pipe: uint32(p.id), Error: errorMessage(err)}
	}
	err = p.sendClose(c, true)
	if errors.Is(err, codec.ErrEncoding) {
		logger.Warn("调用结果无法编码", "session", s.opts.Name, "pipe", p.id, "err", err)
		err = p.sendClose(&codec.Close{Pipe: uint32(p.id), Error: err.Error()}, true)
	}
	if err != nil && !errors.Is(err, ErrClosedPipe) {
		logger.Debug("调用结果未发送", "session", s.opts.Name, "pipe", p.id, "err", err)
	}
}

func (s *Session) handleClose(m *codec.Close) {
	id := PipeID(m.Pipe)
	s.mu.Lock()
	p, ok := s.pipes[id]
	if ok {
		delete(s.pipes, id)
	}
	s.mu.Unlock()
	if !ok {
		logger.Debug("忽略未知管道的 Close", "session", s.opts.Name, "pipe", id)
		return
	}
	s.reporter.PipeClosed()
	p.remoteClose(m)
}

func (s *Session) handleBlock(m *codec.Block) {
	id := PipeID(m.Pipe)
	s.mu.Lock()
	p, ok := s.pipes[id]
	s.mu.Unlock()
	if !ok {
		logger.Debug("忽略未知管道的 Block", "session", s.opts.Name, "pipe", id)
		return
	}
	if !p.postBlock(m.Data) {
		logger.Warn("管道入站队列已满，关闭管道", "session", s.opts.Name, "pipe", id, "capacity", p.capacity)
		_ = p.CloseWithError(ErrInboundOverflow)
	}
}

// Close 关闭会话与底层连接
//
// 未完成的管道被放弃，不发送 Close 帧；等待方在 AbandonTimeout 之后收到 ErrAbandoned。
func (s *Session) Close() error {
	s.shutdown(nil)
	return s.ep.Close()
}

func (s *Session) onEndpointClosed(cause error) {
	s.shutdown(cause)
}

func (s *Session) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.cause = cause
		pipes := s.pipes
		s.pipes = make(map[PipeID]*Pipe)
		s.mu.Unlock()

		for _, p := range pipes {
			s.reporter.PipeClosed()
			p.abandon(s.opts.AbandonTimeout)
		}
		s.proxies.Purge()
		close(s.done)

		if cause != nil {
			logger.Warn("会话关闭", "session", s.opts.Name, "abandoned", len(pipes), "cause", cause)
		} else {
			logger.Info("会话关闭", "session", s.opts.Name, "abandoned", len(pipes))
		}
	})
}

func (s *Session) String() string {
	return fmt.Sprintf("Session(%s, %s)", s.opts.Name, s.id)
}
