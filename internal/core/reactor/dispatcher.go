package reactor

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dep2p/go-irpc/config"
	"github.com/dep2p/go-irpc/internal/core/future"
	"github.com/dep2p/go-irpc/internal/core/metrics"
	"github.com/dep2p/go-irpc/pkg/lib/log"
)

var logger = log.Logger("core/reactor")

var dispatcherSeq atomic.Uint64

// Config 事件循环配置
type Config struct {
	// Name 事件循环名称，用于日志
	Name string

	// ReadBufferSize 所有连接共享的单次读取缓冲区大小
	ReadBufferSize int

	// PollTimeout 单轮等待的最长时间
	PollTimeout time.Duration

	// MaxEvents 单轮最多处理的就绪事件数
	MaxEvents int

	// WriteQueueCapacity 新连接出站队列的字节容量
	WriteQueueCapacity int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return ConfigFromUnified(nil)
}

// ConfigFromUnified 从统一配置创建事件循环配置
func ConfigFromUnified(cfg *config.Config) Config {
	rc := config.DefaultReactorConfig()
	if cfg != nil {
		rc = cfg.Reactor
	}
	return Config{
		ReadBufferSize:     rc.ReadBufferSize,
		PollTimeout:        rc.PollTimeout.Duration(),
		MaxEvents:          rc.MaxEvents,
		WriteQueueCapacity: rc.WriteQueueCapacity,
	}
}

type task struct {
	fn   func() error
	done *future.Future[struct{}]
}

// Dispatcher 单协程事件循环
//
// 所有连接的读写就绪处理与提交的任务都在同一个循环协程上串行执行，
// 同一 Dispatcher 上任意两个连接的 I/O 回调不会并发运行。
// 循环协程锁定在自己的 OS 线程上，并以线程 ID 识别自身。
type Dispatcher struct {
	name     string
	cfg      Config
	reporter metrics.Reporter

	poller  *poller
	readBuf []byte

	mu     sync.Mutex
	tasks  []task
	closed bool

	loopTID  atomic.Int64
	stopping atomic.Bool

	// 仅在循环协程上访问
	endpoints map[int]*Endpoint

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewDispatcher 创建并启动事件循环
func NewDispatcher(cfg Config, reporter metrics.Reporter) (*Dispatcher, error) {
	def := DefaultConfig()
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = def.ReadBufferSize
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = def.MaxEvents
	}
	if cfg.WriteQueueCapacity <= 0 {
		cfg.WriteQueueCapacity = def.WriteQueueCapacity
	}
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("dispatcher-%d", dispatcherSeq.Add(1))
	}

	p, err := newPoller(cfg.MaxEvents)
	if err != nil {
		if errors.Is(err, ErrUnsupportedPlatform) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	d := &Dispatcher{
		name:      cfg.Name,
		cfg:       cfg,
		reporter:  metrics.OrNop(reporter),
		poller:    p,
		readBuf:   make([]byte, cfg.ReadBufferSize),
		endpoints: make(map[int]*Endpoint),
		done:      make(chan struct{}),
	}

	started := make(chan struct{})
	go d.run(started)
	<-started

	logger.Debug("事件循环已启动", "name", d.name)
	return d, nil
}

// Name 返回事件循环名称
func (d *Dispatcher) Name() string {
	return d.name
}

// WriteQueueCapacity 返回新连接出站队列的默认容量
func (d *Dispatcher) WriteQueueCapacity() int {
	return d.cfg.WriteQueueCapacity
}

// InLoop 当前协程是否为事件循环协程
func (d *Dispatcher) InLoop() bool {
	tid := d.loopTID.Load()
	return tid != 0 && int64(threadID()) == tid
}

// Submit 提交在循环协程上执行的任务
//
// 任务按提交顺序执行且只执行一次。在循环协程上调用时立即内联执行。
// 事件循环已停止时返回以 ErrReactorClosed 失败的 Future。
func (d *Dispatcher) Submit(fn func() error) *future.Future[struct{}] {
	t := task{fn: fn, done: future.New[struct{}]()}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		t.done.Fail(ErrReactorClosed)
		return t.done
	}
	if d.InLoop() {
		d.mu.Unlock()
		d.runTask(t)
		return t.done
	}
	d.tasks = append(d.tasks, t)
	d.wakeLocked()
	d.mu.Unlock()
	return t.done
}

// wakeLocked 唤醒阻塞在轮询中的循环，调用方持有 d.mu
//
// 轮询器只在 closed 置位之后释放，持锁检查可避免写入已关闭的 eventfd。
func (d *Dispatcher) wakeLocked() {
	if d.closed {
		return
	}
	if err := d.poller.wakeup(); err != nil {
		logger.Warn("唤醒事件循环失败", "name", d.name, "err", err)
	}
}

// Exec 提交任务并等待完成
func (d *Dispatcher) Exec(fn func() error) error {
	_, err := d.Submit(fn).WaitTimeout(0)
	return err
}

// Register 将连接注册到事件循环
//
// 在循环协程上执行：设置非阻塞模式并只关注读就绪。
// 失败时连接被关闭并返回 ErrIO。
func (d *Dispatcher) Register(ep *Endpoint) error {
	if ep.d != d {
		return fmt.Errorf("%w: endpoint %s belongs to another dispatcher", ErrIO, ep.name)
	}
	err := d.Exec(func() error {
		if ep.closed.Load() {
			return ErrEndpointClosed
		}
		if err := d.register(ep); err != nil {
			return fmt.Errorf("%w: register %s: %v", ErrIO, ep.name, err)
		}
		return nil
	})
	if err != nil {
		ep.shutdown(err)
		return err
	}
	return nil
}

func (d *Dispatcher) register(ep *Endpoint) error {
	if err := setNonblock(ep.in); err != nil {
		return err
	}
	if ep.out != ep.in {
		if err := setNonblock(ep.out); err != nil {
			return err
		}
	}

	if ep.out == ep.in {
		if err := d.poller.add(ep.in, interest(true, false)); err != nil {
			return err
		}
	} else {
		if err := d.poller.add(ep.in, interest(true, false)); err != nil {
			return err
		}
		if err := d.poller.add(ep.out, interest(false, false)); err != nil {
			_ = d.poller.remove(ep.in)
			return err
		}
	}

	d.endpoints[ep.in] = ep
	d.endpoints[ep.out] = ep
	ep.registered = true
	d.reporter.ConnectionOpened()
	logger.Debug("连接已注册", "dispatcher", d.name, "endpoint", ep.name, "in", ep.in, "out", ep.out)
	return nil
}

// SetWriteInterest 开启或关闭连接的写就绪关注，不影响读就绪关注
func (d *Dispatcher) SetWriteInterest(ep *Endpoint, on bool) error {
	return d.Exec(func() error {
		return d.setWriteInterest(ep, on)
	})
}

// setWriteInterest 仅在循环协程上调用
func (d *Dispatcher) setWriteInterest(ep *Endpoint, on bool) error {
	if !ep.registered || ep.released {
		return nil
	}
	var err error
	if ep.out == ep.in {
		err = d.poller.modify(ep.in, interest(true, on))
	} else {
		err = d.poller.modify(ep.out, interest(false, on))
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// unregister 仅在循环协程上调用
func (d *Dispatcher) unregister(ep *Endpoint) {
	if !ep.registered {
		return
	}
	if err := d.poller.remove(ep.in); err != nil {
		logger.Debug("注销读端失败", "endpoint", ep.name, "err", err)
	}
	if ep.out != ep.in {
		if err := d.poller.remove(ep.out); err != nil {
			logger.Debug("注销写端失败", "endpoint", ep.name, "err", err)
		}
	}
	delete(d.endpoints, ep.in)
	delete(d.endpoints, ep.out)
	ep.registered = false
	d.reporter.ConnectionClosed()
}

// Close 停止事件循环并等待退出
//
// 剩余连接全部关闭，未执行的任务以 ErrReactorClosed 失败。
// 重复调用返回首次关闭的结果。在循环协程上调用时只发出停止请求。
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		d.stopping.Store(true)
		if d.InLoop() {
			return
		}
		d.mu.Lock()
		d.wakeLocked()
		d.mu.Unlock()
	})
	if d.InLoop() {
		return nil
	}
	<-d.done
	return d.closeErr
}

// Done 返回事件循环退出通知
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) run(started chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	d.loopTID.Store(int64(threadID()))
	close(started)

	logger.Debug("开始事件循环", "name", d.name)
	for !d.stopping.Load() {
		events, err := d.poller.wait(d.cfg.PollTimeout)
		if err != nil {
			logger.Error("等待就绪事件失败", "name", d.name, "err", err)
			d.closeErr = fmt.Errorf("%w: %v", ErrIO, err)
			break
		}

		d.runTasks()

		for _, ev := range events {
			d.dispatch(ev)
		}
	}

	d.shutdown()
	d.loopTID.Store(0)
	close(d.done)
	logger.Debug("事件循环已退出", "name", d.name)
}

func (d *Dispatcher) runTasks() {
	for {
		d.mu.Lock()
		tasks := d.tasks
		d.tasks = nil
		d.mu.Unlock()

		if len(tasks) == 0 {
			return
		}
		for i, t := range tasks {
			if d.stopping.Load() {
				// 停止请求之后的任务留给 shutdown 以 ErrReactorClosed 失败
				d.mu.Lock()
				d.tasks = append(tasks[i:len(tasks):len(tasks)], d.tasks...)
				d.mu.Unlock()
				return
			}
			d.runTask(t)
		}
	}
}

func (d *Dispatcher) runTask(t task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("任务 panic", "name", d.name, "panic", r)
			t.done.Fail(fmt.Errorf("reactor: task panic: %v", r))
		}
	}()
	if err := t.fn(); err != nil {
		t.done.Fail(err)
		return
	}
	t.done.Resolve(struct{}{})
}

// dispatch 处理一个就绪事件，连接上的任何失败只关闭该连接
func (d *Dispatcher) dispatch(ev event) {
	ep := d.endpoints[ev.fd]
	if ep == nil {
		return
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("reactor: receiver panic: %v", r)
			}
		}()
		if ev.fd == ep.in && isReadable(ev.events) {
			if err := ep.handleRead(d.readBuf); err != nil {
				return err
			}
		}
		// 独立的写端被挂断时，空队列下没有写操作能暴露错误，直接关闭
		if ev.fd == ep.out && ep.out != ep.in && isHangup(ev.events) {
			return fmt.Errorf("%w: write side of %s hung up (events 0x%x)", ErrIO, ep.name, ev.events)
		}
		if ev.fd == ep.out && isWritable(ev.events) && !ep.closed.Load() {
			return ep.handleWrite()
		}
		return nil
	}()

	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		logger.Debug("对端关闭连接", "endpoint", ep.name)
		ep.shutdown(nil)
	default:
		logger.Debug("连接处理失败，关闭连接", "endpoint", ep.name, "err", err)
		ep.shutdown(err)
	}
}

// shutdown 在循环协程上执行的退出清理
func (d *Dispatcher) shutdown() {
	d.mu.Lock()
	d.closed = true
	pending := d.tasks
	d.tasks = nil
	d.mu.Unlock()

	for _, t := range pending {
		t.done.Fail(ErrReactorClosed)
	}

	eps := make(map[*Endpoint]struct{}, len(d.endpoints))
	for _, ep := range d.endpoints {
		eps[ep] = struct{}{}
	}
	for ep := range eps {
		ep.shutdown(ErrReactorClosed)
		ep.release()
	}

	if err := d.poller.close(); err != nil {
		logger.Warn("释放轮询器失败", "name", d.name, "err", err)
	}
}
