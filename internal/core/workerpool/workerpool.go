// Package workerpool 执行入站调用的协程池
//
// 事件循环协程把服务方法交给 Executor 执行，Execute 从不阻塞调用方：
// 每个任务在独立协程中先等待限速许可，再获取并发信号量，然后运行。
// 慢速或阻塞的服务方法因此不会拖住事件循环。
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-irpc/config"
	"github.com/dep2p/go-irpc/pkg/lib/log"
)

var logger = log.Logger("core/workerpool")

// ErrPoolClosed 执行池已关闭
var ErrPoolClosed = errors.New("workerpool: closed")

// Task 在执行池中运行的任务，ctx 在执行池关闭时取消
//
// 执行池关闭时尚未开始的任务仍被调用一次，此时 ctx 已经取消，
// 任务应检查 ctx.Err() 并放弃执行。
type Task func(ctx context.Context)

// Executor 任务执行边界
type Executor interface {
	// Execute 安排 task 异步执行，不得阻塞调用方
	Execute(task Task) error
}

// ExecutorFunc 函数形式的 Executor
type ExecutorFunc func(task Task) error

// Execute 实现 Executor
func (f ExecutorFunc) Execute(task Task) error {
	return f(task)
}

// Config 执行池配置
type Config struct {
	// Concurrency 同时运行的任务数上限
	Concurrency int

	// RateLimit 每秒允许开始的任务数，0 表示不限速
	RateLimit float64

	// Burst 限速桶容量
	Burst int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return ConfigFromUnified(nil)
}

// ConfigFromUnified 从统一配置创建执行池配置
func ConfigFromUnified(cfg *config.Config) Config {
	wc := config.DefaultWorkerConfig()
	if cfg != nil {
		wc = cfg.Worker
	}
	return Config{
		Concurrency: wc.Concurrency,
		RateLimit:   wc.RateLimit,
		Burst:       wc.Burst,
	}
}

// Pool 有界并发的执行池
type Pool struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	running atomic.Int64
	pending atomic.Int64
}

var _ Executor = (*Pool)(nil)

// New 创建执行池
func New(cfg Config) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = config.DefaultWorkerConfig().Concurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		sem:    semaphore.NewWeighted(int64(cfg.Concurrency)),
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return p
}

// Execute 实现 Executor
//
// 执行池关闭后返回 ErrPoolClosed。尚未开始的任务在关闭时以已取消的 ctx 调用。
func (p *Pool) Execute(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.wg.Add(1)
	p.pending.Add(1)
	go p.run(task)
	return nil
}

func (p *Pool) run(task Task) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("任务 panic", "panic", r)
		}
	}()

	if !p.admit() {
		p.pending.Add(-1)
		// 未开始的任务以已取消的 ctx 调用一次，由任务自行清理
		task(p.ctx)
		return
	}
	defer p.sem.Release(1)

	p.pending.Add(-1)
	p.running.Add(1)
	defer p.running.Add(-1)
	task(p.ctx)
}

// admit 等待限速许可和执行槽位，执行池关闭时返回 false
func (p *Pool) admit() bool {
	if p.limiter != nil {
		if err := p.limiter.Wait(p.ctx); err != nil {
			logger.Debug("任务未获得限速许可", "err", err)
			return false
		}
	}
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		logger.Debug("任务未获得执行槽位", "err", err)
		return false
	}
	if p.ctx.Err() != nil {
		p.sem.Release(1)
		return false
	}
	return true
}

// Running 返回正在运行的任务数
func (p *Pool) Running() int {
	return int(p.running.Load())
}

// Pending 返回已提交但尚未开始的任务数
func (p *Pool) Pending() int {
	return int(p.pending.Load())
}

// Close 关闭执行池，等待运行中的任务结束或 ctx 到期
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workerpool: %d tasks still running: %w", p.Running(), ctx.Err())
	}
}

// CloseTimeout 以超时关闭执行池
func (p *Pool) CloseTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return p.Close(ctx)
}
