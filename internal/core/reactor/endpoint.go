package reactor

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/dep2p/go-irpc/internal/core/buffer"
	"github.com/dep2p/go-irpc/internal/core/future"
)

// Receiver 连接数据消费者
//
// 在循环协程上调用，buf 中是所有尚未消费的字节。
// 消费者通过 buf.Consume 标记已处理的部分，未消费的字节保留到下一次调用。
type Receiver func(buf *buffer.Buffer)

// Endpoint 一个注册在 Dispatcher 上的连接
//
// 持有读写两个文件描述符（可以是同一个）、一个读缓冲区和一个出站队列。
// 同一时刻最多只有一个 Receiver，可以随时替换。
type Endpoint struct {
	name string
	d    *Dispatcher
	in   int
	out  int

	buf   *buffer.Buffer
	queue *WriteQueue

	// 仅在循环协程上访问
	receiver   Receiver
	registered bool
	released   bool

	writeArmed atomic.Bool
	closed     atomic.Bool

	hooksMu sync.Mutex
	hooks   []func(error)

	closeOnce   sync.Once
	releaseOnce sync.Once
	cause       error
	releaseErr  error
	done        chan struct{}
}

// NewEndpoint 创建尚未注册的连接
//
// in 与 out 可以是同一个 fd。连接关闭时两个 fd 都会被关闭。
func NewEndpoint(d *Dispatcher, name string, in, out int) *Endpoint {
	return &Endpoint{
		name:  name,
		d:     d,
		in:    in,
		out:   out,
		buf:   buffer.New(buffer.DefaultSize),
		queue: NewWriteQueue(d.cfg.WriteQueueCapacity),
		done:  make(chan struct{}),
	}
}

// Attach 取出 conn 的文件描述符，创建连接并注册到 d
func (d *Dispatcher) Attach(name string, conn net.Conn) (*Endpoint, error) {
	fd, err := DetachFD(conn)
	if err != nil {
		return nil, err
	}
	ep := NewEndpoint(d, name, fd, fd)
	if err := d.Register(ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// Name 返回连接名称
func (ep *Endpoint) Name() string {
	return ep.name
}

// Dispatcher 返回连接所属的事件循环
func (ep *Endpoint) Dispatcher() *Dispatcher {
	return ep.d
}

// WriteQueue 返回连接的出站队列
func (ep *Endpoint) WriteQueue() *WriteQueue {
	return ep.queue
}

// SetReceiver 替换数据消费者
//
// 在循环协程上执行；缓冲区中已有未消费的字节时立即交给新消费者。
func (ep *Endpoint) SetReceiver(r Receiver) error {
	return ep.d.Exec(func() error {
		ep.receiver = r
		if r != nil && ep.buf.Len() > 0 && !ep.closed.Load() {
			r(ep.buf)
		}
		return nil
	})
}

// AsyncWrite 将 p 放入出站队列，返回写出完成的 Future
//
// 出站队列超出容量时阻塞，直到排空或连接关闭。
// 在循环协程上调用时不做背压等待。
func (ep *Endpoint) AsyncWrite(p []byte) (*future.Future[int], error) {
	if ep.closed.Load() {
		return nil, ErrEndpointClosed
	}
	done, err := ep.queue.enqueue(p, !ep.d.InLoop())
	if err != nil {
		return nil, err
	}
	ep.armWrite()
	return done, nil
}

// Write 将 p 放入出站队列并等待写出
//
// 实现 io.Writer。在循环协程上调用返回 ErrLoopBlocked。
func (ep *Endpoint) Write(p []byte) (int, error) {
	if ep.d.InLoop() {
		return 0, ErrLoopBlocked
	}
	done, err := ep.AsyncWrite(p)
	if err != nil {
		return 0, err
	}
	return done.WaitTimeout(0)
}

// armWrite 在有数据待写时开启写就绪关注
func (ep *Endpoint) armWrite() {
	if !ep.writeArmed.CompareAndSwap(false, true) {
		return
	}
	ep.d.Submit(func() error {
		if err := ep.d.setWriteInterest(ep, true); err != nil {
			ep.shutdown(err)
		}
		return nil
	})
}

// OnClose 注册连接关闭回调，参数为关闭原因（正常关闭为 nil）
//
// 连接已经关闭时立即调用。
func (ep *Endpoint) OnClose(fn func(error)) {
	ep.hooksMu.Lock()
	select {
	case <-ep.done:
		ep.hooksMu.Unlock()
		fn(ep.cause)
		return
	default:
	}
	ep.hooks = append(ep.hooks, fn)
	ep.hooksMu.Unlock()
}

// Done 返回连接关闭通知
func (ep *Endpoint) Done() <-chan struct{} {
	return ep.done
}

// IsClosed 连接是否已经开始关闭
func (ep *Endpoint) IsClosed() bool {
	return ep.closed.Load()
}

// Close 关闭连接并等待资源释放
//
// 排队中尚未写出的数据被丢弃，其 Future 以 ErrEndpointClosed 失败。
func (ep *Endpoint) Close() error {
	ep.shutdown(nil)
	if !ep.d.InLoop() {
		<-ep.done
	}
	return ep.releaseErr
}

// CloseWithError 以 cause 为关闭原因关闭连接，OnClose 回调收到 cause
func (ep *Endpoint) CloseWithError(cause error) error {
	ep.shutdown(cause)
	if !ep.d.InLoop() {
		<-ep.done
	}
	return ep.releaseErr
}

// shutdown 开始关闭连接，cause 为关闭原因
func (ep *Endpoint) shutdown(cause error) {
	ep.closeOnce.Do(func() {
		ep.closed.Store(true)
		ep.cause = cause
		ep.queue.Close(ErrEndpointClosed)

		if ep.d.InLoop() {
			ep.release()
			return
		}
		f := ep.d.Submit(func() error {
			ep.release()
			return nil
		})
		go func() {
			if _, err := f.WaitTimeout(0); err != nil {
				// 事件循环已停止：退出清理会释放已注册的连接
				<-ep.d.done
				ep.release()
			}
		}()
	})
}

// release 注销并关闭 fd，然后执行关闭回调
//
// 在循环协程上，或事件循环退出之后调用。
func (ep *Endpoint) release() {
	ep.releaseOnce.Do(func() {
		ep.d.unregister(ep)
		ep.released = true
		ep.receiver = nil
		ep.buf.Reset()

		err := closeFD(ep.in)
		if ep.out != ep.in {
			err = multierr.Append(err, closeFD(ep.out))
		}
		if err != nil {
			ep.releaseErr = fmt.Errorf("%w: %v", ErrIO, err)
		}

		ep.hooksMu.Lock()
		hooks := ep.hooks
		ep.hooks = nil
		close(ep.done)
		ep.hooksMu.Unlock()

		for _, fn := range hooks {
			fn(ep.cause)
		}
		logger.Debug("连接已关闭", "endpoint", ep.name, "cause", ep.cause)
	})
}

// handleRead 读就绪：一次非阻塞读取，追加到缓冲区并通知消费者
func (ep *Endpoint) handleRead(scratch []byte) error {
	n, err := readFD(ep.in, scratch)
	if err != nil {
		if isWouldBlock(err) {
			return nil
		}
		return fmt.Errorf("%w: read %s: %v", ErrIO, ep.name, err)
	}
	if n <= 0 {
		return io.EOF
	}

	ep.d.reporter.LogBytesRead(n)
	ep.buf.Append(scratch[:n])
	if ep.receiver != nil {
		ep.receiver(ep.buf)
	}
	return nil
}

// handleWrite 写就绪：排空出站队列直到写满或队列为空
func (ep *Endpoint) handleWrite() error {
	for {
		blocked := false
		more, err := ep.queue.Drain(func(p []byte) (int, error) {
			n, err := writeFD(ep.out, p)
			if err != nil {
				if isWouldBlock(err) {
					blocked = true
					return 0, nil
				}
				return 0, err
			}
			ep.d.reporter.LogBytesWritten(n)
			return n, nil
		})
		if err != nil {
			return fmt.Errorf("%w: write %s: %v", ErrIO, ep.name, err)
		}
		if !more {
			return ep.disarmWrite()
		}
		if blocked {
			return nil
		}
	}
}

// disarmWrite 队列排空后关闭写就绪关注
//
// 先清除标记再复查队列：与并发入队交错时保证不会丢失写就绪关注。
func (ep *Endpoint) disarmWrite() error {
	ep.writeArmed.Store(false)
	if err := ep.d.setWriteInterest(ep, false); err != nil {
		return err
	}
	if ep.queue.Len() > 0 && ep.writeArmed.CompareAndSwap(false, true) {
		return ep.d.setWriteInterest(ep, true)
	}
	return nil
}
