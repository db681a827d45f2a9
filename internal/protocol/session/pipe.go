package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dep2p/go-irpc/internal/core/future"
	"github.com/dep2p/go-irpc/internal/protocol/codec"
)

// PipeID 管道标识，最高位标记创建方
type PipeID uint32

// PassiveMask 被动方创建的管道 ID 最高位为 1
const PassiveMask PipeID = 0x80000000

// Passive 是否由被动方创建
func (id PipeID) Passive() bool {
	return id&PassiveMask != 0
}

// String 返回十六进制表示
func (id PipeID) String() string {
	return fmt.Sprintf("%08X", uint32(id))
}

// Pipe 会话上的一个逻辑调用或数据流
//
// 生命周期：本地 Open 或收到 Open 时创建，之后收发零个或多个 Block，
// 发送或收到一个 Close 后终止并从会话的管道表中移除。
type Pipe struct {
	id      PipeID
	method  uint16
	session *Session
	closeF  *future.Future[*codec.Close]

	// sent 本端是否已发送 Close
	sent atomic.Bool

	mu       sync.Mutex
	blocks   [][]byte
	capacity int
	notify   chan struct{}

	readerOnce sync.Once
	reader     *Reader
}

func newPipe(s *Session, id PipeID, method uint16) *Pipe {
	return &Pipe{
		id:       id,
		method:   method,
		session:  s,
		closeF:   future.NewWithClock[*codec.Close](s.clock),
		capacity: s.opts.InboundQueueCapacity,
		notify:   make(chan struct{}, 1),
	}
}

// ID 返回管道标识
func (p *Pipe) ID() PipeID {
	return p.id
}

// Method 返回管道调用的方法 ID
func (p *Pipe) Method() uint16 {
	return p.method
}

// Session 返回管道所属会话
func (p *Pipe) Session() *Session {
	return p.session
}

// Done 返回管道完成通知（收到或发送 Close、或被放弃）
func (p *Pipe) Done() <-chan struct{} {
	return p.closeF.Done()
}

// IsClosed 是否已经收到或发送 Close
func (p *Pipe) IsClosed() bool {
	return p.closeF.IsDone() || p.sent.Load()
}

// WaitForClose 等待管道的 Close，timeout <= 0 表示不限时
//
// 超时返回 ErrTimeout，管道仍然存活，调用方可继续等待或调用 Cancel；
// 会话关闭后管道被放弃时返回 ErrAbandoned。
// 返回的 Close 可能携带错误信息，由调用方检查。
func (p *Pipe) WaitForClose(timeout time.Duration) (*codec.Close, error) {
	c, err := p.closeF.WaitTimeout(timeout)
	if errors.Is(err, future.ErrTimeout) {
		return nil, ErrTimeout
	}
	return c, err
}

// Wait 等待管道的 Close 或 ctx 结束
func (p *Pipe) Wait(ctx context.Context) (*codec.Close, error) {
	return p.closeF.Wait(ctx)
}

// Result 等待 Close 并返回调用结果
//
// Close 携带错误信息时返回 *RemoteError。
func (p *Pipe) Result(ctx context.Context) (any, error) {
	c, err := p.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if c.Failed() {
		return nil, &RemoteError{Pipe: p.id, Message: c.Error}
	}
	return c.Result, nil
}

// SendBlock 发送一个 Block 帧
//
// 管道已关闭返回 ErrClosedPipe，data 超过单帧容量返回 codec.ErrEncoding。
func (p *Pipe) SendBlock(data []byte) error {
	if p.IsClosed() {
		return ErrClosedPipe
	}
	return p.session.send(&codec.Block{Pipe: uint32(p.id), Data: data})
}

// Close 以结果关闭管道
func (p *Pipe) Close(result any) error {
	return p.sendClose(&codec.Close{Pipe: uint32(p.id), Result: result}, false)
}

// CloseWithError 以错误关闭管道，err 被字符串化后发送给对端
func (p *Pipe) CloseWithError(err error) error {
	return p.sendClose(&codec.Close{Pipe: uint32(p.id), Error: errorMessage(err)}, false)
}

// Cancel 放弃等待中的管道：以 err 关闭并通知对端
//
// 管道已结束或会话已关闭时无操作。WaitForClose 或 Wait 超时后
// 不再关心结果的调用方应调用 Cancel，否则管道一直留在会话中。
func (p *Pipe) Cancel(err error) {
	cerr := p.CloseWithError(err)
	if cerr != nil && !errors.Is(cerr, ErrClosedPipe) && !errors.Is(cerr, ErrSessionClosed) {
		logger.Debug("取消管道失败", "session", p.session.opts.Name, "pipe", p.id, "err", cerr)
	}
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fmt.Sprintf("%T", err)
}

// sendClose 编码并发送 Close，移除管道并在本地完成 Close
//
// force 为 true 时即使已收到对端的 Close 也发送（入站调用完成时使用），
// 本端发送过的 Close 不会重复发送。
func (p *Pipe) sendClose(c *codec.Close, force bool) error {
	if !force && p.closeF.IsDone() {
		return ErrClosedPipe
	}
	if p.session.isClosed() {
		return ErrSessionClosed
	}
	data, err := p.session.codec.Encode(c)
	if err != nil {
		return err
	}
	if !p.sent.CompareAndSwap(false, true) {
		return ErrClosedPipe
	}

	p.session.remove(p)
	err = p.session.write(codec.KindClose, data)
	p.discardBlocks()
	p.closeF.Resolve(c)
	return err
}

// remoteClose 收到对端 Close，由会话在循环协程上调用
func (p *Pipe) remoteClose(c *codec.Close) {
	p.closeF.Resolve(c)
	p.discardBlocks()
}

// abandon 会话关闭时放弃管道，不发送 Close
func (p *Pipe) abandon(timeout time.Duration) {
	if p.closeF.IsDone() {
		return
	}
	if timeout <= 0 {
		p.closeF.Fail(ErrAbandoned)
		return
	}
	p.closeF.FailAfter(timeout, ErrAbandoned)
}

// postBlock 追加入站数据块，队列已满时返回 false
func (p *Pipe) postBlock(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	p.mu.Lock()
	if len(p.blocks) >= p.capacity {
		p.mu.Unlock()
		return false
	}
	p.blocks = append(p.blocks, data)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return true
}

// nextBlock 取出下一个数据块，没有时返回 nil
func (p *Pipe) nextBlock() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.blocks) == 0 {
		return nil
	}
	b := p.blocks[0]
	p.blocks[0] = nil
	p.blocks = p.blocks[1:]
	return b
}

func (p *Pipe) discardBlocks() {
	p.mu.Lock()
	p.blocks = nil
	p.mu.Unlock()
}

// Reader 返回管道的流式读取视图
func (p *Pipe) Reader() *Reader {
	p.readerOnce.Do(func() {
		p.reader = &Reader{pipe: p}
	})
	return p.reader
}

// Writer 返回管道的流式写入视图
func (p *Pipe) Writer() *Writer {
	return &Writer{pipe: p}
}

func (p *Pipe) String() string {
	return fmt.Sprintf("Pipe(%s, method=%d)", p.id, p.method)
}
