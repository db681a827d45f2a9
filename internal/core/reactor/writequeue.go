package reactor

import (
	"sync"

	"github.com/dep2p/go-irpc/internal/core/future"
)

// DefaultWriteQueueCapacity 出站队列默认字节容量
const DefaultWriteQueueCapacity = 1 << 20

type writeItem struct {
	data []byte
	size int
	done *future.Future[int]
}

// WriteQueue 有界出站队列
//
// 按入队顺序写出，以未写出的总字节数对照容量实现背压：
// 入队会使总字节数超过容量时，生产者阻塞直到排空。
// 队列为空时任何大小的数据都会被接纳，避免超大帧永远阻塞。
// 数据不会被拆分或重排，每个入队项在全部写出后完成其 Future。
type WriteQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []*writeItem
	length   int
	capacity int
	closed   error
}

// NewWriteQueue 创建指定字节容量的出站队列
func NewWriteQueue(capacity int) *WriteQueue {
	if capacity <= 0 {
		capacity = DefaultWriteQueueCapacity
	}
	q := &WriteQueue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Len 返回尚未写出的字节数
func (q *WriteQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}

// Capacity 返回队列字节容量
func (q *WriteQueue) Capacity() int {
	return q.capacity
}

// Enqueue 追加一段数据，超出容量时阻塞
//
// 返回的 Future 在数据全部写出后以字节数完成，队列关闭时以关闭原因失败。
// 入队后调用方不得再修改 p。
func (q *WriteQueue) Enqueue(p []byte) (*future.Future[int], error) {
	return q.enqueue(p, true)
}

// enqueue wait 为 false 时不做背压等待，供事件循环协程使用
func (q *WriteQueue) enqueue(p []byte, wait bool) (*future.Future[int], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for wait && q.closed == nil && q.length > 0 && q.length+len(p) > q.capacity {
		logger.Debug("出站队列已满，等待排空", "length", q.length, "size", len(p), "capacity", q.capacity)
		q.cond.Wait()
	}
	if q.closed != nil {
		return nil, q.closed
	}

	done := future.New[int]()
	if len(p) == 0 {
		done.Resolve(0)
		return done, nil
	}
	q.items = append(q.items, &writeItem{data: p, size: len(p), done: done})
	q.length += len(p)
	return done, nil
}

// Drain 用一次 write 调用尽量写出队首数据
//
// 队首数据全部写出时完成其 Future 并前进到下一项。
// 返回值 more 表示是否仍有未写出的数据，调用方据此决定是否保留写就绪关注。
func (q *WriteQueue) Drain(write func([]byte) (int, error)) (more bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return false, nil
	}

	head := q.items[0]
	n, err := write(head.data)
	if n > 0 {
		head.data = head.data[n:]
		q.length -= n
		q.cond.Broadcast()
	}
	if len(head.data) == 0 {
		q.items[0] = nil
		q.items = q.items[1:]
		head.done.Resolve(head.size)
	}
	return q.length > 0, err
}

// Close 关闭队列
//
// 所有未写出的项以 err 失败，阻塞中的生产者以 err 返回。
// 重复调用无效果。
func (q *WriteQueue) Close(err error) {
	if err == nil {
		err = ErrEndpointClosed
	}

	q.mu.Lock()
	if q.closed != nil {
		q.mu.Unlock()
		return
	}
	q.closed = err
	pending := q.items
	q.items = nil
	q.length = 0
	q.cond.Broadcast()
	q.mu.Unlock()

	for _, it := range pending {
		it.done.Fail(err)
	}
}
