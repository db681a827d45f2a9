// Package buffer 提供连接读路径使用的可增长字节累加器
//
// Buffer 只在尾部追加、只从头部消费：
//   - Append 在容量不足时按需求的约 1.2 倍扩容
//   - 剩余尾部空间足够时原地压缩，不重新分配
//   - Consume 只移动读偏移，不搬移内存
//   - View 直接暴露未消费的字节，不拷贝
//
// Buffer 不是并发安全的。每个连接持有一个 Buffer，
// 由 reactor 循环协程与该连接的接收回调串行访问。
package buffer

import (
	"fmt"

	"github.com/dep2p/go-irpc/pkg/lib/log"
)

var logger = log.Logger("core/buffer")

// DefaultSize 默认初始容量
const DefaultSize = 1024

// growFactor 扩容时相对实际需求保留的余量
const growFactor = 1.2

// Buffer 字节累加器
//
// 不变量：offset + length <= cap(buf)
type Buffer struct {
	buf    []byte
	offset int
	length int
}

// New 创建指定初始容量的 Buffer
func New(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Buffer{buf: make([]byte, size)}
}

// Len 返回未消费的字节数
func (b *Buffer) Len() int {
	return b.length
}

// Cap 返回底层缓冲区容量
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// View 返回未消费字节的切片视图
//
// 返回的切片在下一次 Append 之前有效。
func (b *Buffer) View() []byte {
	return b.buf[b.offset : b.offset+b.length]
}

// Append 追加字节
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	total := b.prepare(len(p))
	copy(b.buf[b.offset+b.length:], p)
	b.length = total
}

// Consume 消费头部 n 个字节
//
// n 超过 Len() 属于调用方错误，直接 panic。
func (b *Buffer) Consume(n int) {
	if n < 0 || n > b.length {
		panic(fmt.Sprintf("buffer: consume %d of %d bytes", n, b.length))
	}
	b.offset += n
	b.length -= n
	if b.length == 0 {
		b.offset = 0
	}
}

// Reset 丢弃所有未消费字节
func (b *Buffer) Reset() {
	b.offset = 0
	b.length = 0
}

// prepare 保证尾部可以再写入 n 字节，返回写入后的总长度
func (b *Buffer) prepare(n int) int {
	total := b.length + n
	switch {
	case total > len(b.buf):
		grown := make([]byte, int(float64(total)*growFactor)+1)
		logger.Debug("扩展缓冲区", "from", len(b.buf), "to", len(grown), "need", total)
		copy(grown, b.buf[b.offset:b.offset+b.length])
		b.buf = grown
		b.offset = 0
	case b.offset+total > len(b.buf):
		copy(b.buf, b.buf[b.offset:b.offset+b.length])
		b.offset = 0
	}
	return total
}
