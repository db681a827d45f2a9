package session

import (
	"io"

	"github.com/dep2p/go-irpc/internal/protocol/codec"
)

// Reader 管道入站数据块的流式读取
//
// 队列为空且管道未关闭时阻塞；管道关闭且队列为空后返回 io.EOF。
// 管道被放弃时返回放弃原因。Reader 不是并发安全的。
type Reader struct {
	pipe    *Pipe
	current []byte
}

var _ io.Reader = (*Reader)(nil)

// Read 实现 io.Reader
func (r *Reader) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	for len(r.current) == 0 {
		if next := r.pipe.nextBlock(); next != nil {
			r.current = next
			break
		}
		if r.pipe.IsClosed() {
			return 0, r.endErr()
		}
		select {
		case <-r.pipe.notify:
		case <-r.pipe.closeF.Done():
		case <-r.pipe.session.Done():
			if next := r.pipe.nextBlock(); next != nil {
				r.current = next
				continue
			}
			return 0, ErrSessionClosed
		}
	}

	n := copy(b, r.current)
	r.current = r.current[n:]
	return n, nil
}

func (r *Reader) endErr() error {
	if err := r.pipe.closeF.Err(); err != nil {
		return err
	}
	return io.EOF
}

// Writer 管道的流式写入
//
// 每次 Write 发送一个 Block 帧，不做合并；
// 超过单帧容量的写入被拆分为多个 Block。
type Writer struct {
	pipe *Pipe
}

var _ io.Writer = (*Writer)(nil)

// Write 实现 io.Writer
func (w *Writer) Write(b []byte) (int, error) {
	written := 0
	for len(b) > 0 {
		n := len(b)
		if n > codec.MaxBlockData {
			n = codec.MaxBlockData
		}
		if err := w.pipe.SendBlock(b[:n]); err != nil {
			return written, err
		}
		written += n
		b = b[n:]
	}
	return written, nil
}

// ReadFrom 实现 io.ReaderFrom，按单帧容量分块发送
func (w *Writer) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, codec.MaxBlockData)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := w.pipe.SendBlock(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
