//go:build linux

package reactor

import (
	"encoding/binary"
	"fmt"
	"net"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// event 一个就绪通知
type event struct {
	fd     int
	events uint32
}

// poller 基于 epoll 的就绪通知，eventfd 用于跨协程唤醒
type poller struct {
	epfd   int
	wakefd int
	raw    []unix.EpollEvent
	ready  []event
}

func newPoller(maxEvents int) (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	p := &poller{
		epfd:   epfd,
		wakefd: wakefd,
		raw:    make([]unix.EpollEvent, maxEvents),
		ready:  make([]event, 0, maxEvents),
	}
	if err := p.add(wakefd, unix.EPOLLIN); err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

func (p *poller) add(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	return nil
}

func (p *poller) modify(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl mod fd %d: %w", fd, err)
	}
	return nil
}

func (p *poller) remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
	}
	return nil
}

// wait 等待就绪事件，返回的切片在下一次 wait 前有效
//
// 唤醒事件在内部消费，不出现在返回值中。
func (p *poller) wait(timeout time.Duration) ([]event, error) {
	n, err := unix.EpollWait(p.epfd, p.raw, int(timeout/time.Millisecond))
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}

	p.ready = p.ready[:0]
	for i := 0; i < n; i++ {
		fd := int(p.raw[i].Fd)
		if fd == p.wakefd {
			p.drainWakeup()
			continue
		}
		p.ready = append(p.ready, event{fd: fd, events: p.raw[i].Events})
	}
	return p.ready, nil
}

func (p *poller) wakeup() error {
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(p.wakefd, one[:]); err != nil && err != unix.EAGAIN {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (p *poller) drainWakeup() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakefd, buf[:]); err != nil {
			return
		}
	}
}

func (p *poller) close() error {
	return multierr.Combine(unix.Close(p.wakefd), unix.Close(p.epfd))
}

// interest 计算 fd 的关注事件
func interest(read, write bool) uint32 {
	var ev uint32
	if read {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if write {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func isReadable(ev uint32) bool {
	return ev&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0
}

func isWritable(ev uint32) bool {
	return ev&(unix.EPOLLOUT|unix.EPOLLERR) != 0
}

// isHangup 对端挂断或 fd 出错，epoll 不论关注集合如何都会上报
func isHangup(ev uint32) bool {
	return ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0
}

func threadID() int {
	return unix.Gettid()
}

func setNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}

func readFD(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func writeFD(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Write(fd, p)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func closeFD(fd int) error {
	return unix.Close(fd)
}

func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

// DetachFD 从 net.Conn 中取出一个独立持有的文件描述符
//
// conn 必须实现 syscall.Conn（*net.TCPConn、*net.UnixConn 等）。
// 成功后 conn 被关闭，返回的 fd 由调用方（通常是 Endpoint）负责关闭。
func DetachFD(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1, fmt.Errorf("%w: %T does not expose a file descriptor", ErrIO, conn)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, fmt.Errorf("%w: %v", ErrIO, err)
	}

	fd := -1
	var dupErr error
	err = raw.Control(func(s uintptr) {
		fd, dupErr = unix.FcntlInt(s, unix.F_DUPFD_CLOEXEC, 0)
	})
	if err == nil {
		err = dupErr
	}
	if err != nil {
		return -1, fmt.Errorf("%w: dup: %v", ErrIO, err)
	}

	if err := conn.Close(); err != nil {
		logger.Debug("关闭原连接失败", "err", err)
	}
	return fd, nil
}
