package irpc

import (
	"context"
	"errors"
	"net"
	"sync"

	tec "github.com/jbenet/go-temp-err-catcher"
)

// Listener 把接受的每个连接变成一个被动会话
type Listener struct {
	c         *Context
	ln        net.Listener
	service   *Service
	onSession func(*Session)

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
	err       error
}

// Listen 在 address 上监听，network 为 "tcp"、"tcp4"、"tcp6" 或 "unix"
//
// 每个接受的连接创建一个以 svc 为本地服务的被动会话，随后调用 onSession（可为 nil）。
func (c *Context) Listen(network, address string, svc *Service, onSession func(*Session)) (*Listener, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	l, err := c.Serve(ln, svc, onSession)
	if err != nil {
		ln.Close()
		return nil, err
	}
	return l, nil
}

// Serve 在已有的 net.Listener 上接受连接，Listener 关闭时 ln 随之关闭
func (c *Context) Serve(ln net.Listener, svc *Service, onSession func(*Session)) (*Listener, error) {
	l := &Listener{
		c:         c,
		ln:        ln,
		service:   svc,
		onSession: onSession,
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrContextClosed
	}
	c.listeners[l] = struct{}{}
	c.mu.Unlock()

	go l.serve()
	logger.Info("开始监听", "addr", ln.Addr())
	return l, nil
}

// Addr 返回监听地址
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Done 返回接受循环退出通知
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Err 返回接受循环因错误退出的原因，正常关闭时为 nil
func (l *Listener) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

func (l *Listener) serve() {
	defer close(l.done)

	var catcher tec.TempErrCatcher
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if catcher.IsTemporary(err) {
				logger.Warn("接受连接出现临时错误，重试", "addr", l.ln.Addr(), "err", err)
				continue
			}
			select {
			case <-l.closing:
			default:
				l.err = err
				logger.Error("接受连接失败，停止监听", "addr", l.ln.Addr(), "err", err)
			}
			return
		}

		s, err := l.c.NewSession(conn.RemoteAddr().String()).On(conn).Service(l.service).Passive().Create()
		if err != nil {
			if errors.Is(err, ErrContextClosed) {
				return
			}
			logger.Warn("创建会话失败", "remote", conn.RemoteAddr(), "err", err)
			continue
		}
		logger.Debug("接受连接", "session", s.Name())
		if l.onSession != nil {
			l.onSession(s)
		}
	}
}

// Close 停止接受连接，已创建的会话不受影响
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closing)
		err = l.ln.Close()
		<-l.done

		l.c.mu.Lock()
		delete(l.c.listeners, l)
		l.c.mu.Unlock()
	})
	return err
}

// Dial 连接 address 并创建主动会话，svc 为本地服务（可为 nil）
func (c *Context) Dial(ctx context.Context, network, address string, svc *Service) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return c.NewSession(address).On(conn).Service(svc).Create()
}
