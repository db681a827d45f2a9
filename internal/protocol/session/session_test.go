//go:build linux

package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/dep2p/go-irpc/internal/core/metrics"
	"github.com/dep2p/go-irpc/internal/core/reactor"
	"github.com/dep2p/go-irpc/internal/core/workerpool"
	"github.com/dep2p/go-irpc/internal/protocol/codec"
)

const (
	methodEcho   uint16 = 10
	methodFail   uint16 = 11
	methodStream uint16 = 12
	methodPanic  uint16 = 13
	methodPipe   uint16 = 14
	methodHold   uint16 = 20
	methodFlood  uint16 = 21
)

// frameRecorder 按类型统计收发帧
type frameRecorder struct {
	metrics.NopReporter

	mu       sync.Mutex
	sent     map[string]int
	received map[string]int
}

func newFrameRecorder() *frameRecorder {
	return &frameRecorder{sent: make(map[string]int), received: make(map[string]int)}
}

func (r *frameRecorder) LogFrameSent(kind string, _ int) {
	r.mu.Lock()
	r.sent[kind]++
	r.mu.Unlock()
}

func (r *frameRecorder) LogFrameReceived(kind string, _ int) {
	r.mu.Lock()
	r.received[kind]++
	r.mu.Unlock()
}

func (r *frameRecorder) count(sent bool, kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sent {
		return r.sent[kind]
	}
	return r.received[kind]
}

func testService(hold <-chan struct{}) *Service {
	svc := NewService("test")
	svc.MustRegister(methodEcho, "echo", func(_ context.Context, call *Call) (any, error) {
		s, err := Param[string](call, 0)
		return s, err
	})
	svc.MustRegister(methodFail, "fail", func(context.Context, *Call) (any, error) {
		return nil, errors.New("boom")
	})
	svc.MustRegister(methodStream, "stream", func(_ context.Context, call *Call) (any, error) {
		_, err := io.Copy(call.Pipe.Writer(), call.Pipe.Reader())
		return nil, err
	})
	svc.MustRegister(methodPanic, "panic", func(context.Context, *Call) (any, error) {
		panic("bad handler")
	})
	svc.MustRegister(methodPipe, "pipe", func(ctx context.Context, call *Call) (any, error) {
		p, ok := PipeFromContext(ctx)
		return ok && p == call.Pipe, nil
	})
	svc.MustRegister(methodHold, "hold", func(ctx context.Context, _ *Call) (any, error) {
		select {
		case <-hold:
		case <-ctx.Done():
		}
		return nil, nil
	})
	svc.MustRegister(methodFlood, "flood", func(_ context.Context, call *Call) (any, error) {
		for i := 0; i < 10; i++ {
			if err := call.Pipe.SendBlock([]byte{byte(i)}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return svc
}

func newTestDispatcher(t *testing.T) *reactor.Dispatcher {
	t.Helper()
	cfg := reactor.DefaultConfig()
	cfg.PollTimeout = 100 * time.Millisecond
	d, err := reactor.NewDispatcher(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	return fds[0], fds[1]
}

func newEndpoint(t *testing.T, d *reactor.Dispatcher, name string, fd int) *reactor.Endpoint {
	t.Helper()
	ep := reactor.NewEndpoint(d, name, fd, fd)
	require.NoError(t, d.Register(ep))
	return ep
}

// newPair 创建一对相连的会话：client 为主动方，server 为被动方，双方都提供测试服务
func newPair(t *testing.T, clientOpts, serverOpts []Option) (*Session, *Session) {
	t.Helper()
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })

	d := newTestDispatcher(t)
	a, b := socketPair(t)

	client, err := New(newEndpoint(t, d, "client", a),
		append([]Option{WithName("client"), WithService(testService(hold))}, clientOpts...)...)
	require.NoError(t, err)
	server, err := New(newEndpoint(t, d, "server", b),
		append([]Option{WithName("server"), Passive(), WithService(testService(hold))}, serverOpts...)...)
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestSession_Echo(t *testing.T) {
	client, server := newPair(t, nil, nil)

	p, err := client.Open(methodEcho, "abc")
	require.NoError(t, err)
	assert.False(t, p.ID().Passive())

	c, err := p.WaitForClose(5 * time.Second)
	require.NoError(t, err)
	assert.False(t, c.Failed())
	assert.Equal(t, "abc", c.Result)

	assert.Equal(t, 0, client.NumPipes())
	require.Eventually(t, func() bool { return server.NumPipes() == 0 }, time.Second, 10*time.Millisecond)
}

func TestSession_EchoFromPassiveSide(t *testing.T) {
	_, server := newPair(t, nil, nil)

	p, err := server.Open(methodEcho, "from server")
	require.NoError(t, err)
	assert.True(t, p.ID().Passive())

	c, err := p.WaitForClose(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "from server", c.Result)
}

func TestSession_RemoteFailure(t *testing.T) {
	client, _ := newPair(t, nil, nil)

	p, err := client.Open(methodFail)
	require.NoError(t, err)
	c, err := p.WaitForClose(5 * time.Second)
	require.NoError(t, err)
	assert.True(t, c.Failed())
	assert.Equal(t, "boom", c.Error)
	assert.Nil(t, c.Result)

	// 未绑定的方法同样以错误关闭
	p, err = client.Open(999)
	require.NoError(t, err)
	_, err = p.Result(context.Background())
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, p.ID(), re.Pipe)
	assert.Contains(t, re.Message, "not bound")

	// handler panic 被转换为错误
	p, err = client.Open(methodPanic)
	require.NoError(t, err)
	_, err = p.Result(context.Background())
	require.ErrorAs(t, err, &re)
	assert.Contains(t, re.Message, "bad handler")
}

func TestSession_PipeFromContext(t *testing.T) {
	client, _ := newPair(t, nil, nil)

	p, err := client.Open(methodPipe)
	require.NoError(t, err)
	v, err := p.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestSession_StreamEcho(t *testing.T) {
	client, server := newPair(t, nil, nil)

	const n = 10240
	want := make([]byte, n)
	for i := range want {
		want[i] = byte(i % 256)
	}

	p, err := client.Open(methodStream)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			if err := p.SendBlock(want[i : i+1]); err != nil {
				errc <- err
				return
			}
		}
		errc <- nil
	}()

	got := make([]byte, n)
	_, err = io.ReadFull(p.Reader(), got)
	require.NoError(t, err)
	require.NoError(t, <-errc)
	assert.Equal(t, want, got)

	require.NoError(t, p.Close(nil))
	c, err := p.WaitForClose(time.Second)
	require.NoError(t, err)
	assert.False(t, c.Failed())

	require.Eventually(t, func() bool { return server.NumPipes() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, client.NumPipes())

	// 已关闭的管道拒绝继续发送
	assert.ErrorIs(t, p.SendBlock([]byte{1}), ErrClosedPipe)
	assert.ErrorIs(t, p.Close(nil), ErrClosedPipe)
}

func TestSession_WriterSplitsLargeWrites(t *testing.T) {
	client, _ := newPair(t, nil, nil)

	data := bytes.Repeat([]byte("0123456789"), 10000)
	p, err := client.Open(methodStream)
	require.NoError(t, err)

	n, err := p.Writer().Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	got := make([]byte, len(data))
	_, err = io.ReadFull(p.Reader(), got)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// 零长度写入不发送任何帧
	n, err = p.Writer().Write(nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, p.Close(nil))
}

func TestSession_ReaderEOFAfterClose(t *testing.T) {
	client, _ := newPair(t, nil, nil)

	p, err := client.Open(methodEcho, "x")
	require.NoError(t, err)
	_, err = p.WaitForClose(5 * time.Second)
	require.NoError(t, err)

	n, err := p.Reader().Read(make([]byte, 8))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSession_SendBlockTooLarge(t *testing.T) {
	client, _ := newPair(t, nil, nil)

	p, err := client.Open(methodStream)
	require.NoError(t, err)
	err = p.SendBlock(make([]byte, codec.MaxBlockData+1))
	assert.ErrorIs(t, err, codec.ErrEncoding)
	require.NoError(t, p.SendBlock(make([]byte, codec.MaxBlockData)))
	require.NoError(t, p.Close(nil))
}

func TestSession_OpenUnencodable(t *testing.T) {
	client, _ := newPair(t, nil, nil)

	_, err := client.Open(methodEcho, struct{}{})
	assert.ErrorIs(t, err, codec.ErrEncoding)
	assert.Equal(t, 0, client.NumPipes())
}

func TestSession_NoIDCollisions(t *testing.T) {
	client, server := newPair(t, nil, nil)

	const calls = 200
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[PipeID]bool)
	errs := make(chan error, 2*calls)

	call := func(s *Session, i int) {
		defer wg.Done()
		msg := fmt.Sprintf("%s-%d", s.Name(), i)
		p, err := s.Open(methodEcho, msg)
		if err != nil {
			errs <- err
			return
		}
		mu.Lock()
		if seen[p.ID()] {
			errs <- fmt.Errorf("pipe %s reused", p.ID())
		}
		seen[p.ID()] = true
		mu.Unlock()

		c, err := p.WaitForClose(10 * time.Second)
		if err != nil {
			errs <- err
			return
		}
		if c.Result != msg {
			errs <- fmt.Errorf("pipe %s: got %v, want %s", p.ID(), c.Result, msg)
		}
	}

	for i := 0; i < calls; i++ {
		wg.Add(2)
		go call(client, i)
		go call(server, i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, seen, 2*calls)
}

func TestSession_NextIDSkipsLivePipes(t *testing.T) {
	s := &Session{pipes: make(map[PipeID]*Pipe)}
	s.pipes[1] = &Pipe{}
	s.pipes[2] = &Pipe{}

	assert.Equal(t, PipeID(3), s.nextIDLocked())

	s.opts.Passive = true
	s.seq = uint32(PassiveMask) - 1
	id := s.nextIDLocked()
	assert.True(t, id.Passive())
	assert.Equal(t, PassiveMask, id)
}

func TestSession_CloseAbandonsPipes(t *testing.T) {
	mock := clock.NewMock()
	clientRec, serverRec := newFrameRecorder(), newFrameRecorder()
	client, server := newPair(t,
		[]Option{WithClock(mock), WithAbandonTimeout(time.Minute), WithReporter(clientRec)},
		[]Option{WithReporter(serverRec)},
	)

	const n = 5
	pipes := make([]*Pipe, n)
	for i := range pipes {
		p, err := client.Open(methodHold)
		require.NoError(t, err)
		pipes[i] = p
	}
	require.Eventually(t, func() bool { return server.NumPipes() == n }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())
	<-server.Done()

	assert.Zero(t, clientRec.count(true, "close"))
	assert.Zero(t, serverRec.count(false, "close"))
	assert.Equal(t, 0, client.NumPipes())

	for _, p := range pipes {
		assert.False(t, p.closeF.IsDone())
	}
	_, err := pipes[0].Reader().Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrSessionClosed)

	_, err = client.Open(methodEcho, "late")
	assert.ErrorIs(t, err, ErrSessionClosed)

	mock.Add(time.Minute)
	for _, p := range pipes {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := p.Wait(ctx)
		cancel()
		assert.ErrorIs(t, err, ErrAbandoned)
	}
}

func TestSession_CloseAbandonsImmediately(t *testing.T) {
	client, server := newPair(t, []Option{WithAbandonTimeout(0)}, nil)

	p, err := client.Open(methodHold)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return server.NumPipes() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())
	_, err = p.WaitForClose(time.Second)
	assert.ErrorIs(t, err, ErrAbandoned)
}

func TestSession_WaitForCloseTimeout(t *testing.T) {
	client, _ := newPair(t, nil, nil)

	p, err := client.Open(methodHold)
	require.NoError(t, err)
	_, err = p.WaitForClose(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, client.NumPipes())
}

func TestSession_CancelAfterTimeout(t *testing.T) {
	client, server := newPair(t, nil, nil)

	p, err := client.Open(methodHold)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return server.NumPipes() == 1 }, 5*time.Second, 10*time.Millisecond)

	_, err = p.WaitForClose(20 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	p.Cancel(ErrTimeout)
	c, err := p.WaitForClose(time.Second)
	require.NoError(t, err)
	assert.True(t, c.Failed())
	assert.Zero(t, client.NumPipes())
	require.Eventually(t, func() bool { return server.NumPipes() == 0 }, 5*time.Second, 10*time.Millisecond)

	// 重复取消无操作
	p.Cancel(ErrTimeout)
}

func TestSession_InboundOverflow(t *testing.T) {
	client, _ := newPair(t, []Option{WithInboundQueueCapacity(2)}, nil)

	p, err := client.Open(methodFlood)
	require.NoError(t, err)

	c, err := p.WaitForClose(5 * time.Second)
	require.NoError(t, err)
	assert.True(t, c.Failed())
	assert.Contains(t, c.Error, "overflow")
}

func TestSession_Proxy(t *testing.T) {
	client, _ := newPair(t, []Option{WithCallTimeout(5 * time.Second)}, nil)

	iface := NewInterface("test").
		Method("echo", methodEcho).
		Method("fail", methodFail).
		Method("missing", 999)
	proxy := client.Interface(iface)
	assert.Same(t, proxy, client.Interface(iface))

	ctx := context.Background()
	s, err := Invoke[string](ctx, proxy, "echo", "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", s)

	_, err = proxy.Call(ctx, "fail")
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "boom", re.Message)

	_, err = proxy.Call(ctx, "missing")
	require.ErrorAs(t, err, &re)

	_, err = proxy.Call(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownMethod)

	_, err = Invoke[int64](ctx, proxy, "echo", "abc")
	assert.Error(t, err)
}

func TestSession_ProxyTimeout(t *testing.T) {
	client, _ := newPair(t, []Option{WithCallTimeout(50 * time.Millisecond)}, nil)

	proxy := client.Interface(NewInterface("test").Method("hold", methodHold))
	for i := 0; i < 20; i++ {
		_, err := proxy.Call(context.Background(), "hold")
		require.ErrorIs(t, err, ErrTimeout)
	}
	assert.Zero(t, client.NumPipes())
}

func TestSession_ProxyCanceled(t *testing.T) {
	client, server := newPair(t, nil, nil)

	proxy := client.Interface(NewInterface("test").Method("hold", methodHold))
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := proxy.Call(ctx, "hold")
		errs <- err
	}()
	require.Eventually(t, func() bool { return server.NumPipes() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("call not canceled")
	}
	assert.Zero(t, client.NumPipes())
	require.Eventually(t, func() bool { return server.NumPipes() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestSession_ExecutorClosedBeforeStart(t *testing.T) {
	pool := workerpool.New(workerpool.Config{Concurrency: 1})
	client, server := newPair(t, nil, []Option{WithExecutor(pool)})

	held, err := client.Open(methodHold)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pool.Running() == 1 }, 5*time.Second, 10*time.Millisecond)

	queued, err := client.Open(methodEcho, "late")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pool.Pending() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, pool.CloseTimeout(5*time.Second))

	c, err := held.WaitForClose(5 * time.Second)
	require.NoError(t, err)
	assert.False(t, c.Failed())

	// 未开始的入站调用同样收到唯一的 Close
	c, err = queued.WaitForClose(5 * time.Second)
	require.NoError(t, err)
	require.True(t, c.Failed())
	assert.Contains(t, c.Error, workerpool.ErrPoolClosed.Error())
	require.Eventually(t, func() bool { return server.NumPipes() == 0 }, 5*time.Second, 10*time.Millisecond)
}

// rawPeer 会话对端使用裸 fd，用于注入任意帧
func rawPeer(t *testing.T, opts ...Option) (*Session, int) {
	t.Helper()
	d := newTestDispatcher(t)
	a, b := socketPair(t)
	t.Cleanup(func() { unix.Close(b) })

	s, err := New(newEndpoint(t, d, "local", a), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, b
}

func writeFrame(t *testing.T, fd int, m codec.Message) {
	t.Helper()
	data, err := codec.New().Encode(m)
	require.NoError(t, err)
	_, err = unix.Write(fd, data)
	require.NoError(t, err)
}

func waitClosed(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session not closed")
	}
}

func TestSession_OriginationViolation(t *testing.T) {
	s, peer := rawPeer(t)

	// 主动方收到最高位为 0 的 Open
	writeFrame(t, peer, &codec.Open{Pipe: 5, Method: methodEcho})
	waitClosed(t, s)
	assert.ErrorIs(t, s.Err(), codec.ErrProtocolViolation)
}

func TestSession_DuplicateOpenViolation(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	s, peer := rawPeer(t, WithService(testService(hold)))

	writeFrame(t, peer, &codec.Open{Pipe: 0x80000001, Method: methodHold})
	writeFrame(t, peer, &codec.Open{Pipe: 0x80000001, Method: methodHold})
	waitClosed(t, s)
	assert.ErrorIs(t, s.Err(), codec.ErrProtocolViolation)
}

func TestSession_MalformedFrame(t *testing.T) {
	s, peer := rawPeer(t)

	_, err := unix.Write(peer, []byte{9, 0, 0, 0, 1})
	require.NoError(t, err)
	waitClosed(t, s)
	assert.ErrorIs(t, s.Err(), codec.ErrProtocolViolation)
}

func TestSession_UnknownPipeIgnored(t *testing.T) {
	s, peer := rawPeer(t)

	writeFrame(t, peer, &codec.Block{Pipe: 0x80000007, Data: []byte("late")})
	writeFrame(t, peer, &codec.Close{Pipe: 42, Result: "late"})

	// 之后的正常调用仍能完成
	p, err := s.Open(methodEcho, "ping")
	require.NoError(t, err)
	writeFrame(t, peer, &codec.Close{Pipe: uint32(p.ID()), Result: "pong"})

	c, err := p.WaitForClose(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong", c.Result)

	select {
	case <-s.Done():
		t.Fatal("session closed on unknown pipe")
	default:
	}
}

func TestSession_PeerDisconnect(t *testing.T) {
	s, peer := rawPeer(t, WithAbandonTimeout(0))

	p, err := s.Open(methodEcho, "x")
	require.NoError(t, err)
	require.NoError(t, unix.Shutdown(peer, unix.SHUT_RDWR))

	waitClosed(t, s)
	_, err = p.WaitForClose(time.Second)
	assert.ErrorIs(t, err, ErrAbandoned)
}
