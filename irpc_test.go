//go:build linux

package irpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"golang.org/x/sys/unix"

	"github.com/dep2p/go-irpc/config"
	"github.com/dep2p/go-irpc/internal/debug/introspect"
)

func echoService() *Service {
	svc := NewService("echo")
	svc.MustRegister(10, "echo", func(_ context.Context, call *Call) (any, error) {
		return Param[string](call, 0)
	})
	svc.MustRegister(11, "reverse", func(_ context.Context, call *Call) (any, error) {
		s, err := Param[string](call, 0)
		if err != nil {
			return nil, err
		}
		r := []rune(s)
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		return string(r), nil
	})
	svc.MustRegister(12, "stream", func(ctx context.Context, _ *Call) (any, error) {
		p, ok := PipeFromContext(ctx)
		if !ok {
			return nil, errors.New("no pipe")
		}
		_, err := io.Copy(p.Writer(), p.Reader())
		return nil, err
	})
	return svc
}

var echoInterface = NewInterface("echo").
	Method("echo", 10).
	Method("reverse", 11).
	Method("stream", 12)

func newTestContext(t *testing.T, opts ...Option) *Context {
	t.Helper()
	opts = append([]Option{WithPreset(PresetTest), WithRegisterer(prometheus.NewRegistry())}, opts...)
	c, err := New(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestContext_TCPEcho(t *testing.T) {
	c := newTestContext(t)

	accepted := make(chan *Session, 1)
	ln, err := c.Listen("tcp", "127.0.0.1:0", echoService(), func(s *Session) { accepted <- s })
	require.NoError(t, err)

	ctx := context.Background()
	s, err := c.Dial(ctx, "tcp", ln.Addr().String(), nil)
	require.NoError(t, err)
	assert.False(t, s.IsPassive())

	server := <-accepted
	assert.True(t, server.IsPassive())

	echo := s.Interface(echoInterface)
	text, err := Invoke[string](ctx, echo, "echo", "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", text)

	text, err = Invoke[string](ctx, echo, "reverse", "abc")
	require.NoError(t, err)
	assert.Equal(t, "cba", text)

	// 流式回显
	p, err := s.Open(12)
	require.NoError(t, err)
	want := make([]byte, 1024)
	for i := range want {
		want[i] = byte(i)
		require.NoError(t, p.SendBlock(want[i:i+1]))
	}
	got := make([]byte, len(want))
	_, err = io.ReadFull(p.Reader(), got)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	require.NoError(t, p.Close(nil))

	assert.Equal(t, 2, c.NumSessions())
	require.NoError(t, s.Close())
	require.Eventually(t, func() bool { return c.NumSessions() == 0 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, ln.Close())
	assert.NoError(t, ln.Err())
}

func TestContext_UnixEcho(t *testing.T) {
	c := newTestContext(t)

	addr := t.TempDir() + "/irpc.sock"
	ln, err := c.Listen("unix", addr, echoService(), nil)
	require.NoError(t, err)
	defer ln.Close()

	s, err := c.Dial(context.Background(), "unix", addr, nil)
	require.NoError(t, err)

	p, err := s.Open(10, "over unix")
	require.NoError(t, err)
	cl, err := p.WaitForClose(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "over unix", cl.Result)
}

func TestContext_SessionOnFDs(t *testing.T) {
	c := newTestContext(t)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)

	client, err := c.NewSession("client").OnFDs(fds[0], fds[0]).Create()
	require.NoError(t, err)
	_, err = c.NewSession("server").OnFDs(fds[1], fds[1]).Service(echoService()).Passive().Create()
	require.NoError(t, err)

	_, err = client.Interface(echoInterface).Call(context.Background(), "echo", "fd")
	require.NoError(t, err)

	_, err = c.NewSession("none").Create()
	assert.ErrorIs(t, err, ErrNoConnection)
}

func TestContext_CloseClosesSessions(t *testing.T) {
	c, err := New(context.Background(), WithPreset(PresetTest))
	require.NoError(t, err)

	ln, err := c.Listen("tcp", "127.0.0.1:0", echoService(), nil)
	require.NoError(t, err)
	s, err := c.Dial(context.Background(), "tcp", ln.Addr().String(), nil)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session not closed")
	}
	<-ln.Done()

	_, err = c.NewSession("late").OnFDs(0, 0).Create()
	assert.ErrorIs(t, err, ErrContextClosed)
}

func TestContext_Introspect(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Diagnostics.EnableIntrospect = true
	cfg.Diagnostics.IntrospectAddr = "127.0.0.1:0"

	var server *introspect.Server
	c := newTestContext(t, WithConfig(cfg), WithFxOptions(fx.Populate(&server)))
	require.NotNil(t, server)

	ln, err := c.Listen("tcp", "127.0.0.1:0", echoService(), nil)
	require.NoError(t, err)
	s, err := c.Dial(context.Background(), "tcp", ln.Addr().String(), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.NumSessions() == 2 }, 5*time.Second, 10*time.Millisecond)
	infos := c.SessionInfos()
	require.Len(t, infos, 2)
	var names []string
	for _, info := range infos {
		names = append(names, info.Name)
		if info.ID == s.ID() {
			assert.False(t, info.Passive)
		}
	}
	assert.Contains(t, names, s.Name())

	resp, err := http.Get("http://" + server.Addr() + "/debug/introspect/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got []introspect.SessionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Len(t, got, 2)
}

func TestContext_CustomExecutor(t *testing.T) {
	var calls atomic.Int32
	exec := ExecutorFunc(func(task Task) error {
		calls.Add(1)
		go task(context.Background())
		return nil
	})
	c := newTestContext(t, WithExecutor(exec))

	ln, err := c.Listen("tcp", "127.0.0.1:0", echoService(), nil)
	require.NoError(t, err)
	defer ln.Close()
	s, err := c.Dial(context.Background(), "tcp", ln.Addr().String(), nil)
	require.NoError(t, err)

	_, err = s.Interface(echoInterface).Call(context.Background(), "echo", "x")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOptions_Invalid(t *testing.T) {
	_, err := New(context.Background(), WithConfig(nil))
	assert.Error(t, err)

	_, err = New(context.Background(), WithPreset(nil))
	assert.Error(t, err)

	cfg := config.NewConfig()
	cfg.Reactor.MaxEvents = 0
	_, err = New(context.Background(), WithConfig(cfg))
	assert.Error(t, err)
}

func TestModule(t *testing.T) {
	var c *Context
	app := fxtest.New(t,
		fx.Supply(config.NewConfig()),
		fx.Provide(func() prometheus.Registerer { return prometheus.NewRegistry() }),
		Module(),
		fx.Populate(&c),
	)
	app.RequireStart()
	require.NotNil(t, c)
	assert.NotNil(t, c.Dispatcher())

	ln, err := c.Listen("tcp", "127.0.0.1:0", echoService(), nil)
	require.NoError(t, err)

	app.RequireStop()
	<-ln.Done()
	assert.Equal(t, 0, c.NumSessions())
}

func TestPresetByName(t *testing.T) {
	for _, name := range []string{PresetNameDefault, PresetNameServer, PresetNameMinimal, PresetNameTest} {
		p, ok := PresetByName(name)
		require.True(t, ok, name)
		cfg := config.NewConfig()
		p.Apply(cfg)
		assert.NoError(t, cfg.Validate(), name)
	}
	_, ok := PresetByName("nope")
	assert.False(t, ok)

	cfg := config.NewConfig()
	PresetMinimal.Apply(cfg)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestVersionInfo(t *testing.T) {
	assert.Contains(t, VersionInfo(), Version)
}
