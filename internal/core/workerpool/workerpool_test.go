package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-irpc/config"
)

func TestPool_ExecuteDoesNotBlock(t *testing.T) {
	p := New(Config{Concurrency: 1})
	defer p.CloseTimeout(time.Second)

	release := make(chan struct{})
	var ran atomic.Int32

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Execute(func(context.Context) {
			<-release
			ran.Add(1)
		}))
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	require.Eventually(t, func() bool { return p.Running() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 9, p.Pending())

	close(release)
	require.Eventually(t, func() bool { return ran.Load() == 10 }, time.Second, 5*time.Millisecond)
}

func TestPool_ConcurrencyBound(t *testing.T) {
	p := New(Config{Concurrency: 3})
	defer p.CloseTimeout(time.Second)

	var cur, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, p.Execute(func(context.Context) {
			defer wg.Done()
			n := cur.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			cur.Add(-1)
		}))
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestPool_PanicRecovered(t *testing.T) {
	p := New(Config{Concurrency: 1})
	defer p.CloseTimeout(time.Second)

	require.NoError(t, p.Execute(func(context.Context) { panic("boom") }))

	done := make(chan struct{})
	require.NoError(t, p.Execute(func(context.Context) { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool stopped after panic")
	}
}

func TestPool_Close(t *testing.T) {
	p := New(Config{Concurrency: 1})

	started := make(chan struct{})
	require.NoError(t, p.Execute(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}))
	<-started

	// 排队的任务只会看到已取消的 ctx
	dropped := make(chan error, 1)
	require.NoError(t, p.Execute(func(ctx context.Context) { dropped <- ctx.Err() }))

	require.NoError(t, p.CloseTimeout(time.Second))
	select {
	case err := <-dropped:
		assert.ErrorIs(t, err, context.Canceled)
	default:
		t.Fatal("queued task not notified on close")
	}
	assert.Zero(t, p.Pending())
	assert.ErrorIs(t, p.Execute(func(context.Context) {}), ErrPoolClosed)
	assert.NoError(t, p.CloseTimeout(time.Second))
}

func TestPool_CloseTimeout(t *testing.T) {
	p := New(Config{Concurrency: 1})
	release := make(chan struct{})
	defer close(release)

	require.NoError(t, p.Execute(func(context.Context) { <-release }))
	require.Eventually(t, func() bool { return p.Running() == 1 }, time.Second, 5*time.Millisecond)

	err := p.CloseTimeout(20 * time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_RateLimit(t *testing.T) {
	p := New(Config{Concurrency: 8, RateLimit: 20, Burst: 1})
	defer p.CloseTimeout(time.Second)

	var ran atomic.Int32
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Execute(func(context.Context) { ran.Add(1) }))
	}
	require.Eventually(t, func() bool { return ran.Load() == 5 }, 2*time.Second, 5*time.Millisecond)
	// 5 个任务，突发 1，速率 20/s：至少约 200ms
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestExecutorFunc(t *testing.T) {
	var called bool
	e := ExecutorFunc(func(task Task) error {
		task(context.Background())
		return nil
	})
	require.NoError(t, e.Execute(func(context.Context) { called = true }))
	assert.True(t, called)
}

func TestModule(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Worker.Concurrency = 2

	var exec Executor
	app := fxtest.New(t,
		fx.Supply(cfg),
		Module,
		fx.Populate(&exec),
	)
	app.RequireStart()

	done := make(chan struct{})
	require.NoError(t, exec.Execute(func(context.Context) { close(done) }))
	<-done

	app.RequireStop()
	assert.ErrorIs(t, exec.Execute(func(context.Context) {}), ErrPoolClosed)
}
