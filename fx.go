package irpc

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-irpc/internal/core/metrics"
	"github.com/dep2p/go-irpc/internal/core/reactor"
	"github.com/dep2p/go-irpc/internal/core/workerpool"
	"github.com/dep2p/go-irpc/internal/debug/introspect"
	"github.com/dep2p/go-irpc/internal/protocol/codec"
)

// Module 返回 irpc 的 Fx 模块
//
// 提供 *Context 及其依赖：
//   - metrics.Reporter（config.Metrics.Enabled 为 false 时是空实现）
//   - *reactor.Dispatcher
//   - *workerpool.Pool 与 workerpool.Executor
//   - *codec.Codec
//   - *introspect.Server（config.Diagnostics.EnableIntrospect 为 true 时）
//
// *config.Config 可选，未提供时使用默认配置。
// 停止时先关闭 Context 上的监听器与会话。
//
// 示例：
//
//	app := fx.New(
//	    fx.Supply(config.NewConfig()),
//	    irpc.Module(),
//	    fx.Invoke(func(c *irpc.Context) { ... }),
//	)
func Module() fx.Option {
	return fx.Module("irpc",
		metrics.Module,
		reactor.Module,
		workerpool.Module,
		fx.Provide(codec.New),
		fx.Provide(NewFromParams),
		fx.Provide(func(c *Context) introspect.SessionSource { return c }),
		introspect.Module(),
		fx.Invoke(registerLifecycle),
	)
}

func registerLifecycle(lc fx.Lifecycle, c *Context) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return c.shutdown()
		},
	})
}
