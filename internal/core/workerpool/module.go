package workerpool

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-irpc/config"
)

// Params 执行池依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Result 执行池导出结果
type Result struct {
	fx.Out

	Pool     *Pool
	Executor Executor
}

// Module 是 workerpool 的 Fx 模块
var Module = fx.Module("workerpool",
	fx.Provide(NewFromParams),
	fx.Invoke(registerLifecycle),
)

// NewFromParams 从参数创建执行池
func NewFromParams(p Params) Result {
	pool := New(ConfigFromUnified(p.UnifiedCfg))
	return Result{Pool: pool, Executor: pool}
}

func registerLifecycle(lc fx.Lifecycle, p *Pool) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return p.Close(ctx)
		},
	})
}
