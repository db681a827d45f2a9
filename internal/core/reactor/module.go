package reactor

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-irpc/config"
	"github.com/dep2p/go-irpc/internal/core/metrics"
)

// Params Dispatcher 依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config   `optional:"true"`
	Reporter   metrics.Reporter `optional:"true"`
}

// Module 是 reactor 的 Fx 模块
var Module = fx.Module("reactor",
	fx.Provide(NewFromParams),
	fx.Invoke(registerLifecycle),
)

// NewFromParams 从参数创建并启动 Dispatcher
func NewFromParams(p Params) (*Dispatcher, error) {
	return NewDispatcher(ConfigFromUnified(p.UnifiedCfg), p.Reporter)
}

func registerLifecycle(lc fx.Lifecycle, d *Dispatcher) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return d.Close()
		},
	})
}
