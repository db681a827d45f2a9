package irpc

import (
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/dep2p/go-irpc/config"
	"github.com/dep2p/go-irpc/internal/core/workerpool"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 预设配置
	preset *Preset

	// 统一配置，nil 时使用预设或默认配置
	config *config.Config

	// 入站调用执行器，nil 时使用内置执行池
	executor workerpool.Executor

	// 指标注册器
	registerer prometheus.Registerer

	clock clock.Clock

	// Fx 事件日志，nil 时不输出
	fxLogger *zap.Logger

	// 用户扩展
	fxOptions []fx.Option
}

func newOptions() *options {
	return &options{}
}

// unifiedConfig 合成最终配置：预设在默认配置之上，显式配置优先
func (o *options) unifiedConfig() (*config.Config, error) {
	cfg := o.config
	if cfg == nil {
		cfg = config.NewConfig()
		if o.preset != nil {
			o.preset.Apply(cfg)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WithConfig 使用统一配置
//
// 与 WithPreset 同时使用时以 WithConfig 为准。
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return errors.New("config is nil")
		}
		o.config = cfg
		return nil
	}
}

// WithPreset 使用预设配置
func WithPreset(p *Preset) Option {
	return func(o *options) error {
		if p == nil {
			return errors.New("preset is nil")
		}
		o.preset = p
		return nil
	}
}

// WithExecutor 使用自定义的入站调用执行器
func WithExecutor(e Executor) Option {
	return func(o *options) error {
		if e == nil {
			return errors.New("executor is nil")
		}
		o.executor = e
		return nil
	}
}

// WithRegisterer 指定指标注册器，默认为 prometheus.DefaultRegisterer
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.registerer = reg
		return nil
	}
}

// WithClock 指定超时计时使用的时钟
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		o.clock = clk
		return nil
	}
}

// WithFxLogger 输出 Fx 事件日志
func WithFxLogger(l *zap.Logger) Option {
	return func(o *options) error {
		o.fxLogger = l
		return nil
	}
}

// WithFxOptions 追加 Fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.fxOptions = append(o.fxOptions, opts...)
		return nil
	}
}
