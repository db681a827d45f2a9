package session

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-irpc/config"
	"github.com/dep2p/go-irpc/internal/core/metrics"
	"github.com/dep2p/go-irpc/internal/core/workerpool"
	"github.com/dep2p/go-irpc/internal/protocol/codec"
)

// Options 会话选项
type Options struct {
	// Name 会话名称，用于日志
	Name string

	// Passive 被动方（接受连接的一方）分配的管道 ID 最高位为 1
	Passive bool

	// Service 本地服务，为 nil 时所有入站调用都以方法未绑定失败
	Service *Service

	// Executor 执行入站调用，为 nil 时每个调用一个协程
	Executor workerpool.Executor

	// Codec 帧编解码器
	Codec *codec.Codec

	// Reporter 指标上报
	Reporter metrics.Reporter

	// Clock 超时计时使用的时钟
	Clock clock.Clock

	// InboundQueueCapacity 每个管道入站数据块队列容量（块数）
	InboundQueueCapacity int

	// AbandonTimeout 会话关闭后被放弃的管道以 ErrAbandoned 失败的延迟
	AbandonTimeout time.Duration

	// CallTimeout 代理调用等待 Close 的超时，0 表示不限时
	CallTimeout time.Duration

	// ProxyCacheSize 缓存的代理数量
	ProxyCacheSize int
}

// Option 会话选项函数
type Option func(*Options)

// DefaultOptions 返回默认选项
func DefaultOptions() Options {
	o := Options{}
	WithConfig(config.DefaultSessionConfig())(&o)
	return o
}

// WithConfig 应用统一配置中的会话配置
func WithConfig(cfg config.SessionConfig) Option {
	return func(o *Options) {
		o.InboundQueueCapacity = cfg.InboundQueueCapacity
		o.AbandonTimeout = cfg.AbandonTimeout.Duration()
		o.CallTimeout = cfg.CallTimeout.Duration()
		o.ProxyCacheSize = cfg.ProxyCacheSize
	}
}

// WithName 设置会话名称
func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

// Passive 标记为被动方
func Passive() Option {
	return func(o *Options) { o.Passive = true }
}

// WithService 设置本地服务
func WithService(svc *Service) Option {
	return func(o *Options) { o.Service = svc }
}

// WithExecutor 设置入站调用执行器
func WithExecutor(e workerpool.Executor) Option {
	return func(o *Options) { o.Executor = e }
}

// WithCodec 设置帧编解码器
func WithCodec(c *codec.Codec) Option {
	return func(o *Options) { o.Codec = c }
}

// WithReporter 设置指标上报
func WithReporter(r metrics.Reporter) Option {
	return func(o *Options) { o.Reporter = r }
}

// WithClock 设置时钟
func WithClock(clk clock.Clock) Option {
	return func(o *Options) { o.Clock = clk }
}

// WithAbandonTimeout 设置放弃超时
func WithAbandonTimeout(d time.Duration) Option {
	return func(o *Options) { o.AbandonTimeout = d }
}

// WithCallTimeout 设置代理调用超时
func WithCallTimeout(d time.Duration) Option {
	return func(o *Options) { o.CallTimeout = d }
}

// WithInboundQueueCapacity 设置入站数据块队列容量
func WithInboundQueueCapacity(n int) Option {
	return func(o *Options) { o.InboundQueueCapacity = n }
}
