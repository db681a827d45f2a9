package irpc

import (
	"context"

	"github.com/dep2p/go-irpc/internal/core/reactor"
	"github.com/dep2p/go-irpc/internal/core/workerpool"
	"github.com/dep2p/go-irpc/internal/protocol/codec"
	"github.com/dep2p/go-irpc/internal/protocol/session"
)

// ════════════════════════════════════════════════════════════════════════════
//                              版本信息
// ════════════════════════════════════════════════════════════════════════════

// Version 当前版本
const Version = "v0.1.0"

// BuildInfo 构建信息（通过 ldflags 注入）
var (
	// GitCommit Git 提交哈希
	GitCommit string

	// BuildDate 构建日期
	BuildDate string
)

// VersionInfo 返回完整版本信息字符串
func VersionInfo() string {
	info := "irpc " + Version
	if GitCommit != "" {
		info += " (" + GitCommit[:min(8, len(GitCommit))] + ")"
	}
	if BuildDate != "" {
		info += " built " + BuildDate
	}
	return info
}

// ════════════════════════════════════════════════════════════════════════════
//                              类型别名
// ════════════════════════════════════════════════════════════════════════════

type (
	// Session 一条连接上的管道多路复用
	Session = session.Session

	// Pipe 一次逻辑调用或数据流
	Pipe = session.Pipe

	// PipeID 管道标识
	PipeID = session.PipeID

	// Service 方法 ID 到实现的分派表
	Service = session.Service

	// Handler 服务方法实现
	Handler = session.Handler

	// Call 一次入站调用
	Call = session.Call

	// Interface 远程接口描述
	Interface = session.Interface

	// Proxy 调用方视角的远程接口
	Proxy = session.Proxy

	// RemoteError 对端以错误关闭调用
	RemoteError = session.RemoteError

	// Close 管道的终止消息
	Close = codec.Close

	// Endpoint 注册到事件循环的连接
	Endpoint = reactor.Endpoint

	// Executor 入站调用执行器
	Executor = workerpool.Executor

	// ExecutorFunc 函数形式的 Executor
	ExecutorFunc = workerpool.ExecutorFunc

	// Task 执行器运行的任务
	Task = workerpool.Task
)

// NewService 创建空服务
func NewService(name string) *Service {
	return session.NewService(name)
}

// NewInterface 创建接口描述
func NewInterface(name string) *Interface {
	return session.NewInterface(name)
}

// Param 返回调用的第 i 个参数并断言为 T
func Param[T any](c *Call, i int) (T, error) {
	return session.Param[T](c, i)
}

// Invoke 通过代理按方法名调用并把结果断言为 T
func Invoke[T any](ctx context.Context, p *Proxy, name string, params ...any) (T, error) {
	return session.Invoke[T](ctx, p, name, params...)
}

// PipeFromContext 返回承载当前入站调用的管道
func PipeFromContext(ctx context.Context) (*Pipe, bool) {
	return session.PipeFromContext(ctx)
}
