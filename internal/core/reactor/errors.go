package reactor

import "errors"

var (
	// ErrIO 底层读写、注册或轮询失败
	ErrIO = errors.New("reactor: io failure")

	// ErrReactorClosed 事件循环已停止，任务未被执行
	ErrReactorClosed = errors.New("reactor: closed")

	// ErrEndpointClosed 连接已关闭，排队中的写入被丢弃
	ErrEndpointClosed = errors.New("reactor: endpoint closed")

	// ErrLoopBlocked 在事件循环协程上调用了会等待该循环的阻塞操作
	ErrLoopBlocked = errors.New("reactor: blocking call on loop goroutine")

	// ErrUnsupportedPlatform 当前平台没有可用的就绪通知机制
	ErrUnsupportedPlatform = errors.New("reactor: unsupported platform")
)
