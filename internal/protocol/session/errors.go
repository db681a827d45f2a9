package session

import (
	"errors"
	"fmt"
)

var (
	// ErrClosedPipe 管道的 Close 已经发送或收到
	ErrClosedPipe = errors.New("session: closed pipe")

	// ErrAbandoned 会话关闭时管道仍未完成，等待方在放弃超时后收到此错误
	ErrAbandoned = errors.New("session: pipe abandoned")

	// ErrTimeout 等待 Close 超时
	ErrTimeout = errors.New("session: timeout")

	// ErrDuplicateMethod 方法 ID 已被注册
	ErrDuplicateMethod = errors.New("session: duplicate method id")

	// ErrMethodNotFound 方法 ID 未绑定
	ErrMethodNotFound = errors.New("session: method not bound")

	// ErrSessionClosed 会话已关闭
	ErrSessionClosed = errors.New("session: closed")

	// ErrInboundOverflow 管道入站数据块队列已满
	ErrInboundOverflow = errors.New("session: inbound block queue overflow")

	// ErrUnknownMethod 接口描述中没有该方法名
	ErrUnknownMethod = errors.New("session: unknown method name")
)

// RemoteError 远程调用以错误关闭
//
// Message 是对端调用失败时字符串化的错误信息。
type RemoteError struct {
	Pipe    PipeID
	Message string
}

// Error 实现 error
func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote failure on pipe %s: %s", e.Pipe, e.Message)
}
