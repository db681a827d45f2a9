package irpc

import (
	"errors"

	"github.com/dep2p/go-irpc/internal/core/reactor"
	"github.com/dep2p/go-irpc/internal/protocol/codec"
	"github.com/dep2p/go-irpc/internal/protocol/session"
)

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// Context 生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrContextClosed Context 已关闭
	ErrContextClosed = errors.New("irpc: context closed")

	// ErrNoConnection SessionBuilder 未指定连接
	ErrNoConnection = errors.New("irpc: session has no connection")

	// ────────────────────────────────────────────────────────────────────────
	// 传输错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrIO 连接读写或注册失败，连接已关闭
	ErrIO = reactor.ErrIO

	// ErrReactorClosed 事件循环已关闭
	ErrReactorClosed = reactor.ErrReactorClosed

	// ErrEndpointClosed 连接已关闭
	ErrEndpointClosed = reactor.ErrEndpointClosed

	// ErrUnsupportedPlatform 当前平台不支持事件循环
	ErrUnsupportedPlatform = reactor.ErrUnsupportedPlatform

	// ────────────────────────────────────────────────────────────────────────
	// 协议错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrEncoding 值不能编码或帧超过上限，不会被发送
	ErrEncoding = codec.ErrEncoding

	// ErrProtocolViolation 对端发送了格式错误的帧，连接被关闭
	ErrProtocolViolation = codec.ErrProtocolViolation

	// ────────────────────────────────────────────────────────────────────────
	// 管道与会话错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrClosedPipe 管道已关闭
	ErrClosedPipe = session.ErrClosedPipe

	// ErrAbandoned 会话关闭时管道被放弃
	ErrAbandoned = session.ErrAbandoned

	// ErrTimeout 等待 Close 超时
	ErrTimeout = session.ErrTimeout

	// ErrDuplicateMethod 方法 ID 重复
	ErrDuplicateMethod = session.ErrDuplicateMethod

	// ErrSessionClosed 会话已关闭
	ErrSessionClosed = session.ErrSessionClosed

	// ErrUnknownMethod 接口描述中没有该方法名
	ErrUnknownMethod = session.ErrUnknownMethod
)
