package codec

import "errors"

var (
	// ErrEncoding 值不能用类型化编码表示，或帧超出大小上限
	//
	// 在发送方同步返回，数据从不写到线上。
	ErrEncoding = errors.New("codec: encoding failure")

	// ErrProtocolViolation 帧格式错误、未知类型标记或未知消息类型
	//
	// 对所属连接是致命错误。
	ErrProtocolViolation = errors.New("codec: protocol violation")
)
