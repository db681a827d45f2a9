package config

import (
	"errors"
	"time"
)

// SessionConfig 会话配置
type SessionConfig struct {
	// InboundQueueCapacity 每个管道入站数据块队列的容量（块数）
	// 队列满时该管道以错误关闭，不阻塞事件循环
	// 默认值: 16384
	InboundQueueCapacity int `json:"inbound_queue_capacity"`

	// AbandonTimeout 会话关闭后，被放弃的管道等待方以 ErrAbandoned 失败的延迟
	// 0 表示立即失败
	// 默认值: 30s
	AbandonTimeout Duration `json:"abandon_timeout"`

	// CallTimeout 代理调用等待 Close 的超时，0 表示不限时
	// 默认值: 30s
	CallTimeout Duration `json:"call_timeout"`

	// ProxyCacheSize 每个会话缓存的代理数量
	// 默认值: 64
	ProxyCacheSize int `json:"proxy_cache_size"`
}

// DefaultSessionConfig 返回默认的会话配置
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		InboundQueueCapacity: 16384,
		AbandonTimeout:       Duration(30 * time.Second),
		CallTimeout:          Duration(30 * time.Second),
		ProxyCacheSize:       64,
	}
}

// Validate 验证会话配置
func (c *SessionConfig) Validate() error {
	if c.InboundQueueCapacity <= 0 {
		return errors.New("session: inbound_queue_capacity must be positive")
	}
	if c.AbandonTimeout < 0 {
		return errors.New("session: abandon_timeout must not be negative")
	}
	if c.CallTimeout < 0 {
		return errors.New("session: call_timeout must not be negative")
	}
	if c.ProxyCacheSize <= 0 {
		return errors.New("session: proxy_cache_size must be positive")
	}
	return nil
}
