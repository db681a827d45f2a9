package config

import (
	"errors"
	"time"
)

// ReactorConfig 事件循环配置
type ReactorConfig struct {
	// ReadBufferSize 单次非阻塞读取的临时缓冲区大小
	// 默认值: 8192
	ReadBufferSize int `json:"read_buffer_size"`

	// PollTimeout 单轮等待就绪事件的最长时间
	// 默认值: 3s
	PollTimeout Duration `json:"poll_timeout"`

	// MaxEvents 单轮最多处理的就绪事件数
	// 默认值: 128
	MaxEvents int `json:"max_events"`

	// WriteQueueCapacity 每个连接出站队列的字节容量，超出时写入方阻塞
	// 默认值: 1MB
	WriteQueueCapacity int `json:"write_queue_capacity"`
}

// DefaultReactorConfig 返回默认的事件循环配置
func DefaultReactorConfig() ReactorConfig {
	return ReactorConfig{
		ReadBufferSize:     8 << 10,
		PollTimeout:        Duration(3 * time.Second),
		MaxEvents:          128,
		WriteQueueCapacity: 1 << 20,
	}
}

// Validate 验证事件循环配置
func (c *ReactorConfig) Validate() error {
	if c.ReadBufferSize <= 0 {
		return errors.New("reactor: read_buffer_size must be positive")
	}
	if c.PollTimeout <= 0 {
		return errors.New("reactor: poll_timeout must be positive")
	}
	if c.MaxEvents <= 0 {
		return errors.New("reactor: max_events must be positive")
	}
	if c.WriteQueueCapacity <= 0 {
		return errors.New("reactor: write_queue_capacity must be positive")
	}
	return nil
}
