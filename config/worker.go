package config

import "errors"

// WorkerConfig 入站调用执行池配置
type WorkerConfig struct {
	// Concurrency 同时执行的调用数上限
	// 默认值: 64
	Concurrency int `json:"concurrency"`

	// RateLimit 每秒允许开始的调用数，0 表示不限速
	// 默认值: 0
	RateLimit float64 `json:"rate_limit"`

	// Burst 限速桶容量，仅在 RateLimit > 0 时生效
	// 默认值: 32
	Burst int `json:"burst"`
}

// DefaultWorkerConfig 返回默认的执行池配置
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency: 64,
		Burst:       32,
	}
}

// Validate 验证执行池配置
func (c *WorkerConfig) Validate() error {
	if c.Concurrency <= 0 {
		return errors.New("worker: concurrency must be positive")
	}
	if c.RateLimit < 0 {
		return errors.New("worker: rate_limit must not be negative")
	}
	if c.RateLimit > 0 && c.Burst <= 0 {
		return errors.New("worker: burst must be positive when rate_limit is set")
	}
	return nil
}
