// Package config 提供统一的配置管理
//
// 主 Config 结构体按组件组织子配置，每个子配置在独立文件中定义，
// 支持从 JSON 加载和保存。
//
// 使用示例：
//
//	// 创建默认配置
//	cfg := config.NewConfig()
//	cfg.Reactor.WriteQueueCapacity = 4 << 20
//	cfg.Session.AbandonTimeout = config.Duration(time.Minute)
//
//	// 从 JSON 加载
//	cfg, err := config.FromJSON(data)
package config

// Config 是 irpc 的完整配置结构
//
// 配置按照功能模块组织：
//   - Reactor: 事件循环与连接缓冲
//   - Session: 管道会话与远程调用
//   - Worker: 入站调用执行池
//   - Metrics: 指标收集
//   - Diagnostics: 自省服务
type Config struct {
	// Reactor 事件循环配置
	Reactor ReactorConfig `json:"reactor"`

	// Session 会话配置
	Session SessionConfig `json:"session"`

	// Worker 入站调用执行池配置
	Worker WorkerConfig `json:"worker"`

	// Metrics 指标配置
	Metrics MetricsConfig `json:"metrics"`

	// Diagnostics 诊断服务配置
	Diagnostics DiagnosticsConfig `json:"diagnostics"`
}

// NewConfig 创建默认配置
//
// 返回的配置使用所有组件的默认值，适用于大多数场景。
func NewConfig() *Config {
	return &Config{
		Reactor: DefaultReactorConfig(),
		Session: DefaultSessionConfig(),
		Worker:  DefaultWorkerConfig(),
		Metrics: DefaultMetricsConfig(),

		Diagnostics: DefaultDiagnosticsConfig(),
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if err := c.Reactor.Validate(); err != nil {
		return err
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if err := c.Worker.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	return c.Diagnostics.Validate()
}
