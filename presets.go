package irpc

import (
	"time"

	"github.com/dep2p/go-irpc/config"
)

// 预设名称常量
const (
	// PresetNameDefault 默认预设名称
	PresetNameDefault = "default"

	// PresetNameServer 服务端预设名称
	PresetNameServer = "server"

	// PresetNameMinimal 最小预设名称
	PresetNameMinimal = "minimal"

	// PresetNameTest 测试预设名称
	PresetNameTest = "test"
)

// Preset 在默认配置之上调整部分参数
type Preset struct {
	Name  string
	apply func(cfg *config.Config)
}

// Apply 把预设应用到 cfg
func (p *Preset) Apply(cfg *config.Config) {
	if p.apply != nil {
		p.apply(cfg)
	}
}

var (
	// PresetDefault 默认配置
	PresetDefault = &Preset{Name: PresetNameDefault}

	// PresetServer 服务端：更大的读缓冲与出站队列，更高的调用并发
	PresetServer = &Preset{Name: PresetNameServer, apply: func(cfg *config.Config) {
		cfg.Reactor.ReadBufferSize = 64 << 10
		cfg.Reactor.MaxEvents = 512
		cfg.Reactor.WriteQueueCapacity = 8 << 20
		cfg.Worker.Concurrency = 1024
	}}

	// PresetMinimal 最小资源占用，关闭指标
	PresetMinimal = &Preset{Name: PresetNameMinimal, apply: func(cfg *config.Config) {
		cfg.Reactor.ReadBufferSize = 4 << 10
		cfg.Reactor.MaxEvents = 32
		cfg.Reactor.WriteQueueCapacity = 256 << 10
		cfg.Worker.Concurrency = 8
		cfg.Session.ProxyCacheSize = 8
		cfg.Metrics.Enabled = false
	}}

	// PresetTest 测试：短轮询与短超时，关闭指标
	PresetTest = &Preset{Name: PresetNameTest, apply: func(cfg *config.Config) {
		cfg.Reactor.PollTimeout = config.Duration(100 * time.Millisecond)
		cfg.Session.AbandonTimeout = config.Duration(time.Second)
		cfg.Session.CallTimeout = config.Duration(5 * time.Second)
		cfg.Metrics.Enabled = false
	}}
)

// PresetByName 按名称查找预设
func PresetByName(name string) (*Preset, bool) {
	switch name {
	case PresetNameDefault, "":
		return PresetDefault, true
	case PresetNameServer:
		return PresetServer, true
	case PresetNameMinimal:
		return PresetMinimal, true
	case PresetNameTest:
		return PresetTest, true
	default:
		return nil, false
	}
}
