package main

import (
	"os"

	"github.com/dep2p/go-irpc/config"
)

// envPreset 预设名称环境变量，命令行参数优先
const envPreset = "IRPC_PRESET"

// loadConfigFile 从 JSON 文件加载配置，未出现的字段保持默认值
func loadConfigFile(path string) (*config.Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: 用户指定的配置文件路径是预期行为
	if err != nil {
		return nil, err
	}
	return config.FromJSON(data)
}
