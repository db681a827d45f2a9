// Package logger 解析环境变量中的日志配置并构造按组件过滤级别的 slog.Handler
//
// 环境变量：
//   - IRPC_LOG_LEVEL: 组件=级别,组件=级别,默认级别
//     示例: core/reactor=debug,protocol/session=warn,info
//   - IRPC_LOG_FORMAT: text 或 json
//   - IRPC_LOG_ADD_SOURCE: true 或 false
//
// 组件名取自 log.Logger(component) 附加的 component 属性。
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// 环境变量名
const (
	EnvLevel     = "IRPC_LOG_LEVEL"
	EnvFormat    = "IRPC_LOG_FORMAT"
	EnvAddSource = "IRPC_LOG_ADD_SOURCE"
)

// LogFormat 日志输出格式
type LogFormat int

const (
	// FormatText 文本格式（默认）
	FormatText LogFormat = iota
	// FormatJSON JSON 格式
	FormatJSON
)

// Config 日志配置
type Config struct {
	// DefaultLevel 未单独配置的组件使用的级别
	DefaultLevel slog.Level

	// ComponentLevels 各组件的日志级别
	ComponentLevels map[string]slog.Level

	// Format 输出格式
	Format LogFormat

	// AddSource 是否添加源码位置
	AddSource bool
}

// LevelFor 返回组件的日志级别
func (c *Config) LevelFor(component string) slog.Level {
	if level, ok := c.ComponentLevels[component]; ok {
		return level
	}
	return c.DefaultLevel
}

// minLevel 所有配置中最低的级别，作为内层 handler 的门槛
func (c *Config) minLevel() slog.Level {
	lowest := c.DefaultLevel
	for _, level := range c.ComponentLevels {
		if level < lowest {
			lowest = level
		}
	}
	return lowest
}

// ConfigFromEnv 从环境变量解析配置
func ConfigFromEnv() *Config {
	return ParseConfig(os.Getenv(EnvLevel), os.Getenv(EnvFormat), os.Getenv(EnvAddSource))
}

// ParseConfig 解析级别、格式与源码位置设置，空字符串取默认值
func ParseConfig(levels, format, addSource string) *Config {
	cfg := &Config{
		DefaultLevel:    slog.LevelInfo,
		ComponentLevels: make(map[string]slog.Level),
		Format:          FormatText,
	}

	if levels != "" {
		parseLevelConfig(cfg, levels)
	}
	if strings.EqualFold(format, "json") {
		cfg.Format = FormatJSON
	}
	if addSource != "" {
		cfg.AddSource = addSource != "false" && addSource != "0"
	}
	return cfg
}

// parseLevelConfig 解析 component=level,component=level,defaultLevel
func parseLevelConfig(cfg *Config, levelStr string) {
	for _, part := range strings.Split(levelStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if component, levelName, ok := strings.Cut(part, "="); ok {
			if level, ok := ParseLevel(strings.TrimSpace(levelName)); ok {
				cfg.ComponentLevels[strings.TrimSpace(component)] = level
			}
			continue
		}
		if level, ok := ParseLevel(part); ok {
			cfg.DefaultLevel = level
		}
	}
}

// ParseLevel 解析日志级别名称
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
