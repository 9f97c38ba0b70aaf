package log

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// 环境变量名
const (
	EnvLevel  = "KDHT_LOG_LEVEL"
	EnvFormat = "KDHT_LOG_FORMAT"
)

// levelConfig 组件日志级别配置
type levelConfig struct {
	defaultLevel slog.Level
	components   map[string]slog.Level
	json         bool
}

var (
	cfgCache *levelConfig
	cfgOnce  sync.Once
)

func envConfig() *levelConfig {
	cfgOnce.Do(func() {
		cfgCache = parseLevelConfig(os.Getenv(EnvLevel))
		cfgCache.json = strings.EqualFold(os.Getenv(EnvFormat), "json")
	})
	return cfgCache
}

// levelFor 返回组件的日志级别
//
// 按最长前缀匹配：dht/routing 未配置时回退到 dht。
func (c *levelConfig) levelFor(component string) slog.Level {
	for name := component; name != ""; {
		if level, ok := c.components[name]; ok {
			return level
		}
		i := strings.LastIndexByte(name, '/')
		if i < 0 {
			break
		}
		name = name[:i]
	}
	return c.defaultLevel
}

// parseLevelConfig 解析 "组件=级别,组件=级别,默认级别"
func parseLevelConfig(s string) *levelConfig {
	cfg := &levelConfig{
		defaultLevel: slog.LevelInfo,
		components:   make(map[string]slog.Level),
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if name, levelName, ok := strings.Cut(part, "="); ok {
			if level, ok := parseLevel(strings.TrimSpace(levelName)); ok {
				cfg.components[strings.TrimSpace(name)] = level
			}
			continue
		}
		if level, ok := parseLevel(part); ok {
			cfg.defaultLevel = level
		}
	}
	return cfg
}

func parseLevel(name string) (slog.Level, bool) {
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

// ResetEnv 重新读取环境变量（仅用于测试）
func ResetEnv() {
	cfgOnce = sync.Once{}
	cfgCache = nil
}
