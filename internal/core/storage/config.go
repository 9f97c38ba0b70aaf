package storage

import (
	"time"

	"github.com/dep2p/go-kdht/config"
	"github.com/dep2p/go-kdht/internal/core/storage/engine"
)

// Config Storage 模块配置
type Config struct {
	// Path BadgerDB 数据库目录（InMemory 为 false 时必需）
	Path string

	// InMemory 纯内存模式
	InMemory bool

	// SyncWrites 是否同步写入
	SyncWrites bool

	// GCInterval 值日志垃圾回收间隔
	GCInterval time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Path:       "./data/kdht.db",
		GCInterval: 10 * time.Minute,
	}
}

// ConfigFromUnified 从统一配置创建 Storage 配置
func ConfigFromUnified(cfg *config.Config) Config {
	storageCfg := DefaultConfig()
	if cfg == nil {
		return storageCfg
	}
	if cfg.Storage.InMemory {
		storageCfg.InMemory = true
		storageCfg.Path = ""
		return storageCfg
	}
	if cfg.Storage.DataDir != "" {
		storageCfg.Path = cfg.Storage.DBPath()
	}
	return storageCfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return engine.ErrInvalidConfig
	}
	if c.GCInterval > 0 && c.GCInterval < time.Minute {
		c.GCInterval = time.Minute
	}
	return nil
}

// ToEngineConfig 转换为引擎配置
func (c *Config) ToEngineConfig() *engine.Config {
	if c.InMemory {
		return engine.InMemoryConfig()
	}
	engineCfg := engine.DefaultConfig(c.Path)
	engineCfg.SyncWrites = c.SyncWrites
	engineCfg.Badger.GCInterval = c.GCInterval
	engineCfg.Logger = engineLogger{}
	return engineCfg
}

// engineLogger 将 badger 内部日志转发到 storage/badger 组件
type engineLogger struct{}

func (engineLogger) Errorf(format string, args ...interface{}) {
	badgerLog.Error(sprintf(format, args...))
}

func (engineLogger) Warningf(format string, args ...interface{}) {
	badgerLog.Warn(sprintf(format, args...))
}

func (engineLogger) Infof(format string, args ...interface{}) {
	badgerLog.Debug(sprintf(format, args...))
}

func (engineLogger) Debugf(format string, args ...interface{}) {
	badgerLog.Debug(sprintf(format, args...))
}
