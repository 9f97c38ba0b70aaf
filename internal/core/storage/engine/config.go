package engine

import (
	"os"
	"path/filepath"
	"time"
)

// Config 存储引擎配置
type Config struct {
	// Path 数据目录路径（InMemory 为 false 时必需）
	Path string

	// InMemory 纯内存模式，不落盘
	// 用于测试与不需要持久化的节点
	InMemory bool

	// SyncWrites 是否同步写入
	SyncWrites bool

	// Logger 日志记录器，为 nil 时禁用引擎日志
	Logger Logger

	// Badger 特定选项
	Badger BadgerOptions
}

// BadgerOptions BadgerDB 特定选项
type BadgerOptions struct {
	// MemTableSize 内存表大小（字节）
	MemTableSize int64

	// ValueLogFileSize 值日志文件大小（字节）
	ValueLogFileSize int64

	// BlockCacheSize 块缓存大小（字节）
	BlockCacheSize int64

	// NumCompactors 压缩器数量
	NumCompactors int

	// GCInterval 值日志垃圾回收间隔，0 表示禁用
	GCInterval time.Duration

	// GCDiscardRatio 垃圾回收丢弃比例
	GCDiscardRatio float64
}

// Logger 日志接口
type Logger interface {
	Errorf(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// DefaultConfig 返回持久化默认配置
func DefaultConfig(path string) *Config {
	return &Config{
		Path:   path,
		Badger: DefaultBadgerOptions(),
	}
}

// InMemoryConfig 返回纯内存配置
func InMemoryConfig() *Config {
	opts := DefaultBadgerOptions()
	opts.MemTableSize = 8 << 20
	opts.BlockCacheSize = 0
	opts.GCInterval = 0
	return &Config{
		InMemory: true,
		Badger:   opts,
	}
}

// DefaultBadgerOptions 返回默认 BadgerDB 选项
//
// DHT 数据量很小（路由表 + 千字节级存储项），比通用默认值小得多。
func DefaultBadgerOptions() BadgerOptions {
	return BadgerOptions{
		MemTableSize:     16 << 20, // 16MB
		ValueLogFileSize: 64 << 20, // 64MB
		BlockCacheSize:   32 << 20, // 32MB
		NumCompactors:    2,
		GCInterval:       10 * time.Minute,
		GCDiscardRatio:   0.5,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return ErrInvalidConfig
	}
	if c.Badger.MemTableSize < 1<<20 {
		return ErrInvalidConfig
	}
	if c.Badger.ValueLogFileSize < 1<<20 {
		return ErrInvalidConfig
	}
	if c.Badger.NumCompactors < 2 {
		// badger 要求至少两个压缩器
		return ErrInvalidConfig
	}
	return nil
}

// EnsureDir 确保数据目录存在
func (c *Config) EnsureDir() error {
	if c.InMemory {
		return nil
	}
	absPath, err := filepath.Abs(c.Path)
	if err != nil {
		return err
	}
	c.Path = absPath
	return os.MkdirAll(c.Path, 0o755)
}
