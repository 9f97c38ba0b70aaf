// Package log 提供 go-kdht 统一日志接口
//
// 基于 Go 标准库 log/slog 封装，提供按组件命名的懒加载 logger。
// 日志级别可通过环境变量按组件配置：
//
//	KDHT_LOG_LEVEL=dht/routing=debug,dht=info,warn
//	KDHT_LOG_FORMAT=json
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// 日志级别常量（从 slog 导出，方便使用）
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// base 当前输出使用的根 logger
var base atomic.Pointer[slog.Logger]

// SetDefault 设置根 logger
func SetDefault(l *slog.Logger) {
	base.Store(l)
}

// Default 返回根 logger
func Default() *slog.Logger {
	return base.Load()
}

// New 创建文本格式 logger
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetOutput 设置日志输出目标和最低级别
//
// 组件级别仍由 KDHT_LOG_LEVEL 控制，这里的 level 是 handler 的下限。
//
// 示例：
//
//	file, _ := os.OpenFile("dht.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
//	log.SetOutput(file, log.LevelDebug)
func SetOutput(w io.Writer, level slog.Level) {
	if envConfig().json {
		SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
		return
	}
	SetDefault(New(w, level))
}

// Discard 丢弃所有日志输出（测试常用）
func Discard() {
	SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// ============================================================================
//                              LazyLogger
// ============================================================================

// LazyLogger 懒加载 logger
//
// 每次日志调用时都从根 logger 获取最新的 handler，
// 支持在运行时切换日志输出目标。
//
// 使用方式：
//
//	var logger = log.Logger("dht/routing")
//	logger.Debug("桶分裂", "depth", 3)
type LazyLogger struct {
	component string
}

// Logger 返回带组件名的 LazyLogger
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component}
}

func (l *LazyLogger) logger() *slog.Logger {
	return Default().With("component", l.component)
}

// Enabled 组件在该级别是否输出
func (l *LazyLogger) Enabled(level slog.Level) bool {
	return level >= envConfig().levelFor(l.component)
}

func (l *LazyLogger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	l.logger().Log(ctx, level, msg, args...)
}

// Debug 输出 Debug 级别日志
func (l *LazyLogger) Debug(msg string, args ...any) {
	l.log(context.Background(), LevelDebug, msg, args...)
}

// Info 输出 Info 级别日志
func (l *LazyLogger) Info(msg string, args ...any) {
	l.log(context.Background(), LevelInfo, msg, args...)
}

// Warn 输出 Warn 级别日志
func (l *LazyLogger) Warn(msg string, args ...any) {
	l.log(context.Background(), LevelWarn, msg, args...)
}

// Error 输出 Error 级别日志
func (l *LazyLogger) Error(msg string, args ...any) {
	l.log(context.Background(), LevelError, msg, args...)
}

// DebugContext 带 context 的 Debug 日志
func (l *LazyLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelDebug, msg, args...)
}

// WarnContext 带 context 的 Warn 日志
func (l *LazyLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelWarn, msg, args...)
}

// With 添加额外的属性
func (l *LazyLogger) With(args ...any) *slog.Logger {
	return l.logger().With(args...)
}

// ============================================================================
//                              工具函数
// ============================================================================

// TruncateID 安全截取 ID 用于日志显示
func TruncateID(id string, maxLen int) string {
	if len(id) <= maxLen {
		return id
	}
	return id[:maxLen]
}

func init() {
	SetDefault(New(os.Stderr, LevelDebug))
}
