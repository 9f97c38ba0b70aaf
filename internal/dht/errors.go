package dht

import (
	"errors"
	"fmt"
)

// 预定义错误
var (
	// ErrClosed DHT 已关闭
	ErrClosed = errors.New("dht: closed")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("dht: invalid config")

	// ErrNoEndpoint 没有绑定对应地址族的端点
	ErrNoEndpoint = errors.New("dht: no endpoint for address family")

	// ErrQueueFull 出站队列已满
	ErrQueueFull = errors.New("dht: outbound queue full")

	// ErrInvalidAddress 无效地址
	ErrInvalidAddress = errors.New("dht: invalid address")

	// ErrNoNodes 没有可用节点
	ErrNoNodes = errors.New("dht: no nodes available")

	// ErrNotFound 网络中未找到条目
	ErrNotFound = errors.New("dht: item not found")

	// ErrExpired 作业多次尝试后仍未得到应答
	ErrExpired = errors.New("dht: query expired")

	// ErrNoToken 对端未返回写入 token
	ErrNoToken = errors.New("dht: remote returned no token")

	// ErrInvalidResponse 无效应答
	ErrInvalidResponse = errors.New("dht: invalid response")
)

// DHTError DHT 错误类型
type DHTError struct {
	Op      string // 操作名称
	Err     error  // 底层错误
	Message string // 错误消息
}

// Error 实现 error 接口
func (e *DHTError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("dht %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("dht %s: %v", e.Op, e.Err)
}

// Unwrap 实现错误解包
func (e *DHTError) Unwrap() error {
	return e.Err
}

// NewDHTError 创建 DHT 错误
func NewDHTError(op string, err error, message string) *DHTError {
	return &DHTError{
		Op:      op,
		Err:     err,
		Message: message,
	}
}
