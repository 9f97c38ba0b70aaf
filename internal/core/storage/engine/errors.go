package engine

import (
	"errors"
	"fmt"
)

// 引擎层错误，badger 的原生错误在 convertError 中映射到这里
var (
	ErrNotFound      = errors.New("storage: key not found")
	ErrEmptyKey      = errors.New("storage: empty key")
	ErrClosed        = errors.New("storage: engine closed")
	ErrInvalidConfig = errors.New("storage: invalid configuration")
	ErrBatchClosed   = errors.New("storage: batch closed")

	// ErrCorrupted 值能读出但无法解码，由上层在解码失败时通过 Corrupted 包装返回
	ErrCorrupted = errors.New("storage: data corrupted")
)

// CorruptedError 记录无法解码的键
type CorruptedError struct {
	Key []byte
	Err error
}

func (e *CorruptedError) Error() string {
	return fmt.Sprintf("%s: key %q: %v", ErrCorrupted, e.Key, e.Err)
}

// Unwrap 同时暴露 ErrCorrupted 与解码错误
func (e *CorruptedError) Unwrap() []error {
	return []error{ErrCorrupted, e.Err}
}

// Corrupted 标记 key 对应的值已损坏
func Corrupted(key []byte, err error) error {
	return &CorruptedError{Key: append([]byte(nil), key...), Err: err}
}

// IsNotFound 键不存在
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClosed 引擎已关闭
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// IsCorrupted 值已损坏
func IsCorrupted(err error) bool {
	return errors.Is(err, ErrCorrupted)
}
