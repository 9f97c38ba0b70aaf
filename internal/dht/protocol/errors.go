package protocol

import (
	"errors"
	"fmt"
)

// 协议错误码（BEP5 / BEP44）
const (
	// CodeGeneric 通用错误，也用于相同 seq 不同值
	CodeGeneric = 201
	// CodeServer 服务端内部错误
	CodeServer = 202
	// CodeProtocol 报文格式错误或缺少参数
	CodeProtocol = 203
	// CodeMethodUnknown 未知方法
	CodeMethodUnknown = 204
	// CodeMessageTooBig v 超过大小限制
	CodeMessageTooBig = 205
	// CodeInvalidSignature 签名无效
	CodeInvalidSignature = 206
	// CodeSaltTooBig salt 超过大小限制
	CodeSaltTooBig = 207
	// CodeCASMismatch cas 与当前 seq 不一致
	CodeCASMismatch = 301
	// CodeSeqTooLow seq 小于当前 seq
	CodeSeqTooLow = 302
)

// Error 协议错误回复 e = [code, message]
type Error struct {
	Code    int
	Message string
}

// NewError 创建协议错误
func NewError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error 实现 error 接口
func (e *Error) Error() string {
	return fmt.Sprintf("dht error %d: %s", e.Code, e.Message)
}

// Is 按错误码比较
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// CodeOf 提取错误码，非协议错误返回 CodeServer
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeServer
}

// 常用协议错误
var (
	ErrMissingID     = &Error{Code: CodeProtocol, Message: "missing or invalid id"}
	ErrMissingTarget = &Error{Code: CodeProtocol, Message: "missing or invalid target"}
	ErrMissingToken  = &Error{Code: CodeProtocol, Message: "missing or invalid token"}
	ErrMissingValue  = &Error{Code: CodeProtocol, Message: "missing or invalid v"}
	ErrBadToken      = &Error{Code: CodeProtocol, Message: "bad token"}
	ErrHashMismatch  = &Error{Code: CodeProtocol, Message: "target does not match hash of v"}
	ErrValueTooBig   = &Error{Code: CodeMessageTooBig, Message: "message (v field) too big"}
	ErrBadSignature  = &Error{Code: CodeInvalidSignature, Message: "invalid signature"}
	ErrSaltTooBig    = &Error{Code: CodeSaltTooBig, Message: "salt (salt field) too big"}
	ErrCASMismatch   = &Error{Code: CodeCASMismatch, Message: "CAS mismatch, re-read value and try again"}
	ErrSeqTooLow     = &Error{Code: CodeSeqTooLow, Message: "sequence number less than current"}
	ErrSeqConflict   = &Error{Code: CodeGeneric, Message: "sequence number equal to current with different value"}
	ErrInternal      = &Error{Code: CodeServer, Message: "internal error"}
)

// 解码错误（数据报被静默丢弃）
var (
	// ErrMalformed 无法解析的数据报
	ErrMalformed = errors.New("protocol: malformed message")

	// ErrTooLarge 数据报超过上限
	ErrTooLarge = errors.New("protocol: message too large")

	// ErrInvalidCompact 紧凑节点格式长度错误
	ErrInvalidCompact = errors.New("protocol: invalid compact node info")

	// ErrInvalidTransactionID 事务 ID 长度错误
	ErrInvalidTransactionID = errors.New("protocol: invalid transaction id")
)
