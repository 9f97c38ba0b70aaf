package crypto

import "errors"

// 密钥相关错误
var (
	// ErrInvalidKeySize 密钥大小无效
	ErrInvalidKeySize = errors.New("crypto: invalid key size")
)
