package item

import "errors"

var (
	// ErrImmutable 不可变条目不能重新签名
	ErrImmutable = errors.New("item: immutable item cannot be re-signed")

	// ErrKeyMismatch 私钥与条目公钥不一致
	ErrKeyMismatch = errors.New("item: private key does not match item public key")

	// ErrNotFound 条目不存在
	ErrNotFound = errors.New("item: not found")

	// ErrCorruptRecord 持久化记录损坏
	ErrCorruptRecord = errors.New("item: corrupt persisted record")
)
