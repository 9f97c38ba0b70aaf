// Package crypto 提供可变存储项使用的 Ed25519 密钥封装
package crypto

import (
	"crypto/ed25519"
	"crypto/subtle"
	"fmt"
	"io"
)

// Ed25519 密钥常量
const (
	// PrivateKeySize Ed25519 私钥大小（64 字节）
	PrivateKeySize = ed25519.PrivateKeySize
	// PublicKeySize Ed25519 公钥大小（32 字节）
	PublicKeySize = ed25519.PublicKeySize
	// SignatureSize Ed25519 签名大小（64 字节）
	SignatureSize = ed25519.SignatureSize
	// SeedSize Ed25519 种子大小（32 字节）
	SeedSize = ed25519.SeedSize
)

// ============================================================================
//                              PublicKey
// ============================================================================

// PublicKey Ed25519 公钥
type PublicKey struct {
	k ed25519.PublicKey
}

// Raw 返回原始公钥字节副本
func (k *PublicKey) Raw() []byte {
	buf := make([]byte, len(k.k))
	copy(buf, k.k)
	return buf
}

// Equals 常量时间比较两个公钥
func (k *PublicKey) Equals(other *PublicKey) bool {
	if other == nil {
		return false
	}
	return subtle.ConstantTimeCompare(k.k, other.k) == 1
}

// Verify 验证签名
func (k *PublicKey) Verify(data, sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(k.k, data, sig)
}

// ============================================================================
//                              PrivateKey
// ============================================================================

// PrivateKey Ed25519 私钥
type PrivateKey struct {
	k ed25519.PrivateKey
}

// Raw 返回 64 字节私钥副本（种子 + 公钥）
func (k *PrivateKey) Raw() []byte {
	buf := make([]byte, len(k.k))
	copy(buf, k.k)
	return buf
}

// Seed 返回 32 字节私钥种子
func (k *PrivateKey) Seed() []byte {
	return k.k.Seed()
}

// Public 返回对应公钥
func (k *PrivateKey) Public() *PublicKey {
	pub := k.k.Public().(ed25519.PublicKey) //nolint:errcheck // 类型断言安全
	return &PublicKey{k: pub}
}

// Sign 签名数据
func (k *PrivateKey) Sign(data []byte) []byte {
	return ed25519.Sign(k.k, data)
}

// ============================================================================
//                              工厂函数
// ============================================================================

// GenerateKey 生成新的 Ed25519 密钥对
func GenerateKey(src io.Reader) (*PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(src)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{k: priv}, nil
}

// UnmarshalPublicKey 从 32 字节恢复公钥
func UnmarshalPublicKey(data []byte) (*PublicKey, error) {
	if len(data) != PublicKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKeySize, PublicKeySize, len(data))
	}
	k := make([]byte, PublicKeySize)
	copy(k, data)
	return &PublicKey{k: k}, nil
}

// UnmarshalPrivateKey 从字节恢复私钥
//
// 支持 64 字节完整私钥或 32 字节种子。
func UnmarshalPrivateKey(data []byte) (*PrivateKey, error) {
	switch len(data) {
	case PrivateKeySize:
		k := make([]byte, PrivateKeySize)
		copy(k, data)
		return &PrivateKey{k: k}, nil
	case SeedSize:
		return &PrivateKey{k: ed25519.NewKeyFromSeed(data)}, nil
	default:
		return nil, fmt.Errorf("%w: expected %d or %d bytes, got %d",
			ErrInvalidKeySize, SeedSize, PrivateKeySize, len(data))
	}
}
