// Package types 定义 go-kdht 的基础类型
//
// 这是整个系统的最底层包，不依赖任何其他内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
package types

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // DHT 标识符按协议使用 SHA-1
	"encoding/hex"
	"errors"
	"math/bits"
	"strings"
)

// ============================================================================
//                              ID - 160 位标识符
// ============================================================================

// IDSize 标识符字节长度（160 位）
const IDSize = 20

// IDBits 标识符位数
const IDBits = IDSize * 8

// ID DHT 节点与存储项的 160 位标识符
//
// 标识符之间的"远近"只通过 XOR 距离定义，不使用数值大小比较。
type ID [IDSize]byte

// EmptyID 空标识符
var EmptyID ID

// MaxID 全 1 标识符，作为路由树根节点的掩码
var MaxID = func() ID {
	var id ID
	for i := range id {
		id[i] = 0xff
	}
	return id
}()

// ErrInvalidID 无效的标识符
var ErrInvalidID = errors.New("types: invalid id, must be 20 bytes")

// IDFromBytes 从字节切片创建 ID
func IDFromBytes(b []byte) (ID, error) {
	if len(b) != IDSize {
		return EmptyID, ErrInvalidID
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// IDFromHex 从十六进制字符串解析 ID
func IDFromHex(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return EmptyID, ErrInvalidID
	}
	return IDFromBytes(b)
}

// ParseID 解析十六进制 ID，允许 "0x" 前缀
func ParseID(s string) (ID, error) {
	return IDFromHex(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
}

// MustIDFromHex 解析十六进制 ID，失败时 panic
//
// 仅用于测试和常量初始化。
func MustIDFromHex(s string) ID {
	id, err := IDFromHex(s)
	if err != nil {
		panic(err)
	}
	return id
}

// RandomID 生成随机 ID
func RandomID() ID {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		panic("types: crypto/rand failed: " + err.Error())
	}
	return id
}

// HashID 对输入片段做 SHA-1 得到 ID
func HashID(parts ...[]byte) ID {
	h := sha1.New() //nolint:gosec
	for _, p := range parts {
		h.Write(p)
	}
	var id ID
	copy(id[:], h.Sum(nil))
	return id
}

// String 返回十六进制表示
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// ShortString 返回前 8 个十六进制字符，用于日志
func (id ID) ShortString() string {
	return id.String()[:8]
}

// Bytes 返回字节切片副本
func (id ID) Bytes() []byte {
	b := make([]byte, IDSize)
	copy(b, id[:])
	return b
}

// IsZero 是否为全零 ID
func (id ID) IsZero() bool {
	return id == EmptyID
}

// Equal 比较两个 ID 是否相等
func (id ID) Equal(other ID) bool {
	return id == other
}

// Bit 返回第 i 位（0 为最高位）
func (id ID) Bit(i int) uint8 {
	return (id[i/8] >> (7 - uint(i%8))) & 1
}

// ============================================================================
//                              XOR 距离
// ============================================================================

// Xor 计算两个 ID 的按位异或
func Xor(a, b ID) ID {
	var out ID
	for i := 0; i < IDSize; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// Distance 返回 a 与 b 的 XOR 距离
//
// 距离对称，且仅当 a == b 时为零。
func Distance(a, b ID) ID {
	return Xor(a, b)
}

// CompareDistance 比较 a、b 到 target 的距离
//
// 返回 -1 表示 a 更近，1 表示 b 更近，0 表示距离相同（即 a == b）。
func CompareDistance(a, b, target ID) int {
	for i := 0; i < IDSize; i++ {
		da := a[i] ^ target[i]
		db := b[i] ^ target[i]
		if da < db {
			return -1
		}
		if da > db {
			return 1
		}
	}
	return 0
}

// CommonPrefixLen 返回两个 ID 的公共前缀位数
func CommonPrefixLen(a, b ID) int {
	for i := 0; i < IDSize; i++ {
		if x := a[i] ^ b[i]; x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return IDBits
}

// ============================================================================
//                              掩码运算
// ============================================================================

// Compare 按大端无符号整数比较两个 ID
//
// 仅用于路由树掩码运算，节点远近请使用 CompareDistance。
func Compare(a, b ID) int {
	return bytes.Compare(a[:], b[:])
}

// LessOrEqual a <= b（大端无符号）
func LessOrEqual(a, b ID) bool {
	return Compare(a, b) <= 0
}

// ShiftRight 整体逻辑右移一位，最高位补 0
func ShiftRight(id ID) ID {
	var out ID
	var carry byte
	for i := 0; i < IDSize; i++ {
		out[i] = id[i]>>1 | carry
		carry = id[i] << 7
	}
	return out
}

// Midpoint 返回区间 [lo, hi] 的中点 (lo + hi) / 2
func Midpoint(lo, hi ID) ID {
	var sum [IDSize + 1]byte
	var carry uint16
	for i := IDSize - 1; i >= 0; i-- {
		s := uint16(lo[i]) + uint16(hi[i]) + carry
		sum[i+1] = byte(s)
		carry = s >> 8
	}
	sum[0] = byte(carry)

	// 右移一位，丢弃最低位
	var out ID
	for i := 0; i < IDSize; i++ {
		out[i] = sum[i]<<7 | sum[i+1]>>1
	}
	return out
}

// Increment 返回 id + 1（溢出时回绕）
func Increment(id ID) ID {
	out := id
	for i := IDSize - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			break
		}
	}
	return out
}

// MaskDepth 返回右填充掩码前导零的位数，即该掩码在路由树中的深度
func MaskDepth(mask ID) int {
	for i := 0; i < IDSize; i++ {
		if mask[i] != 0 {
			return i*8 + bits.LeadingZeros8(mask[i])
		}
	}
	return IDBits
}
