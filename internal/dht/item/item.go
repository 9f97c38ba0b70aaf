// Package item 实现 BEP44 存储条目
//
// 不可变条目以 SHA1(bencode(v)) 寻址；可变条目以 SHA1(k ++ salt) 寻址，
// 只能被签名有效且 seq 更大（或相等且值相同）的新值覆盖。
package item

import (
	"bytes"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dep2p/go-kdht/internal/dht/protocol"
	"github.com/dep2p/go-kdht/pkg/lib/crypto"
	"github.com/dep2p/go-kdht/pkg/types"
)

// 大小限制
const (
	MaxValueSize = 1000
	MaxSaltSize  = 64
)

// Item 存储条目
type Item struct {
	ID        types.ID
	Mutable   bool
	PublicKey *crypto.PublicKey
	Salt      []byte

	mu         sync.RWMutex
	value      []byte
	seq        int64
	sig        []byte
	expiration time.Time
	keepalive  time.Time
	onUpdate   func(*Item)

	refs atomic.Int32
}

// View 条目的只读副本
type View struct {
	ID        types.ID
	Mutable   bool
	PublicKey []byte
	Salt      []byte
	Value     []byte
	Seq       int64
	Sig       []byte
}

// ============================================================================
//                              寻址
// ============================================================================

// EncodeValue 返回值的 bencode 字节串编码 "<len>:<v>"
func EncodeValue(v []byte) []byte {
	out := strconv.AppendInt(make([]byte, 0, len(v)+5), int64(len(v)), 10)
	out = append(out, ':')
	return append(out, v...)
}

// ImmutableTarget 不可变条目 ID = SHA1(bencode(v))
func ImmutableTarget(v []byte) types.ID {
	return types.HashID(EncodeValue(v))
}

// MutableTarget 可变条目 ID = SHA1(k ++ salt)
func MutableTarget(pk, salt []byte) types.ID {
	return types.HashID(pk, salt)
}

// ============================================================================
//                              构造
// ============================================================================

// NewImmutable 创建不可变条目
func NewImmutable(v []byte) (*Item, error) {
	if len(v) > MaxValueSize {
		return nil, protocol.ErrValueTooBig
	}
	return &Item{
		ID:    ImmutableTarget(v),
		value: bytes.Clone(v),
	}, nil
}

// NewImmutableFromWire 校验 target 与 v 的哈希一致后创建不可变条目
func NewImmutableFromWire(target types.ID, v []byte) (*Item, error) {
	it, err := NewImmutable(v)
	if err != nil {
		return nil, err
	}
	if it.ID != target {
		return nil, protocol.ErrHashMismatch
	}
	return it, nil
}

// NewMutable 用私钥签名创建可变条目
func NewMutable(priv *crypto.PrivateKey, salt, v []byte, seq int64) (*Item, error) {
	if err := checkLimits(salt, v); err != nil {
		return nil, err
	}
	pub := priv.Public()
	return &Item{
		ID:        MutableTarget(pub.Raw(), salt),
		Mutable:   true,
		PublicKey: pub,
		Salt:      bytes.Clone(salt),
		value:     bytes.Clone(v),
		seq:       seq,
		sig:       priv.Sign(SignatureBuffer(salt, seq, v)),
	}, nil
}

// NewMutableFromWire 校验签名后创建可变条目
func NewMutableFromWire(pk, salt, v []byte, seq int64, sig []byte) (*Item, error) {
	if err := checkLimits(salt, v); err != nil {
		return nil, err
	}
	pub, err := crypto.UnmarshalPublicKey(pk)
	if err != nil {
		return nil, protocol.ErrBadSignature
	}
	if !pub.Verify(SignatureBuffer(salt, seq, v), sig) {
		return nil, protocol.ErrBadSignature
	}
	return &Item{
		ID:        MutableTarget(pk, salt),
		Mutable:   true,
		PublicKey: pub,
		Salt:      bytes.Clone(salt),
		value:     bytes.Clone(v),
		seq:       seq,
		sig:       bytes.Clone(sig),
	}, nil
}

func checkLimits(salt, v []byte) error {
	if len(v) > MaxValueSize {
		return protocol.ErrValueTooBig
	}
	if len(salt) > MaxSaltSize {
		return protocol.ErrSaltTooBig
	}
	return nil
}

// ============================================================================
//                              读取
// ============================================================================

// Value 当前值的副本
func (it *Item) Value() []byte {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return bytes.Clone(it.value)
}

// Seq 当前序号
func (it *Item) Seq() int64 {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.seq
}

// Sig 当前签名的副本
func (it *Item) Sig() []byte {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return bytes.Clone(it.sig)
}

// View 返回一致的只读副本
func (it *Item) View() View {
	it.mu.RLock()
	defer it.mu.RUnlock()
	v := View{
		ID:      it.ID,
		Mutable: it.Mutable,
		Salt:    bytes.Clone(it.Salt),
		Value:   bytes.Clone(it.value),
		Seq:     it.seq,
		Sig:     bytes.Clone(it.sig),
	}
	if it.PublicKey != nil {
		v.PublicKey = it.PublicKey.Raw()
	}
	return v
}

// Expiration 过期时间
func (it *Item) Expiration() time.Time {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.expiration
}

// Keepalive 下一次重新发布时间
func (it *Item) Keepalive() time.Time {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.keepalive
}

// OnUpdate 设置值更新回调，在释放条目锁后调用
func (it *Item) OnUpdate(fn func(*Item)) {
	it.mu.Lock()
	it.onUpdate = fn
	it.mu.Unlock()
}

// ============================================================================
//                              引用计数
// ============================================================================

// Hold 增加兴趣引用；有引用的条目不会过期，并会按 keepalive 重新发布
func (it *Item) Hold() *Item {
	it.refs.Add(1)
	return it
}

// Release 释放引用
func (it *Item) Release() {
	if it.refs.Add(-1) < 0 {
		panic("item: released more times than held")
	}
}

// Refs 当前引用数
func (it *Item) Refs() int32 {
	return it.refs.Load()
}

// ============================================================================
//                              CAS 更新
// ============================================================================

// CheckUpdate 检查 (seq, v) 能否覆盖当前值
//
// 检查顺序：cas 不一致 301；seq 小于当前值 302；seq 相等但值不同 201。
// 不可变条目总是可以"覆盖"（值由 ID 决定）。
func (it *Item) CheckUpdate(seq int64, v []byte, cas *int64) error {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.checkLocked(seq, v, cas)
}

func (it *Item) checkLocked(seq int64, v []byte, cas *int64) error {
	if !it.Mutable {
		return nil
	}
	if cas != nil && *cas != it.seq {
		return protocol.ErrCASMismatch
	}
	if seq < it.seq {
		return protocol.ErrSeqTooLow
	}
	if seq == it.seq && !bytes.Equal(v, it.value) {
		return protocol.ErrSeqConflict
	}
	return nil
}

// Update 原子地检查并写入新值，返回值是否发生变化
//
// sig 必须是调用方已经验证过的 (salt, seq, v) 签名。
func (it *Item) Update(v []byte, seq int64, sig []byte, cas *int64) (bool, error) {
	it.mu.Lock()
	if err := it.checkLocked(seq, v, cas); err != nil {
		it.mu.Unlock()
		return false, err
	}
	if !it.Mutable || seq == it.seq {
		it.mu.Unlock()
		return false, nil
	}
	it.value = bytes.Clone(v)
	it.seq = seq
	it.sig = bytes.Clone(sig)
	cb := it.onUpdate
	it.mu.Unlock()

	if cb != nil {
		cb(it)
	}
	return true, nil
}

// Sign 用私钥为新值签名并更新，seq 必须大于当前值
func (it *Item) Sign(priv *crypto.PrivateKey, v []byte, seq int64) error {
	if !it.Mutable {
		return ErrImmutable
	}
	if !priv.Public().Equals(it.PublicKey) {
		return ErrKeyMismatch
	}
	if len(v) > MaxValueSize {
		return protocol.ErrValueTooBig
	}
	_, err := it.Update(v, seq, priv.Sign(SignatureBuffer(it.Salt, seq, v)), nil)
	return err
}

// touch 刷新过期与重新发布时间
func (it *Item) touch(now time.Time, expiration, keepalive time.Duration) {
	it.mu.Lock()
	it.expiration = now.Add(expiration)
	if it.keepalive.IsZero() {
		it.keepalive = now.Add(keepalive)
	}
	it.mu.Unlock()
}
