package item

import (
	"crypto/rand"
	"crypto/sha1"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kdht/internal/core/storage/engine/badger"
	"github.com/dep2p/go-kdht/internal/core/storage/kv"
	"github.com/dep2p/go-kdht/internal/dht/protocol"
	"github.com/dep2p/go-kdht/pkg/lib/crypto"
	"github.com/dep2p/go-kdht/pkg/types"
)

func testKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	priv, err := crypto.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv
}

func i64(v int64) *int64 { return &v }

// ============================================================================
//                              寻址与签名
// ============================================================================

func TestImmutableTarget(t *testing.T) {
	want := sha1.Sum([]byte("12:Hello World!"))
	assert.Equal(t, types.ID(want), ImmutableTarget([]byte("Hello World!")))

	it, err := NewImmutable([]byte("Hello World!"))
	require.NoError(t, err)
	assert.Equal(t, types.ID(want), it.ID)
	assert.False(t, it.Mutable)

	_, err = NewImmutableFromWire(types.RandomID(), []byte("Hello World!"))
	assert.Equal(t, protocol.CodeProtocol, protocol.CodeOf(err))
}

func TestSignatureBuffer(t *testing.T) {
	assert.Equal(t, "3:seqi1e1:v12:Hello World!", string(SignatureBuffer(nil, 1, []byte("Hello World!"))))
	assert.Equal(t, "4:salt6:foobar3:seqi1e1:v12:Hello World!",
		string(SignatureBuffer([]byte("foobar"), 1, []byte("Hello World!"))))
}

func TestMutable_SignVerify(t *testing.T) {
	priv := testKey(t)
	pk := priv.Public().Raw()

	it, err := NewMutable(priv, []byte("salt"), []byte("v1"), 3)
	require.NoError(t, err)
	assert.Equal(t, MutableTarget(pk, []byte("salt")), it.ID)
	assert.Equal(t, types.HashID(pk, []byte("salt")), it.ID)

	wire, err := NewMutableFromWire(pk, []byte("salt"), []byte("v1"), 3, it.Sig())
	require.NoError(t, err)
	assert.Equal(t, it.ID, wire.ID)

	// 任一字段被篡改都会导致签名无效
	_, err = NewMutableFromWire(pk, []byte("salt"), []byte("v2"), 3, it.Sig())
	assert.Equal(t, protocol.CodeInvalidSignature, protocol.CodeOf(err))
	_, err = NewMutableFromWire(pk, []byte("salt"), []byte("v1"), 4, it.Sig())
	assert.Equal(t, protocol.CodeInvalidSignature, protocol.CodeOf(err))
	_, err = NewMutableFromWire(pk[:10], nil, []byte("v1"), 3, it.Sig())
	assert.Equal(t, protocol.CodeInvalidSignature, protocol.CodeOf(err))
}

func TestLimits(t *testing.T) {
	priv := testKey(t)

	_, err := NewImmutable(make([]byte, MaxValueSize+1))
	assert.Equal(t, protocol.CodeMessageTooBig, protocol.CodeOf(err))

	_, err = NewMutable(priv, []byte(strings.Repeat("s", MaxSaltSize+1)), []byte("v"), 1)
	assert.Equal(t, protocol.CodeSaltTooBig, protocol.CodeOf(err))

	_, err = NewMutable(priv, nil, make([]byte, MaxValueSize), 1)
	assert.NoError(t, err)
}

// ============================================================================
//                              CAS
// ============================================================================

// TestStore_MutableCAS 可变条目的 CAS 规则
func TestStore_MutableCAS(t *testing.T) {
	priv := testKey(t)
	s := NewStore()

	first, err := NewMutable(priv, nil, []byte("a"), 1)
	require.NoError(t, err)
	stored, err := s.Put(first, nil)
	require.NoError(t, err)
	assert.Same(t, first, stored)

	// 相同 seq 相同值：幂等
	same, _ := NewMutable(priv, nil, []byte("a"), 1)
	_, err = s.Put(same, nil)
	assert.NoError(t, err)

	// 相同 seq 不同值：201
	conflict, _ := NewMutable(priv, nil, []byte("b"), 1)
	_, err = s.Put(conflict, nil)
	assert.Equal(t, protocol.CodeGeneric, protocol.CodeOf(err))

	// cas 不一致：301
	next, _ := NewMutable(priv, nil, []byte("c"), 2)
	_, err = s.Put(next, i64(5))
	assert.Equal(t, protocol.CodeCASMismatch, protocol.CodeOf(err))

	// cas 一致，seq 增大
	stored, err = s.Put(next, i64(1))
	require.NoError(t, err)
	assert.Same(t, first, stored)
	assert.Equal(t, int64(2), stored.Seq())
	assert.Equal(t, []byte("c"), stored.Value())

	// seq 回退：302
	old, _ := NewMutable(priv, nil, []byte("d"), 1)
	_, err = s.Put(old, nil)
	assert.Equal(t, protocol.CodeSeqTooLow, protocol.CodeOf(err))

	assert.Equal(t, 1, s.Len())
	t.Log("✅ CAS 规则正确")
}

func TestItem_CheckOrder(t *testing.T) {
	priv := testKey(t)
	it, err := NewMutable(priv, nil, []byte("a"), 5)
	require.NoError(t, err)

	// cas 优先于 seq 检查
	assert.Equal(t, protocol.CodeCASMismatch, protocol.CodeOf(it.CheckUpdate(1, []byte("x"), i64(4))))
	assert.Equal(t, protocol.CodeSeqTooLow, protocol.CodeOf(it.CheckUpdate(1, []byte("x"), i64(5))))
	assert.Equal(t, protocol.CodeGeneric, protocol.CodeOf(it.CheckUpdate(5, []byte("x"), nil)))
	assert.NoError(t, it.CheckUpdate(5, []byte("a"), nil))
	assert.NoError(t, it.CheckUpdate(6, []byte("x"), i64(5)))
}

func TestItem_SignAndOnUpdate(t *testing.T) {
	priv := testKey(t)
	it, err := NewMutable(priv, []byte("s"), []byte("a"), 1)
	require.NoError(t, err)

	var updates int
	it.OnUpdate(func(*Item) { updates++ })

	require.NoError(t, it.Sign(priv, []byte("b"), 2))
	assert.Equal(t, 1, updates)

	v := it.View()
	_, err = NewMutableFromWire(v.PublicKey, v.Salt, v.Value, v.Seq, v.Sig)
	assert.NoError(t, err, "重新签名后可通过校验")

	assert.ErrorIs(t, it.Sign(testKey(t), []byte("c"), 3), ErrKeyMismatch)

	imm, _ := NewImmutable([]byte("x"))
	assert.ErrorIs(t, imm.Sign(priv, []byte("y"), 1), ErrImmutable)
}

// TestStore_ImmutableRoundTrip 不可变条目存取
func TestStore_ImmutableRoundTrip(t *testing.T) {
	s := NewStore()
	it, err := NewImmutable([]byte("payload"))
	require.NoError(t, err)
	_, err = s.Put(it, nil)
	require.NoError(t, err)

	got := s.Get(ImmutableTarget([]byte("payload")))
	require.NotNil(t, got)
	assert.Equal(t, []byte("payload"), got.Value())

	// 重复写入不可变条目不报错
	dup, _ := NewImmutable([]byte("payload"))
	_, err = s.Put(dup, nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	assert.True(t, s.Delete(it.ID))
	assert.Nil(t, s.Get(it.ID))
}

// ============================================================================
//                              过期
// ============================================================================

func TestStore_Expire(t *testing.T) {
	mock := clock.NewMock()
	s := NewStore(WithClock(mock))

	idle, _ := NewImmutable([]byte("idle"))
	held, _ := NewImmutable([]byte("held"))
	_, err := s.Put(idle, nil)
	require.NoError(t, err)
	_, err = s.Put(held, nil)
	require.NoError(t, err)
	held.Hold()

	republish, dropped := s.Expire()
	assert.Empty(t, republish)
	assert.Equal(t, 0, dropped)

	// keepalive 到期：有引用的条目重新发布
	mock.Add(DefaultKeepalive)
	republish, dropped = s.Expire()
	require.Len(t, republish, 1)
	assert.Same(t, held, republish[0])
	assert.Equal(t, int32(2), held.Refs())
	republish[0].Release()
	assert.Equal(t, 0, dropped)

	// 过期：无引用的条目被删除，有引用的被保留
	mock.Add(DefaultExpiration - DefaultKeepalive)
	republish, dropped = s.Expire()
	assert.Equal(t, 1, dropped)
	assert.Nil(t, s.Get(idle.ID))
	assert.NotNil(t, s.Get(held.ID))
	for _, it := range republish {
		it.Release()
	}

	// 释放后在过期时间到达时删除
	held.Release()
	mock.Add(DefaultExpiration)
	_, dropped = s.Expire()
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 0, s.Len())
}

// TestStore_PutKeepsItemRemovedDuringUpdate 更新期间条目被清理时，Put 把条目放回存储
func TestStore_PutKeepsItemRemovedDuringUpdate(t *testing.T) {
	s := NewStore()
	priv := testKey(t)
	cur, err := NewMutable(priv, nil, []byte("v1"), 1)
	require.NoError(t, err)
	_, err = s.Put(cur, nil)
	require.NoError(t, err)

	// 在 Update 与 Put 重新加锁之间删除条目，等价于并发的 Expire
	cur.OnUpdate(func(it *Item) { s.Delete(it.ID) })

	next, err := NewMutable(priv, nil, []byte("v2"), 2)
	require.NoError(t, err)
	stored, err := s.Put(next, nil)
	require.NoError(t, err)
	assert.Same(t, cur, stored)

	got := s.Get(cur.ID)
	require.NotNil(t, got, "成功的 Put 之后条目必须仍在存储中")
	assert.Equal(t, []byte("v2"), got.Value())
	assert.Equal(t, int64(2), got.Seq())
	t.Log("✅ 并发清理后条目被放回")
}

// ============================================================================
//                              持久化
// ============================================================================

func TestStore_Persistence(t *testing.T) {
	eng, err := badger.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	records := kv.New(eng, []byte("i/"))

	mock := clock.NewMock()
	mock.Add(time.Hour)
	s := NewStore(WithClock(mock), WithKV(records))

	priv := testKey(t)
	mut, err := NewMutable(priv, []byte("salt"), []byte("m1"), 7)
	require.NoError(t, err)
	imm, err := NewImmutable([]byte("i1"))
	require.NoError(t, err)
	_, err = s.Put(mut, nil)
	require.NoError(t, err)
	_, err = s.Put(imm, nil)
	require.NoError(t, err)

	next, _ := NewMutable(priv, []byte("salt"), []byte("m2"), 8)
	_, err = s.Put(next, nil)
	require.NoError(t, err)

	restored := NewStore(WithClock(mock), WithKV(records))
	n, err := restored.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got := restored.Get(mut.ID)
	require.NotNil(t, got)
	assert.Equal(t, []byte("m2"), got.Value())
	assert.Equal(t, int64(8), got.Seq())
	assert.Equal(t, []byte("salt"), got.Salt)
	assert.True(t, priv.Public().Equals(got.PublicKey))
	assert.Equal(t, []byte("i1"), restored.Get(imm.ID).Value())

	// 过期记录在加载时被清除
	mock.Add(DefaultExpiration)
	again := NewStore(WithClock(mock), WithKV(records))
	n, err = again.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	count := 0
	require.NoError(t, records.PrefixScan(nil, func(_, _ []byte) bool {
		count++
		return true
	}))
	assert.Equal(t, 0, count, "失效记录已从存储删除")
}

// TestStore_RePutRefreshesPersistedExpiration 重复写入相同的值会刷新持久化的过期时间
func TestStore_RePutRefreshesPersistedExpiration(t *testing.T) {
	eng, err := badger.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	records := kv.New(eng, []byte("i/"))

	mock := clock.NewMock()
	mock.Add(time.Hour)
	s := NewStore(WithClock(mock), WithKV(records))

	first, err := NewImmutable([]byte("live"))
	require.NoError(t, err)
	_, err = s.Put(first, nil)
	require.NoError(t, err)

	// 原过期时间之前再次写入相同的值
	mock.Add(DefaultExpiration - time.Minute)
	again, err := NewImmutable([]byte("live"))
	require.NoError(t, err)
	_, err = s.Put(again, nil)
	require.NoError(t, err)

	// 越过原过期时间，但仍在刷新后的有效期内
	mock.Add(time.Hour)
	restored := NewStore(WithClock(mock), WithKV(records))
	n, err := restored.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NotNil(t, restored.Get(first.ID))
	t.Log("✅ 重复写入刷新了持久化记录")
}
