package kv

import (
	"testing"

	"github.com/dep2p/go-kdht/internal/core/storage/engine"
	"github.com/dep2p/go-kdht/internal/core/storage/engine/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, prefix string) (*Store, engine.Engine) {
	t.Helper()
	eng, err := badger.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return New(eng, []byte(prefix)), eng
}

// TestStore_PrefixIsolation 测试前缀隔离
func TestStore_PrefixIsolation(t *testing.T) {
	s, eng := testStore(t, "d/")
	other := New(eng, []byte("x/"))

	require.NoError(t, s.Put([]byte("rt/n4"), []byte("a")))
	require.NoError(t, other.Put([]byte("rt/n4"), []byte("b")))

	raw, err := eng.Get([]byte("d/rt/n4"))
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), raw)

	v, err := other.Get([]byte("rt/n4"))
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), v)

	_, err = s.Get([]byte("rt/n6"))
	assert.True(t, engine.IsNotFound(err))

	require.NoError(t, s.Delete([]byte("rt/n4")))
	_, err = s.Get([]byte("rt/n4"))
	assert.True(t, engine.IsNotFound(err))
}

func countKeys(t *testing.T, s *Store, sub string) int {
	t.Helper()
	n := 0
	require.NoError(t, s.PrefixScan([]byte(sub), func(_, _ []byte) bool {
		n++
		return true
	}))
	return n
}

// TestStore_SubStoreBatch 测试子存储上的批量写入与删除
func TestStore_SubStoreBatch(t *testing.T) {
	s, _ := testStore(t, "d/")
	items := s.SubStore([]byte("i/"))
	assert.Equal(t, []byte("d/i/"), items.Prefix())

	b := items.NewBatch()
	b.Put([]byte("1"), []byte("one"))
	b.Put([]byte("2"), []byte("two"))
	assert.Equal(t, 2, b.Size())
	require.NoError(t, b.Write())
	require.NoError(t, s.Put([]byte("rt/n4"), []byte("rt")))

	assert.Equal(t, 2, countKeys(t, s, "i/"))

	var keys []string
	require.NoError(t, items.PrefixScan(nil, func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	}))
	assert.Equal(t, []string{"1", "2"}, keys)

	del := items.NewBatch()
	del.Delete([]byte("1"))
	del.Delete([]byte("2"))
	require.NoError(t, del.Write())

	assert.Zero(t, countKeys(t, items, ""))
	assert.Equal(t, 1, countKeys(t, s, ""))

	t.Log("✅ 子存储批量删除不影响其它键")
}
