// Package kv 提供带前缀隔离的 KV 存储抽象层
//
// # 键空间设计
//
//   - d/rt/<family> - 路由表快照（n4 / n6）
//   - d/i/<id>      - 本地存储项
//
// # 使用示例
//
//	dht := kv.New(eng, []byte("d/"))
//	dht.Put([]byte("rt/n4"), blob) // 实际键: d/rt/n4
package kv

import (
	"github.com/dep2p/go-kdht/internal/core/storage/engine"
)

// Store 带前缀隔离的 KV 存储
type Store struct {
	engine engine.Engine
	prefix []byte
}

// New 创建新的 KVStore
func New(eng engine.Engine, prefix []byte) *Store {
	return &Store{
		engine: eng,
		prefix: append([]byte(nil), prefix...),
	}
}

func (s *Store) prefixKey(key []byte) []byte {
	prefixed := make([]byte, len(s.prefix)+len(key))
	copy(prefixed, s.prefix)
	copy(prefixed[len(s.prefix):], key)
	return prefixed
}

func (s *Store) stripPrefix(key []byte) []byte {
	if len(key) < len(s.prefix) {
		return key
	}
	return key[len(s.prefix):]
}

// ============================================================================
//                              基础操作
// ============================================================================

// Get 获取指定键的值
func (s *Store) Get(key []byte) ([]byte, error) {
	return s.engine.Get(s.prefixKey(key))
}

// Put 设置键值对
func (s *Store) Put(key, value []byte) error {
	return s.engine.Put(s.prefixKey(key), value)
}

// Delete 删除指定键
func (s *Store) Delete(key []byte) error {
	return s.engine.Delete(s.prefixKey(key))
}

// ============================================================================
//                              前缀迭代
// ============================================================================

// PrefixScan 扫描指定子前缀的所有键值对
//
// 回调返回 false 时停止。返回的 key 已去除 Store 前缀，保留 subPrefix。
func (s *Store) PrefixScan(subPrefix []byte, fn func(key, value []byte) bool) error {
	it := s.engine.NewPrefixIterator(s.prefixKey(subPrefix))
	defer it.Close()

	for it.First(); it.Valid(); it.Next() {
		if !fn(s.stripPrefix(it.Key()), it.Value()) {
			break
		}
	}
	return it.Error()
}

// ============================================================================
//                              批量操作
// ============================================================================

// Batch 带前缀的批量操作
type Batch struct {
	store *Store
	batch engine.Batch
}

// NewBatch 创建新的批量操作
func (s *Store) NewBatch() *Batch {
	return &Batch{store: s, batch: s.engine.NewBatch()}
}

// Put 添加写入操作
func (b *Batch) Put(key, value []byte) {
	b.batch.Put(b.store.prefixKey(key), value)
}

// Delete 添加删除操作
func (b *Batch) Delete(key []byte) {
	b.batch.Delete(b.store.prefixKey(key))
}

// Size 返回已累积的操作数
func (b *Batch) Size() int {
	return b.batch.Size()
}

// Write 提交批量操作
func (b *Batch) Write() error {
	return b.batch.Write()
}

// ============================================================================
//                              辅助方法
// ============================================================================

// Prefix 返回当前前缀
func (s *Store) Prefix() []byte {
	return s.prefix
}

// SubStore 在当前前缀基础上创建子存储
func (s *Store) SubStore(subPrefix []byte) *Store {
	return New(s.engine, s.prefixKey(subPrefix))
}
