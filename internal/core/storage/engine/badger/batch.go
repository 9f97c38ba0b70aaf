package badger

import (
	"sync/atomic"

	"github.com/dep2p/go-kdht/internal/core/storage/engine"
	"github.com/dgraph-io/badger/v4"
)

// WriteBatch BadgerDB 批量写入
//
// 提交后不可复用，需要重新 NewBatch。
type WriteBatch struct {
	db     *Engine
	batch  *badger.WriteBatch
	count  atomic.Int32
	closed atomic.Bool
	err    error
}

// Put 添加写入操作
func (b *WriteBatch) Put(key, value []byte) {
	if b.closed.Load() || len(key) == 0 {
		return
	}
	if err := b.batch.Set(key, value); err != nil && b.err == nil {
		b.err = err
	}
	b.count.Add(1)
}

// Delete 添加删除操作
func (b *WriteBatch) Delete(key []byte) {
	if b.closed.Load() || len(key) == 0 {
		return
	}
	if err := b.batch.Delete(key); err != nil && b.err == nil {
		b.err = err
	}
	b.count.Add(1)
}

// Write 提交批量写入
func (b *WriteBatch) Write() error {
	if b.closed.Swap(true) {
		return engine.ErrBatchClosed
	}
	if b.db.closed.Load() {
		b.batch.Cancel()
		return engine.ErrClosed
	}
	if b.err != nil {
		b.batch.Cancel()
		return convertError(b.err)
	}
	if err := b.batch.Flush(); err != nil {
		return convertError(err)
	}
	b.db.numWrites.Add(int64(b.count.Load()))
	return nil
}

// Size 返回批量中的操作数量
func (b *WriteBatch) Size() int {
	return int(b.count.Load())
}

var _ engine.Batch = (*WriteBatch)(nil)
