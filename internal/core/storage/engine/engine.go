package engine

// Engine 键值存储引擎
type Engine interface {
	// Get 获取指定键的值，键不存在时返回 ErrNotFound
	Get(key []byte) ([]byte, error)

	// Put 设置键值对，已存在则覆盖
	Put(key, value []byte) error

	// Delete 删除指定键
	Delete(key []byte) error

	// NewBatch 创建批量写入对象
	NewBatch() Batch

	// NewPrefixIterator 创建前缀迭代器，调用者负责 Close
	NewPrefixIterator(prefix []byte) Iterator

	// Start 启动后台任务（如 GC）
	Start() error

	// Sync 同步数据到磁盘
	Sync() error

	// Close 关闭引擎
	Close() error
}

// Batch 批量写入
type Batch interface {
	// Put 添加写入操作
	Put(key, value []byte)

	// Delete 添加删除操作
	Delete(key []byte)

	// Write 原子提交所有操作
	Write() error

	// Size 返回操作数量
	Size() int
}

// Iterator 键值迭代器
//
// 使用方式：
//
//	it := eng.NewPrefixIterator(prefix)
//	defer it.Close()
//	for it.First(); it.Valid(); it.Next() {
//	    _ = it.Key()
//	}
type Iterator interface {
	First() bool
	Next() bool
	Valid() bool

	// Key 返回当前键的副本
	Key() []byte

	// Value 返回当前值的副本
	Value() []byte

	// Error 返回迭代过程中的错误
	Error() error

	Close()
}
