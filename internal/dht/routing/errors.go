package routing

import "errors"

// 路由表错误
var (
	// ErrBucketFull 桶已满且不可分裂，节点未被接纳（非致命）
	ErrBucketFull = errors.New("routing: bucket full")

	// ErrFamilyMismatch 地址族与路由表不一致
	ErrFamilyMismatch = errors.New("routing: address family mismatch")

	// ErrSelf 试图以远端身份插入本地 ID
	ErrSelf = errors.New("routing: refusing to insert local id as remote")

	// ErrLocalID 本地节点 ID 与路由表本地 ID 不一致
	ErrLocalID = errors.New("routing: local node id mismatch")

	// ErrInvalidAddr 地址无效
	ErrInvalidAddr = errors.New("routing: invalid address")

	// ErrNodeNotFound 节点不在路由表中
	ErrNodeNotFound = errors.New("routing: node not found")
)

// 快照错误
var (
	// ErrSnapshotHeader 快照头部无效
	ErrSnapshotHeader = errors.New("routing: invalid snapshot header")

	// ErrSnapshotVersion 快照版本不支持
	ErrSnapshotVersion = errors.New("routing: unsupported snapshot version")

	// ErrSnapshotCorrupt 快照条目损坏
	ErrSnapshotCorrupt = errors.New("routing: corrupt snapshot entry")
)
