package routing

import (
	"net/netip"
	"sync"
	"time"

	"github.com/dep2p/go-kdht/pkg/types"
)

// Status 条目状态
type Status uint8

const (
	// StatusActive 最近有活动
	StatusActive Status = iota
	// StatusDubious 已发出探测，等待应答
	StatusDubious
	// StatusExpired 多次探测未应答，可被新节点替换
	StatusExpired
)

// String 返回状态名
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusDubious:
		return "dubious"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// TouchMode 插入或刷新节点的方式
type TouchMode uint8

const (
	// TouchSeen 收到来自该节点的请求
	TouchSeen TouchMode = iota
	// TouchConfirmed 收到该节点对本地请求的应答
	TouchConfirmed
	// TouchProbe 间接得知的节点，新插入时发送探测
	TouchProbe
)

// entry 桶内条目
type entry struct {
	node     *Node
	lastSeen time.Time
	status   Status
	touched  bool
	pings    int
}

// bucket 叶子桶
type bucket struct {
	mu         sync.RWMutex
	entries    []*entry
	expired    int
	emptySince time.Time
}

func newBucket(now time.Time) *bucket {
	return &bucket{
		entries:    make([]*entry, 0, BucketSize),
		emptySince: now,
	}
}

// find 查找 ID 对应的条目下标，调用方持有锁
func (b *bucket) find(id types.ID) int {
	for i, e := range b.entries {
		if e.node.ID == id {
			return i
		}
	}
	return -1
}

// touch 刷新条目并清除过期状态与探测计数
func (b *bucket) touch(e *entry, now time.Time, mode TouchMode) {
	if now.After(e.lastSeen) {
		e.lastSeen = now
	}
	if e.status == StatusExpired {
		b.expired--
	}
	e.status = StatusActive
	e.pings = 0
	if mode == TouchConfirmed {
		e.touched = true
	}
}

// evictOldestExpired 移除 lastSeen 最早的过期条目并返回其节点
func (b *bucket) evictOldestExpired() *Node {
	if b.expired == 0 {
		return nil
	}
	victim := -1
	for i, e := range b.entries {
		if e.status != StatusExpired {
			continue
		}
		if victim < 0 || e.lastSeen.Before(b.entries[victim].lastSeen) {
			victim = i
		}
	}
	if victim < 0 {
		return nil
	}
	return b.removeAt(victim)
}

// removeAt 移除下标 i 的条目并返回其节点
func (b *bucket) removeAt(i int) *Node {
	e := b.entries[i]
	if e.status == StatusExpired {
		b.expired--
	}
	last := len(b.entries) - 1
	b.entries[i] = b.entries[last]
	b.entries[last] = nil
	b.entries = b.entries[:last]
	return e.node
}

// BucketInfo 桶的只读描述
type BucketInfo struct {
	Lo         types.ID
	Mask       types.ID
	Depth      int
	Splittable bool
	Size       int
	Expired    int
}

// EntryInfo 条目的只读描述
type EntryInfo struct {
	ID       types.ID
	Addr     netip.AddrPort
	Status   Status
	LastSeen time.Time
	Touched  bool
	Pings    int
}
