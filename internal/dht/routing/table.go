package routing

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-kdht/pkg/lib/log"
	"github.com/dep2p/go-kdht/pkg/types"
)

var logger = log.Logger("dht/routing")

// Hooks 路由表回调
//
// 回调在释放路由表锁之后调用，可以安全地回到路由表。
type Hooks struct {
	// Ping 探测节点；节点已 Acquire，回调负责 Release
	Ping func(n *Node)

	// Refresh 向目标 ID 发起 find_node
	Refresh func(target types.ID)

	// Split 桶分裂后调用，参数为新叶子深度
	Split func(depth int)
}

// Option 路由表选项
type Option func(*Table)

// WithConfig 设置路由表配置
func WithConfig(cfg Config) Option {
	return func(t *Table) { t.cfg = cfg }
}

// WithClock 设置时钟
func WithClock(clk clock.Clock) Option {
	return func(t *Table) { t.clock = clk }
}

// WithHooks 设置回调
func WithHooks(h Hooks) Option {
	return func(t *Table) { t.hooks = h }
}

// header 路由树节点
//
// 键为 id XOR localID，最左侧的叶子包含距离本地最近的区间。
// 掩码右填充：左孩子掩码为父掩码右移一位，右孩子沿用父掩码，
// 覆盖 (leftMask, mask]。只有左孩子（以及根）可以继续分裂。
type header struct {
	index      int
	parent     int
	left       int
	right      int
	isLeft     bool
	splittable bool
	depth      int
	lo         types.ID
	mask       types.ID
	bucket     *bucket
}

// Table 单一地址族的路由表
type Table struct {
	family  types.Family
	localID types.ID
	cfg     Config
	clock   clock.Clock
	hooks   Hooks

	// mu 读模式用于查找与插入，写模式仅用于分裂
	mu      sync.RWMutex
	headers []*header

	localsMu sync.Mutex
	locals   []*Node

	reg *registry

	procMu      sync.Mutex
	lastProcess time.Time
	outstanding atomic.Int32

	splits atomic.Int64
}

// NewTable 创建路由表
func NewTable(family types.Family, localID types.ID, opts ...Option) *Table {
	t := &Table{
		family:  family,
		localID: localID,
		cfg:     DefaultConfig(),
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.reg = newRegistry(t.cfg.RecycleLowWater)

	root := &header{
		index:      0,
		parent:     -1,
		left:       -1,
		right:      -1,
		isLeft:     true,
		splittable: true,
		mask:       types.MaxID,
		bucket:     newBucket(t.clock.Now()),
	}
	t.headers = []*header{root}
	return t
}

// Family 路由表地址族
func (t *Table) Family() types.Family { return t.family }

// LocalID 本地节点 ID
func (t *Table) LocalID() types.ID { return t.localID }

// SetHooks 替换回调，需在使用前调用
func (t *Table) SetHooks(h Hooks) { t.hooks = h }

// ============================================================================
//                              插入与刷新
// ============================================================================

// CreateOrTouchNode 插入节点或刷新已有节点
//
// 返回的节点已 Acquire，调用方负责 Release。
// 桶已满且不可分裂时返回 ErrBucketFull。
func (t *Table) CreateOrTouchNode(id types.ID, typ types.NodeType, addr netip.AddrPort, mode TouchMode) (*Node, error) {
	if !addr.IsValid() || addr.Port() == 0 {
		return nil, ErrInvalidAddr
	}
	addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
	if types.FamilyOf(addr) != t.family {
		return nil, ErrFamilyMismatch
	}

	if typ.Has(types.NodeLocal) {
		return t.createLocal(id, addr)
	}
	if id == t.localID {
		return nil, ErrSelf
	}

	n, created, err := t.upsert(id, addr, mode, t.clock.Now(), mode == TouchConfirmed)
	if err != nil {
		return nil, err
	}
	if created && mode == TouchProbe && t.hooks.Ping != nil {
		t.hooks.Ping(n.Acquire())
	}
	return n, nil
}

func (t *Table) createLocal(id types.ID, addr netip.AddrPort) (*Node, error) {
	if id != t.localID {
		return nil, ErrLocalID
	}
	t.localsMu.Lock()
	defer t.localsMu.Unlock()
	for _, n := range t.locals {
		if n.Addr == addr {
			return n.Acquire(), nil
		}
	}
	n := t.reg.alloc(id, addr, types.NodeLocal)
	t.locals = append(t.locals, n)
	return n.Acquire(), nil
}

// upsert 插入或刷新远端节点
//
// 顺序：已存在则刷新；有空位直接插入；替换最早的过期条目；
// 可分裂则分裂后重试；否则 ErrBucketFull。
func (t *Table) upsert(id types.ID, addr netip.AddrPort, mode TouchMode, seen time.Time, touched bool) (*Node, bool, error) {
	key := types.Xor(id, t.localID)
	for {
		t.mu.RLock()
		h := t.leafFor(key)
		b := h.bucket
		b.mu.Lock()

		if i := b.find(id); i >= 0 {
			e := b.entries[i]
			b.touch(e, seen, mode)
			n := e.node.Acquire()
			b.mu.Unlock()
			t.mu.RUnlock()
			return n, false, nil
		}

		var evicted *Node
		if len(b.entries) >= BucketSize {
			evicted = b.evictOldestExpired()
		}
		if len(b.entries) < BucketSize {
			n := t.reg.alloc(id, addr, types.NodeRemote)
			b.entries = append(b.entries, &entry{
				node:     n,
				lastSeen: seen,
				status:   StatusActive,
				touched:  touched,
			})
			n.Acquire()
			b.mu.Unlock()
			t.mu.RUnlock()

			if evicted != nil {
				logger.Debug("替换过期节点", "evicted", evicted.String(), "node", n.String())
				t.reg.retire(evicted)
				evicted.Release()
			}
			return n, true, nil
		}

		splittable := h.splittable && h.depth < types.IDBits
		idx := h.index
		b.mu.Unlock()
		t.mu.RUnlock()

		if !splittable {
			return nil, false, ErrBucketFull
		}
		t.split(idx)
	}
}

// leafFor 定位键所在的叶子，调用方持有 t.mu
func (t *Table) leafFor(key types.ID) *header {
	h := t.headers[0]
	for h.bucket == nil {
		l := t.headers[h.left]
		if types.LessOrEqual(key, l.mask) {
			h = l
		} else {
			h = t.headers[h.right]
		}
	}
	return h
}

// split 分裂叶子 idx
//
// 持有写锁期间没有任何桶锁被持有（所有桶访问都先持有读锁）。
func (t *Table) split(idx int) {
	t.mu.Lock()

	h := t.headers[idx]
	if h.bucket == nil || !h.splittable || h.depth >= types.IDBits || len(h.bucket.entries) < BucketSize {
		// 其他 goroutine 已经分裂或腾出空间
		t.mu.Unlock()
		return
	}

	now := t.clock.Now()
	leftMask := types.ShiftRight(h.mask)
	left := &header{
		index:      len(t.headers),
		parent:     idx,
		left:       -1,
		right:      -1,
		isLeft:     true,
		splittable: true,
		depth:      h.depth + 1,
		lo:         h.lo,
		mask:       leftMask,
		bucket:     newBucket(now),
	}
	right := &header{
		index:  len(t.headers) + 1,
		parent: idx,
		left:   -1,
		right:  -1,
		depth:  h.depth + 1,
		lo:     types.Increment(leftMask),
		mask:   h.mask,
		bucket: newBucket(now),
	}

	for _, e := range h.bucket.entries {
		dst := right.bucket
		if types.LessOrEqual(types.Xor(e.node.ID, t.localID), leftMask) {
			dst = left.bucket
		}
		dst.entries = append(dst.entries, e)
		if e.status == StatusExpired {
			dst.expired++
		}
	}

	t.headers = append(t.headers, left, right)
	h.bucket = nil
	h.splittable = false
	h.left, h.right = left.index, right.index
	depth := left.depth
	nl, nr := len(left.bucket.entries), len(right.bucket.entries)
	t.mu.Unlock()

	t.splits.Add(1)
	logger.Debug("桶分裂", "family", t.family.String(), "depth", depth, "left", nl, "right", nr)
	if t.hooks.Split != nil {
		t.hooks.Split(depth)
	}
}

// ============================================================================
//                              查询与删除
// ============================================================================

// FindNode 按 ID 查找未过期的远端节点
//
// 返回的节点已 Acquire，未找到返回 nil。
func (t *Table) FindNode(id types.ID) *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	b := t.leafFor(types.Xor(id, t.localID)).bucket
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i := b.find(id); i >= 0 && b.entries[i].status != StatusExpired {
		return b.entries[i].node.Acquire()
	}
	return nil
}

// DeleteNode 从路由表删除节点
//
// 删除后 FindNode 不再返回该节点；其他持有者在 Release 之前仍可读取它。
func (t *Table) DeleteNode(n *Node) error {
	if n.Type.Has(types.NodeLocal) {
		return t.deleteLocal(n)
	}

	t.mu.RLock()
	b := t.leafFor(types.Xor(n.ID, t.localID)).bucket
	b.mu.Lock()
	i := b.find(n.ID)
	if i < 0 || b.entries[i].node != n {
		b.mu.Unlock()
		t.mu.RUnlock()
		return ErrNodeNotFound
	}
	b.removeAt(i)
	if len(b.entries) == 0 {
		b.emptySince = t.clock.Now()
	}
	b.mu.Unlock()
	t.mu.RUnlock()

	t.reg.retire(n)
	n.Release()
	return nil
}

func (t *Table) deleteLocal(n *Node) error {
	t.localsMu.Lock()
	defer t.localsMu.Unlock()
	for i, l := range t.locals {
		if l == n {
			t.locals = append(t.locals[:i], t.locals[i+1:]...)
			t.reg.retire(n)
			n.Release()
			return nil
		}
	}
	return ErrNodeNotFound
}

// LocalNodes 返回本地节点，均已 Acquire
func (t *Table) LocalNodes() []*Node {
	t.localsMu.Lock()
	defer t.localsMu.Unlock()
	out := make([]*Node, 0, len(t.locals))
	for _, n := range t.locals {
		out = append(out, n.Acquire())
	}
	return out
}

// ============================================================================
//                              统计
// ============================================================================

// Stats 路由表统计
type Stats struct {
	Family  types.Family
	Nodes   int
	Active  int
	Dubious int
	Expired int
	Buckets int
	Splits  int64
	Locals  int
	Pending int
}

// Stats 返回统计信息
func (t *Table) Stats() Stats {
	s := Stats{Family: t.family, Splits: t.splits.Load(), Pending: t.reg.pending()}

	t.localsMu.Lock()
	s.Locals = len(t.locals)
	t.localsMu.Unlock()

	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, h := range t.headers {
		if h.bucket == nil {
			continue
		}
		s.Buckets++
		h.bucket.mu.RLock()
		for _, e := range h.bucket.entries {
			s.Nodes++
			switch e.status {
			case StatusActive:
				s.Active++
			case StatusDubious:
				s.Dubious++
			case StatusExpired:
				s.Expired++
			}
		}
		h.bucket.mu.RUnlock()
	}
	return s
}

// Size 远端节点数
func (t *Table) Size() int {
	return t.Stats().Nodes
}

// Buckets 返回所有叶子桶的描述，按深度排列
func (t *Table) Buckets() []BucketInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []BucketInfo
	t.walkLeaves(t.headers[0], func(h *header) {
		h.bucket.mu.RLock()
		out = append(out, BucketInfo{
			Lo:         h.lo,
			Mask:       h.mask,
			Depth:      h.depth,
			Splittable: h.splittable,
			Size:       len(h.bucket.entries),
			Expired:    h.bucket.expired,
		})
		h.bucket.mu.RUnlock()
	})
	return out
}

// Entries 返回所有条目的快照
func (t *Table) Entries() []EntryInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []EntryInfo
	t.walkLeaves(t.headers[0], func(h *header) {
		h.bucket.mu.RLock()
		for _, e := range h.bucket.entries {
			out = append(out, EntryInfo{
				ID:       e.node.ID,
				Addr:     e.node.Addr,
				Status:   e.status,
				LastSeen: e.lastSeen,
				Touched:  e.touched,
				Pings:    e.pings,
			})
		}
		h.bucket.mu.RUnlock()
	})
	return out
}

// Dump 以 Debug 级别输出路由树
func (t *Table) Dump() {
	for _, b := range t.Buckets() {
		logger.Debug("bucket",
			"family", t.family.String(),
			"depth", b.Depth,
			"mask", b.Mask.ShortString(),
			"size", b.Size,
			"expired", b.Expired,
			"splittable", b.Splittable)
	}
}

// walkLeaves 先右后左遍历叶子（浅层右叶子在前），调用方持有 t.mu
func (t *Table) walkLeaves(h *header, fn func(*header)) {
	if h.bucket != nil {
		fn(h)
		return
	}
	t.walkLeaves(t.headers[h.right], fn)
	t.walkLeaves(t.headers[h.left], fn)
}
