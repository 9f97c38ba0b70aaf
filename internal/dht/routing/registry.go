package routing

import (
	"net/netip"
	"sync"

	"github.com/dep2p/go-kdht/pkg/types"
)

// registry 节点分配与延迟回收
//
// 被删除的节点先进入 deleted 队列，只有引用归零后才移入 free 池供复用。
// 队列长度超过 lowWater 时才扫描，避免每次删除都遍历。
type registry struct {
	mu       sync.Mutex
	deleted  []*Node
	free     []*Node
	lowWater int

	allocated int64
	reused    int64
	recycled  int64
}

func newRegistry(lowWater int) *registry {
	return &registry{lowWater: lowWater}
}

// alloc 分配节点，引用为 1（归路由表持有）
func (r *registry) alloc(id types.ID, addr netip.AddrPort, typ types.NodeType) *Node {
	r.mu.Lock()
	var n *Node
	if last := len(r.free) - 1; last >= 0 {
		n = r.free[last]
		r.free[last] = nil
		r.free = r.free[:last]
		r.reused++
	}
	r.allocated++
	r.mu.Unlock()

	if n == nil {
		return NewNode(id, addr, typ)
	}
	n.ID, n.Addr, n.Type = id, addr, typ
	n.deleted.Store(false)
	n.refs.Store(1)
	return n
}

// retire 标记节点已删除并排入回收队列
func (r *registry) retire(n *Node) {
	n.deleted.Store(true)
	r.mu.Lock()
	r.deleted = append(r.deleted, n)
	r.mu.Unlock()
}

// drain 回收引用归零的已删除节点，返回回收数量
//
// force 为 false 时仅在队列超过低水位时执行。
func (r *registry) drain(force bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !force && len(r.deleted) <= r.lowWater {
		return 0
	}

	kept := r.deleted[:0]
	n := 0
	for _, node := range r.deleted {
		if node.refs.Load() > 0 {
			kept = append(kept, node)
			continue
		}
		n++
		if len(r.free) < r.lowWater {
			r.free = append(r.free, node)
		}
	}
	for i := len(kept); i < len(r.deleted); i++ {
		r.deleted[i] = nil
	}
	r.deleted = kept
	r.recycled += int64(n)
	return n
}

// pending 等待回收的节点数
func (r *registry) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deleted)
}
