package routing

import (
	"sort"

	"github.com/dep2p/go-kdht/pkg/types"
)

// Query 最近节点查询
type Query struct {
	// Target 目标 ID
	Target types.ID

	// Max 最多返回的节点数
	Max int

	// Families 地址族过滤，0 表示不过滤
	Families types.FamilyMask

	// Types 节点类型过滤，0 表示仅远端节点
	Types types.NodeType
}

// FindClosestNodes 返回距离目标最近的活跃节点，按距离升序
//
// 先取目标所在叶子，再依次取路径上每一层祖先的兄弟子树。
// 每一组与目标的距离严格大于前一组，凑满 Max 后即可停止。
// 每个桶单独加锁、复制、解锁，路由树形状由 t.mu 读锁固定。
// 返回的节点均已 Acquire，调用方负责 ReleaseAll。
func (t *Table) FindClosestNodes(q Query) []*Node {
	if q.Max <= 0 {
		return nil
	}
	if q.Families != 0 && !q.Families.Has(t.family) {
		return nil
	}
	want := q.Types
	if want == 0 {
		want = types.NodeRemote
	}

	var out []*Node
	if want.Has(types.NodeRemote) {
		out = t.closestRemote(q.Target, q.Max)
	}

	if want.Has(types.NodeLocal) {
		t.localsMu.Lock()
		if len(t.locals) > 0 {
			local := []*Node{t.locals[0].Acquire()}
			t.localsMu.Unlock()
			out = mergeSorted(out, local, q.Target, q.Max)
		} else {
			t.localsMu.Unlock()
		}
	}
	return out
}

func (t *Table) closestRemote(target types.ID, max int) []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h := t.leafFor(types.Xor(target, t.localID))
	out := t.mergeGroup(nil, []*header{h}, target, max)

	for a := h; a.parent >= 0 && len(out) < max; a = t.headers[a.parent] {
		var group []*header
		t.walkLeaves(t.sibling(a), func(leaf *header) {
			group = append(group, leaf)
		})
		out = t.mergeGroup(out, group, target, max)
	}
	return out
}

// sibling 返回 h 的兄弟节点，调用方持有 t.mu
func (t *Table) sibling(h *header) *header {
	p := t.headers[h.parent]
	if h.isLeft {
		return t.headers[p.right]
	}
	return t.headers[p.left]
}

// mergeGroup 把一组叶子中的活跃节点并入结果
func (t *Table) mergeGroup(out []*Node, leaves []*header, target types.ID, max int) []*Node {
	var cands []*Node
	for _, leaf := range leaves {
		b := leaf.bucket
		b.mu.RLock()
		for _, e := range b.entries {
			if e.status == StatusActive {
				cands = append(cands, e.node.Acquire())
			}
		}
		b.mu.RUnlock()
	}
	if len(cands) == 0 {
		return out
	}
	SortByDistance(cands, target)
	return mergeSorted(out, cands, target, max)
}

// SortByDistance 按到 target 的距离升序排序
func SortByDistance(nodes []*Node, target types.ID) {
	sort.Slice(nodes, func(i, j int) bool {
		return types.CompareDistance(nodes[i].ID, nodes[j].ID, target) < 0
	})
}

// mergeSorted 合并两个有序列表，截断到 max，被截掉的节点会被 Release
func mergeSorted(a, b []*Node, target types.ID, max int) []*Node {
	out := make([]*Node, 0, min(len(a)+len(b), max))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var next *Node
		if j >= len(b) || (i < len(a) && types.CompareDistance(a[i].ID, b[j].ID, target) <= 0) {
			next = a[i]
			i++
		} else {
			next = b[j]
			j++
		}
		if len(out) < max {
			out = append(out, next)
		} else {
			next.Release()
		}
	}
	return out
}
