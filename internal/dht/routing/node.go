package routing

import (
	"fmt"
	"net/netip"
	"sync/atomic"

	"github.com/dep2p/go-kdht/pkg/types"
)

// Node 路由表节点
//
// 节点通过引用计数管理生命周期：持有者（结果集、进行中的作业）
// 在 Release 之前可以安全读取节点，即使它已被并发地从路由表删除。
// 删除只撤销可见性，节点只有在引用归零后才会被回收复用。
type Node struct {
	ID   types.ID
	Addr netip.AddrPort
	Type types.NodeType

	refs    atomic.Int32
	deleted atomic.Bool
}

// NewNode 创建不属于任何路由表的节点，初始引用为 1
//
// 用于查找过程中发现但未被路由表接纳的节点。
func NewNode(id types.ID, addr netip.AddrPort, typ types.NodeType) *Node {
	n := &Node{ID: id, Addr: addr, Type: typ}
	n.refs.Store(1)
	return n
}

// Family 节点地址族
func (n *Node) Family() types.Family {
	return types.FamilyOf(n.Addr)
}

// Acquire 增加一个引用并返回自身
func (n *Node) Acquire() *Node {
	n.refs.Add(1)
	return n
}

// Release 释放一个引用
func (n *Node) Release() {
	if n.refs.Add(-1) < 0 {
		panic("routing: node released more times than acquired")
	}
}

// Refs 当前引用数
func (n *Node) Refs() int32 {
	return n.refs.Load()
}

// Deleted 节点是否已从路由表删除
func (n *Node) Deleted() bool {
	return n.deleted.Load()
}

// String 日志用表示
func (n *Node) String() string {
	return fmt.Sprintf("%s@%s", n.ID.ShortString(), n.Addr)
}

// ReleaseAll 释放切片中的所有节点
func ReleaseAll(nodes []*Node) {
	for _, n := range nodes {
		n.Release()
	}
}
