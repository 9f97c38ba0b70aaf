package kdht

import (
	"context"
	"fmt"
	"net/netip"
	"sync"

	"go.uber.org/fx"

	"github.com/dep2p/go-kdht/internal/dht"
	"github.com/dep2p/go-kdht/internal/dht/item"
	"github.com/dep2p/go-kdht/pkg/lib/log"
	"github.com/dep2p/go-kdht/pkg/types"
)

var logger = log.Logger("kdht")

// Node Kademlia DHT 节点
//
// Node 是用户与 DHT 交互的主入口。它是一个门面（Facade），持有 Fx 应用
// 以及由 Fx 注入的引擎，并把引擎的回调式 API 包装为阻塞、可取消的调用。
//
// 架构层次：
//   - API Layer: Node (本层，用户直接交互)
//   - Engine Layer: dht.DHT（作业、事务、查找、发布）
//   - Core Layer: routing（二叉字典树路由表）、protocol（bencode 报文）、item（BEP44 存储）
//   - Infra Layer: storage（BadgerDB 快照）、metrics（Prometheus）
//
// 使用示例：
//
//	node, err := kdht.New(
//	    kdht.WithPreset(kdht.PresetServer),
//	    kdht.WithDataDir("/var/lib/kdht"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	if err := node.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := node.Bootstrap(ctx, "router.example.org:6881"); err != nil {
//	    log.Fatal(err)
//	}
//
//	res, _ := node.PutImmutable(ctx, []byte("hello"))
//	v, _ := node.GetImmutable(ctx, res.ID)
type Node struct {
	// ────────────────────────────────────────────────────────────────────────
	// 配置和状态
	// ────────────────────────────────────────────────────────────────────────

	// config 节点配置
	config *nodeConfig

	// app Fx 应用
	app *fx.App

	// ────────────────────────────────────────────────────────────────────────
	// 核心组件（由 Fx 注入）
	// ────────────────────────────────────────────────────────────────────────

	// dht 引擎
	dht *dht.DHT

	// ────────────────────────────────────────────────────────────────────────
	// 内部状态
	// ────────────────────────────────────────────────────────────────────────

	mu      sync.RWMutex
	state   NodeState // 节点状态
	started bool
	closed  bool

	// owned 本节点发布并持续保活的条目
	ownedMu sync.Mutex
	owned   map[types.ID]*item.Item
}

// ════════════════════════════════════════════════════════════════════════════
//                              构造函数
// ════════════════════════════════════════════════════════════════════════════

// New 创建新节点
//
// 创建节点但不启动，需要调用 Start() 启动。
// 通过 Option 函数配置节点，选项按顺序作用于默认配置。
//
// 示例：
//
//	node, err := kdht.New(
//	    kdht.WithPreset(kdht.PresetClient),
//	    kdht.WithQueryTimeout(3*time.Second, 2),
//	)
func New(opts ...Option) (*Node, error) {
	cfg := newNodeConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	node := &Node{
		config: cfg,
		owned:  make(map[types.ID]*item.Item),
	}

	var err error
	node.app, err = buildFxApp(cfg, node)
	if err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	return node, nil
}

// Start 快捷启动函数
//
// 创建节点并立即启动，等价于 New() + Start()。
func Start(ctx context.Context, opts ...Option) (*Node, error) {
	node, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := node.Start(ctx); err != nil {
		_ = node.Close()
		return nil, fmt.Errorf("start node: %w", err)
	}
	return node, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              基本信息
// ════════════════════════════════════════════════════════════════════════════

// ID 返回本地节点 ID
func (n *Node) ID() ID {
	if n.dht == nil {
		return types.EmptyID
	}
	return n.dht.LocalID()
}

// Addrs 返回已绑定的 UDP 地址
//
// 节点未启动或已停止时为空。
func (n *Node) Addrs() []netip.AddrPort {
	if n.dht == nil {
		return nil
	}
	return n.dht.Addrs()
}

// State 返回节点当前状态
func (n *Node) State() NodeState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// IsRunning 检查节点是否正在运行
func (n *Node) IsRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state == StateRunning
}

// Stats 返回引擎统计
func (n *Node) Stats() Stats {
	if n.dht == nil {
		return Stats{}
	}
	return n.dht.Stats()
}

// DHT 返回底层引擎，用于注册自定义查询处理器等高级用法
func (n *Node) DHT() *dht.DHT {
	return n.dht
}

// ready 检查节点是否可以处理请求
func (n *Node) ready() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	switch {
	case n.closed:
		return ErrNodeClosed
	case !n.started:
		return ErrNotStarted
	default:
		return nil
	}
}
