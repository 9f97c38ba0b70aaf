package kdht

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期常量
// ════════════════════════════════════════════════════════════════════════════

const (
	// initializeTimeout 初始化超时（Fx App Start）
	initializeTimeout = 30 * time.Second

	// shutdownTimeout Close 使用的停止超时
	shutdownTimeout = 10 * time.Second
)

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期管理
// ════════════════════════════════════════════════════════════════════════════

// Start 启动节点
//
// 启动 Fx App：绑定监听地址、恢复路由表快照（启用持久化时）、启动脉冲循环。
// 启动后需要调用 Bootstrap 加入网络，除非快照已恢复出足够的节点。
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if n.started {
		return ErrAlreadyStarted
	}

	n.state = StateStarting
	logger.Info("正在启动节点")

	initCtx, initCancel := context.WithTimeout(ctx, initializeTimeout)
	defer initCancel()

	if err := n.app.Start(initCtx); err != nil {
		n.state = StateStopped
		n.closed = true
		logger.Error("节点启动失败", "error", err)
		return fmt.Errorf("initialize failed: %w", err)
	}

	n.state = StateRunning
	n.started = true
	logger.Info("节点启动成功", "nodeID", n.dht.LocalID().ShortString(), "addrs", n.dht.Addrs())
	return nil
}

// Stop 停止节点
//
// 释放本节点持有的条目、保存快照（启用持久化时）并关闭端点。
// 引擎关闭后不可重新启动，Stop 之后的 Start 返回 ErrNodeClosed。
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if !n.started {
		return ErrNotStarted
	}
	return n.stopLocked(ctx)
}

func (n *Node) stopLocked(ctx context.Context) error {
	n.state = StateStopping
	logger.Info("正在停止节点")

	released := n.releaseOwned()

	var err error
	if stopErr := n.app.Stop(ctx); stopErr != nil {
		logger.Error("停止节点失败", "error", stopErr)
		err = multierr.Append(err, fmt.Errorf("stop fx app: %w", stopErr))
	}

	n.state = StateStopped
	n.started = false
	n.closed = true
	logger.Info("节点已停止", "released", released)
	return err
}

// Close 关闭节点并释放所有资源
//
// 可以重复调用；未启动的节点只标记为关闭。
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	if !n.started {
		n.state = StateStopped
		n.closed = true
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return n.stopLocked(ctx)
}

// releaseOwned 释放所有本节点持有的条目
func (n *Node) releaseOwned() int {
	n.ownedMu.Lock()
	defer n.ownedMu.Unlock()
	count := len(n.owned)
	for id, it := range n.owned {
		it.Release()
		delete(n.owned, id)
	}
	return count
}
