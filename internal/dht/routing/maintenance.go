package routing

import (
	"time"

	"github.com/dep2p/go-kdht/pkg/types"
)

// ProcessTable 路由表维护
//
// 按周期执行（有未应答探测时使用较短周期）：
//   - 超过 InactiveTime 未活动的条目标记为 dubious 并探测
//   - 探测达到 MaxPings 次仍未应答的条目标记为 expired
//   - 空置超过 ExpiredTime 的桶向其区间中点发起 find_node
//
// 正被其他 goroutine 持有的桶直接跳过，留到下一周期。
// 回调在释放所有锁之后调用。返回本次是否执行了维护。
func (t *Table) ProcessTable() bool {
	now := t.clock.Now()

	t.procMu.Lock()
	interval := t.cfg.RefreshInterval
	if t.outstanding.Load() > 0 {
		interval = t.cfg.ProbeInterval
	}
	if !t.lastProcess.IsZero() && now.Sub(t.lastProcess) < interval {
		t.procMu.Unlock()
		return false
	}
	t.lastProcess = now
	t.procMu.Unlock()

	var (
		pings   []*Node
		targets []types.ID
		expired int
	)

	t.mu.RLock()
	for _, h := range t.headers {
		b := h.bucket
		if b == nil || !b.mu.TryLock() {
			continue
		}
		if len(b.entries) == 0 {
			if now.Sub(b.emptySince) >= t.cfg.ExpiredTime {
				targets = append(targets, types.Xor(types.Midpoint(h.lo, h.mask), t.localID))
				b.emptySince = now
			}
			b.mu.Unlock()
			continue
		}
		for _, e := range b.entries {
			if e.status == StatusExpired {
				continue
			}
			if e.pings >= t.cfg.MaxPings {
				e.status = StatusExpired
				b.expired++
				expired++
				continue
			}
			if e.status == StatusDubious || now.Sub(e.lastSeen) >= t.cfg.InactiveTime {
				e.status = StatusDubious
				e.pings++
				pings = append(pings, e.node.Acquire())
			}
		}
		b.mu.Unlock()
	}
	t.mu.RUnlock()

	t.outstanding.Store(int32(len(pings)))

	if len(pings) > 0 || len(targets) > 0 || expired > 0 {
		logger.Debug("路由表维护",
			"family", t.family.String(),
			"pings", len(pings),
			"refresh", len(targets),
			"expired", expired)
	}

	for _, n := range pings {
		if t.hooks.Ping != nil {
			t.hooks.Ping(n)
		} else {
			n.Release()
		}
	}
	if t.hooks.Refresh != nil {
		for _, target := range targets {
			t.hooks.Refresh(target)
		}
	}

	t.reg.drain(false)
	return true
}

// Drain 强制回收引用归零的已删除节点，返回回收数量
func (t *Table) Drain() int {
	return t.reg.drain(true)
}

// Expire 将节点标记为过期（例如请求超时），节点仍保留在桶中直到被替换
func (t *Table) Expire(id types.ID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	b := t.leafFor(types.Xor(id, t.localID)).bucket
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.find(id)
	if i < 0 {
		return false
	}
	e := b.entries[i]
	if e.status != StatusExpired {
		e.status = StatusExpired
		b.expired++
	}
	return true
}

// LastProcess 上一次维护时间
func (t *Table) LastProcess() time.Time {
	t.procMu.Lock()
	defer t.procMu.Unlock()
	return t.lastProcess
}
