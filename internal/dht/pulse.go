package dht

import (
	"context"
	"errors"
	"math/rand"
	"net/netip"
	"time"

	"go.uber.org/multierr"

	"github.com/dep2p/go-kdht/pkg/types"
)

const (
	// maxReadsPerPulse 单次脉冲每个端点最多读取的数据报数
	maxReadsPerPulse = 256

	// minPollShare 每个端点的最短读等待，截止时间已过时仍能取走已到达的数据报
	minPollShare = time.Millisecond
)

// Pulse 执行一次维护脉冲，阻塞时间不超过 timeout
//
// 顺序：轮询端点、发送出站队列、清理事务、轮换 token、处理存储项、
// 推进作业、维护路由表、回收节点。
func (d *DHT) Pulse(ctx context.Context, timeout time.Duration) error {
	if d.closed.Load() {
		return ErrClosed
	}
	d.pulseMu.Lock()
	defer d.pulseMu.Unlock()

	start := time.Now()
	deadline := start.Add(timeout)
	pollCtx, cancel := context.WithDeadline(ctx, start.Add(timeout/2))
	defer cancel()

	d.poll(pollCtx)
	d.drainOutbound(deadline)

	now := d.clock.Now()
	d.expireTransactions(now)
	if d.tokens.Rotate(now) {
		logger.Debug("token 密钥已轮换")
	}
	d.expireItems()
	d.processJobs()
	d.processTables(now)
	d.drainTables()
	return ctx.Err()
}

// Run 以 interval 为间隔循环执行 Pulse，直到 ctx 取消或 DHT 关闭
//
// interval 为 0 时使用配置的 PulseInterval。
func (d *DHT) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = d.cfg.PulseInterval
	}
	ticker := d.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		if err := d.Pulse(ctx, d.cfg.PollTimeout); err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("脉冲失败", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ============================================================================
//                              轮询
// ============================================================================

// poll 读取各端点的数据报并交给工作者
//
// 剩余时间在尚未轮询的端点之间平分，每个端点都有自己的读截止时间。
func (d *DHT) poll(ctx context.Context) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(d.cfg.PollTimeout)
	}
	eps := d.endpointList()
	for i, ep := range eps {
		epDeadline := time.Now().Add(pollShare(time.Until(deadline), len(eps)-i))
		if !d.pollEndpoint(ctx, ep, epDeadline) {
			return
		}
	}
}

// pollShare 剩余时间在 n 个端点间的份额，不小于 minPollShare
func pollShare(remaining time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	share := remaining / time.Duration(n)
	if share < minPollShare {
		share = minPollShare
	}
	return share
}

// pollEndpoint 读取单个端点直到截止时间，返回 false 表示本次轮询应结束
func (d *DHT) pollEndpoint(ctx context.Context, ep *endpoint, deadline time.Time) bool {
	for i := 0; i < maxReadsPerPulse; i++ {
		if err := ep.conn.SetReadDeadline(deadline); err != nil {
			if !d.closed.Load() {
				logger.Debug("设置读截止时间失败", "addr", ep.addr.String(), "err", err)
			}
			return true
		}
		n, from, err := ep.conn.ReadFrom(ep.buf)
		if err != nil {
			if !isTimeout(err) && !d.closed.Load() {
				logger.Debug("读取端点失败", "addr", ep.addr.String(), "err", err)
			}
			return true
		}
		remote, err := addrPortOf(from)
		if err != nil {
			continue
		}
		data := append([]byte(nil), ep.buf[:n]...)
		if !d.dispatch(ctx, ep, remote, data) {
			return false
		}
	}
	return true
}

// dispatch 在工作者中处理数据报，工作者耗尽且 ctx 到期时丢弃并返回 false
func (d *DHT) dispatch(ctx context.Context, via *endpoint, from netip.AddrPort, data []byte) bool {
	if !d.workers.TryAcquire(1) {
		if err := d.workers.Acquire(ctx, 1); err != nil {
			d.metrics.Dropped("busy")
			return false
		}
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.workers.Release(1)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("处理数据报 panic", "from", from.String(), "panic", r)
			}
		}()
		d.handleDatagram(via, from, data)
	}()
	return true
}

// ============================================================================
//                              维护
// ============================================================================

// expireItems 清理存储项并分发需要重新发布的条目
func (d *DHT) expireItems() {
	republish, _ := d.items.Expire()
	d.metrics.SetItems(d.items.Len())
	for _, it := range republish {
		if err := d.Distribute(it, func(res DistributeResult) {
			it.Release()
			if res.Err != nil {
				logger.Debug("重新发布部分失败", "id", it.ID.ShortString(),
					"published", res.Published, "errors", len(multierr.Errors(res.Err)))
			}
		}); err != nil {
			it.Release()
		}
	}
}

// processTables 维护路由表并定期查找本地 ID 附近的节点
func (d *DHT) processTables(now time.Time) {
	tables := d.Tables()
	for _, t := range tables {
		t.ProcessTable()
		d.metrics.SetTableNodes(t.Family().String(), t.Size())
	}

	if now.Sub(d.lastNeighbourhood) < d.cfg.NeighbourhoodInterval {
		return
	}
	d.lastNeighbourhood = now
	target := neighbourOf(d.localID)
	for _, t := range tables {
		if _, err := d.Search(target, t.Family(), nil); err != nil {
			logger.Debug("邻域查找失败", "family", t.Family(), "err", err)
		}
	}
}

// neighbourOf 返回与 id 共享前 128 位的随机 ID
func neighbourOf(id types.ID) types.ID {
	out := id
	for i := types.IDSize - 4; i < types.IDSize; i++ {
		out[i] = byte(rand.Intn(256))
	}
	return out
}

// drainTables 回收已删除且无人持有的节点
func (d *DHT) drainTables() {
	for _, t := range d.Tables() {
		t.Drain()
	}
}

// ============================================================================
//                              关闭
// ============================================================================

// Close 关闭 DHT
//
// 关闭端点、等待工作者、以 Expired 结束剩余作业，并在启用持久化时保存快照。
func (d *DHT) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.cancel()

	err := d.closeEndpoints()

	d.pulseMu.Lock()
	d.wg.Wait()
	d.pending = nil
	for len(d.outbound) > 0 {
		<-d.outbound
	}
	d.pulseMu.Unlock()

	d.txMu.Lock()
	d.transactions = make(map[uint32]*transaction)
	d.txMu.Unlock()

	d.jobsMu.Lock()
	jobs := d.jobs
	d.jobs = nil
	d.jobsMu.Unlock()
	for _, j := range jobs {
		j.complete(ResultExpired, ErrExpired)
		j.finish()
	}

	if d.cfg.Persist {
		err = multierr.Append(err, d.SaveSnapshot())
	}
	for _, t := range d.Tables() {
		t.Drain()
	}
	logger.Info("DHT 已关闭", "localID", d.localID.ShortString())
	return err
}
