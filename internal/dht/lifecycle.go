package dht

import (
	"context"
	"errors"
	"net/netip"
	"sync"

	"golang.org/x/sync/errgroup"
)

// runState Start 启动的脉冲循环
type runState struct {
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Start 绑定配置的地址、恢复快照并启动脉冲循环
//
// 已通过 Bind/BindConn 绑定端点时不再绑定 ListenAddrs。
func (d *DHT) Start(_ context.Context) error {
	if d.closed.Load() {
		return ErrClosed
	}
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.run != nil {
		return nil
	}

	if len(d.Addrs()) == 0 {
		for _, addr := range d.cfg.ListenAddrs {
			if _, err := d.Bind(addr); err != nil {
				_ = d.closeEndpoints()
				return err
			}
		}
	}
	if d.cfg.Persist {
		if n, err := d.LoadSnapshot(); err != nil {
			logger.Warn("恢复快照失败", "err", err)
		} else if n > 0 {
			logger.Info("已恢复路由节点", "nodes", n)
		}
	}

	ctx, cancel := context.WithCancel(d.ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.Run(gctx, 0)
	})
	d.run = &runState{cancel: cancel, group: g}

	logger.Info("DHT 已启动", "localID", d.localID.ShortString(), "addrs", len(d.Addrs()))
	return nil
}

// Stop 停止脉冲循环并关闭 DHT
func (d *DHT) Stop(_ context.Context) error {
	d.runMu.Lock()
	run := d.run
	d.run = nil
	d.runMu.Unlock()

	if run != nil {
		run.cancel()
		if err := run.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("脉冲循环异常退出", "err", err)
		}
	}
	return d.Close()
}

// BootstrapCallback 引导完成回调，responded 为应答的种子数
type BootstrapCallback func(responded int)

// Bootstrap ping 种子地址，全部结束后查找本地 ID
//
// 应答的种子在处理应答时进入路由表，随后的查找以它们为起点。
func (d *DHT) Bootstrap(seeds []netip.AddrPort, cb BootstrapCallback) error {
	if len(seeds) == 0 {
		return ErrNoNodes
	}

	var (
		mu        sync.Mutex
		pending   = len(seeds)
		responded int
	)
	onPing := func(j *Job) {
		mu.Lock()
		pending--
		if j.Result() == ResultSuccess {
			responded++
		}
		left, ok := pending, responded
		mu.Unlock()
		if left > 0 {
			return
		}

		tables := d.Tables()
		if len(tables) == 0 {
			if cb != nil {
				cb(ok)
			}
			return
		}
		var wg sync.WaitGroup
		wg.Add(len(tables))
		for _, t := range tables {
			if _, err := d.Search(d.localID, t.Family(), func(*Search) { wg.Done() }); err != nil {
				wg.Done()
			}
		}
		go func() {
			wg.Wait()
			logger.Info("引导完成", "seeds", len(seeds), "responded", ok)
			if cb != nil {
				cb(ok)
			}
		}()
	}
	for _, addr := range seeds {
		d.Ping(addr, onPing)
	}
	return nil
}
