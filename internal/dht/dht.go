// Package dht 实现 Kademlia DHT 引擎
//
// 引擎由单一的脉冲（Pulse）驱动：轮询端点、发送出站队列、
// 清理过期事务、轮换 token、处理存储项、推进作业、维护路由表。
// 入站报文交给受信号量约束的工作者并行处理。
//
// 所有多步协议（查找、发布、分发）都通过作业回调串联，
// 处理器从不阻塞等待应答。
package dht

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/dep2p/go-kdht/internal/core/metrics"
	"github.com/dep2p/go-kdht/internal/core/storage/kv"
	"github.com/dep2p/go-kdht/internal/dht/item"
	"github.com/dep2p/go-kdht/internal/dht/protocol"
	"github.com/dep2p/go-kdht/internal/dht/routing"
	"github.com/dep2p/go-kdht/pkg/lib/log"
	"github.com/dep2p/go-kdht/pkg/types"
)

var logger = log.Logger("dht")

// 持久化子前缀
var (
	itemPrefix     = []byte("i/")
	snapshotPrefix = []byte("rt/")
)

// Option DHT 构造选项
type Option func(*DHT)

// WithClock 设置时钟，测试中注入 clock.NewMock()
func WithClock(clk clock.Clock) Option {
	return func(d *DHT) { d.clock = clk }
}

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *DHT) { d.metrics = m }
}

// WithStore 启用持久化（路由表快照与存储项）
func WithStore(store *kv.Store) Option {
	return func(d *DHT) { d.kv = store }
}

// DHT 引擎
type DHT struct {
	cfg     *Config
	localID types.ID
	clock   clock.Clock
	metrics *metrics.Metrics
	kv      *kv.Store

	ctx    context.Context
	cancel context.CancelFunc

	tablesMu sync.RWMutex
	tables   map[types.Family]*routing.Table

	endpointsMu sync.RWMutex
	endpoints   []*endpoint

	txids        *protocol.TransactionIDs
	txMu         sync.Mutex
	transactions map[uint32]*transaction

	jobsMu sync.Mutex
	jobs   []*Job

	handlersMu sync.RWMutex
	handlers   map[string]QueryHandler

	// pulseMu 串行化 Pulse，pending 只在持有它时访问
	pulseMu  sync.Mutex
	outbound chan *outMessage
	pending  *outMessage

	tokens  *tokenSecrets
	items   *item.Store
	limiter *limiter

	workers *semaphore.Weighted
	wg      sync.WaitGroup

	searchesMu sync.Mutex
	searches   map[uuid.UUID]*Search

	lastNeighbourhood time.Time

	runMu sync.Mutex
	run   *runState

	closed atomic.Bool
}

// New 创建 DHT 引擎
//
// 创建后需要 Bind 至少一个地址，再周期性调用 Pulse（或 Run）。
func New(cfg *Config, opts ...Option) (*DHT, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, NewDHTError("new", ErrInvalidConfig, err.Error())
	}

	d := &DHT{
		cfg:          cfg,
		localID:      cfg.LocalID,
		clock:        clock.New(),
		tables:       make(map[types.Family]*routing.Table),
		txids:        protocol.NewTransactionIDs(),
		transactions: make(map[uint32]*transaction),
		handlers:     make(map[string]QueryHandler),
		outbound:     make(chan *outMessage, cfg.QueueSize),
		workers:      semaphore.NewWeighted(int64(cfg.Workers)),
		searches:     make(map[uuid.UUID]*Search),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.localID.IsZero() {
		d.localID = types.RandomID()
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	now := d.clock.Now()
	d.lastNeighbourhood = now
	d.tokens = newTokenSecrets(now, cfg.TokenRotation)

	lim, err := newLimiter(cfg, d.clock)
	if err != nil {
		return nil, NewDHTError("new", err, "create limiter")
	}
	d.limiter = lim

	itemOpts := []item.Option{
		item.WithClock(d.clock),
		item.WithLifetime(cfg.ItemExpiration, cfg.ItemKeepalive),
	}
	if d.kv != nil {
		itemOpts = append(itemOpts, item.WithKV(d.kv.SubStore(itemPrefix)))
	}
	d.items = item.NewStore(itemOpts...)

	d.registerDefaultHandlers()

	logger.Info("DHT 已创建", "localID", d.localID.ShortString())
	return d, nil
}

// LocalID 本地节点 ID
func (d *DHT) LocalID() types.ID {
	return d.localID
}

// Config 当前配置
func (d *DHT) Config() *Config {
	return d.cfg
}

// Items 本地存储项
func (d *DHT) Items() *item.Store {
	return d.items
}

// Table 返回地址族对应的路由表，未绑定时返回 nil
func (d *DHT) Table(f types.Family) *routing.Table {
	d.tablesMu.RLock()
	defer d.tablesMu.RUnlock()
	return d.tables[f]
}

// Tables 返回所有路由表
func (d *DHT) Tables() []*routing.Table {
	d.tablesMu.RLock()
	defer d.tablesMu.RUnlock()
	out := make([]*routing.Table, 0, len(d.tables))
	for _, f := range types.Families {
		if t, ok := d.tables[f]; ok {
			out = append(out, t)
		}
	}
	return out
}

// tableFor 返回或创建地址族的路由表
func (d *DHT) tableFor(f types.Family) *routing.Table {
	d.tablesMu.Lock()
	defer d.tablesMu.Unlock()
	if t, ok := d.tables[f]; ok {
		return t
	}
	t := routing.NewTable(f, d.localID,
		routing.WithConfig(d.cfg.Table),
		routing.WithClock(d.clock),
		routing.WithHooks(routing.Hooks{
			Ping: d.pingHook,
			Refresh: func(target types.ID) {
				if _, err := d.Search(target, f, nil); err != nil {
					logger.Debug("刷新空桶失败", "family", f, "err", err)
				}
			},
			Split: func(depth int) {
				d.metrics.Split()
				logger.Debug("路由桶分裂", "family", f, "depth", depth)
			},
		}),
	)
	d.tables[f] = t
	return t
}

// pingHook 路由表请求探测节点，作业结束后释放节点
func (d *DHT) pingHook(n *routing.Node) {
	if d.closed.Load() {
		n.Release()
		return
	}
	d.Ping(n.Addr, nil, WithRelease(n.Release))
}

// ============================================================================
//                              统计
// ============================================================================

// Stats 引擎统计
type Stats struct {
	LocalID      types.ID
	Tables       []routing.Stats
	Endpoints    int
	Jobs         int
	Transactions int
	Searches     int
	Items        int
	Queued       int
	Bandwidth    metrics.BandwidthStats
}

// Stats 返回引擎统计
func (d *DHT) Stats() Stats {
	s := Stats{
		LocalID:   d.localID,
		Items:     d.items.Len(),
		Queued:    len(d.outbound),
		Bandwidth: d.metrics.Stats(),
	}
	for _, t := range d.Tables() {
		s.Tables = append(s.Tables, t.Stats())
	}
	d.endpointsMu.RLock()
	s.Endpoints = len(d.endpoints)
	d.endpointsMu.RUnlock()

	d.jobsMu.Lock()
	s.Jobs = len(d.jobs)
	d.jobsMu.Unlock()

	d.txMu.Lock()
	s.Transactions = len(d.transactions)
	d.txMu.Unlock()

	d.searchesMu.Lock()
	s.Searches = len(d.searches)
	d.searchesMu.Unlock()
	return s
}
