package dht

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/dep2p/go-kdht/internal/dht/item"
	"github.com/dep2p/go-kdht/internal/dht/protocol"
	"github.com/dep2p/go-kdht/pkg/types"
)

// PublishCallback 发布完成回调；远端已持有同样或更新的条目也视为成功
type PublishCallback func(err error)

// Publish 向单个节点发布条目
//
// 先 get 获取 token 与远端序号；远端缺少条目或序号更旧时 put。
// 可变条目的 put 携带 cas = 远端序号，遇到 301 时重新 get+put，最多 MaxCASRetries 次。
// 发布期间条目保持 Hold。
func (d *DHT) Publish(it *item.Item, node protocol.NodeInfo, cb PublishCallback) {
	it.Hold()
	var once sync.Once
	done := func(err error) {
		once.Do(func() {
			it.Release()
			if cb != nil {
				cb(err)
			}
		})
	}
	d.publishAttempt(it, node, 0, done)
}

func (d *DHT) publishAttempt(it *item.Item, node protocol.NodeInfo, retry int, done PublishCallback) {
	var seq *int64
	if it.Mutable {
		s := it.Seq()
		seq = &s
	}
	v := it.View()

	d.Get(node.Addr, it.ID, v.Salt, seq, func(g *Job) {
		if err := jobError(g); err != nil {
			done(err)
			return
		}
		if len(g.Token) == 0 {
			done(ErrNoToken)
			return
		}

		var cas *int64
		if it.Mutable {
			if g.HasSeq && g.Seq >= it.Seq() {
				done(nil)
				return
			}
			if g.HasSeq {
				remote := g.Seq
				cas = &remote
			}
		} else if g.Item != nil {
			done(nil)
			return
		}

		d.Put(node.Addr, it, g.Token, cas, func(p *Job) {
			err := jobError(p)
			if err != nil && protocol.CodeOf(err) == protocol.CodeCASMismatch && retry < d.cfg.MaxCASRetries {
				logger.Debug("CAS 冲突，重试发布", "id", it.ID.ShortString(), "node", node.Addr.String(), "retry", retry+1)
				d.publishAttempt(it, node, retry+1, done)
				return
			}
			done(err)
		})
	})
}

// jobError 将作业结果转换为错误
func jobError(j *Job) error {
	switch j.Result() {
	case ResultSuccess:
		return nil
	case ResultExpired:
		return ErrExpired
	default:
		if err := j.Err(); err != nil {
			return err
		}
		return ErrInvalidResponse
	}
}

// ============================================================================
//                              分发
// ============================================================================

// DistributeResult 分发结果
type DistributeResult struct {
	ID        uuid.UUID
	Nodes     int
	Published int
	Err       error
}

// DistributeCallback 分发完成回调
type DistributeCallback func(res DistributeResult)

// Distribute 查找距离条目最近的节点并向每个结果并行发布
//
// 每个已绑定的地址族各做一次查找；所有发布结束后回调一次。
func (d *DHT) Distribute(it *item.Item, cb DistributeCallback) error {
	tables := d.Tables()
	if len(tables) == 0 {
		return ErrNoEndpoint
	}

	it.Hold()
	dist := &distribution{
		d:        d,
		it:       it,
		cb:       cb,
		res:      DistributeResult{ID: uuid.New()},
		searches: len(tables),
	}
	for _, t := range tables {
		if _, err := d.Search(it.ID, t.Family(), dist.onSearch); err != nil {
			dist.onSearchError(err)
		}
	}
	return nil
}

type distribution struct {
	d  *DHT
	it *item.Item
	cb DistributeCallback

	mu       sync.Mutex
	res      DistributeResult
	searches int
	pending  int
	finished bool
}

func (dist *distribution) onSearchError(err error) {
	dist.mu.Lock()
	dist.searches--
	dist.res.Err = multierr.Append(dist.res.Err, err)
	dist.mu.Unlock()
	dist.maybeFinish()
}

func (dist *distribution) onSearch(s *Search) {
	results := s.Results()
	dist.mu.Lock()
	dist.searches--
	dist.pending += len(results)
	dist.res.Nodes += len(results)
	dist.mu.Unlock()

	for _, n := range results {
		dist.d.Publish(dist.it, n, dist.onPublish)
	}
	dist.maybeFinish()
}

func (dist *distribution) onPublish(err error) {
	dist.mu.Lock()
	dist.pending--
	if err != nil {
		dist.res.Err = multierr.Append(dist.res.Err, err)
	} else {
		dist.res.Published++
	}
	dist.mu.Unlock()
	dist.maybeFinish()
}

func (dist *distribution) maybeFinish() {
	dist.mu.Lock()
	if dist.finished || dist.searches > 0 || dist.pending > 0 {
		dist.mu.Unlock()
		return
	}
	dist.finished = true
	res := dist.res
	dist.mu.Unlock()

	logger.Debug("分发完成", "id", dist.it.ID.ShortString(), "nodes", res.Nodes, "published", res.Published)
	dist.it.Release()
	if dist.cb != nil {
		dist.cb(res)
	}
}

// ============================================================================
//                              查询
// ============================================================================

// LookupResult 网络查询结果
type LookupResult struct {
	// Item 校验通过的条目；可变条目取序号最大者
	Item *item.Item
	// Responses 给出应答的节点数
	Responses int
}

// LookupCallback 查询完成回调
type LookupCallback func(res LookupResult, err error)

// Lookup 查找 target 并向结果节点请求条目
//
// salt 仅用于可变条目。未找到时回调 ErrNotFound。
func (d *DHT) Lookup(target types.ID, salt []byte, cb LookupCallback) error {
	tables := d.Tables()
	if len(tables) == 0 {
		return ErrNoEndpoint
	}

	lk := &lookup{d: d, target: target, salt: salt, cb: cb, searches: len(tables)}
	for _, t := range tables {
		if _, err := d.Search(target, t.Family(), lk.onSearch); err != nil {
			lk.mu.Lock()
			lk.searches--
			lk.mu.Unlock()
			lk.maybeFinish()
		}
	}
	return nil
}

type lookup struct {
	d      *DHT
	target types.ID
	salt   []byte
	cb     LookupCallback

	mu       sync.Mutex
	res      LookupResult
	searches int
	pending  int
	finished bool
}

func (lk *lookup) onSearch(s *Search) {
	results := s.Results()
	lk.mu.Lock()
	lk.searches--
	lk.pending += len(results)
	lk.mu.Unlock()

	for _, n := range results {
		lk.d.Get(n.Addr, lk.target, lk.salt, nil, lk.onGet)
	}
	lk.maybeFinish()
}

func (lk *lookup) onGet(j *Job) {
	lk.mu.Lock()
	lk.pending--
	if j.Result() == ResultSuccess {
		lk.res.Responses++
		if j.Item != nil && (lk.res.Item == nil || j.Item.Seq() > lk.res.Item.Seq()) {
			lk.res.Item = j.Item
		}
	}
	lk.mu.Unlock()
	lk.maybeFinish()
}

func (lk *lookup) maybeFinish() {
	lk.mu.Lock()
	if lk.finished || lk.searches > 0 || lk.pending > 0 {
		lk.mu.Unlock()
		return
	}
	lk.finished = true
	res := lk.res
	lk.mu.Unlock()

	if lk.cb == nil {
		return
	}
	if res.Item == nil {
		lk.cb(res, ErrNotFound)
		return
	}
	lk.cb(res, nil)
}
