package dht

import (
	"context"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dep2p/go-kdht/internal/dht/protocol"
	"github.com/dep2p/go-kdht/internal/dht/routing"
	"github.com/dep2p/go-kdht/pkg/types"
)

// SearchCallback 查找完成回调，恰好调用一次
type SearchCallback func(s *Search)

// Search 迭代式最近节点查找
//
// 结果集按与目标的距离升序，容量 K。每个 find_node 应答中比当前最差结果更近
// 且未查询过的节点会触发新的 find_node；未完成请求数归零时结束。
type Search struct {
	ID     uuid.UUID
	Target types.ID
	Family types.Family

	d        *DHT
	k        int
	callback SearchCallback
	started  time.Time

	mu          sync.Mutex
	results     []protocol.NodeInfo
	queried     map[types.ID]struct{}
	outstanding int
	finished    bool
	done        chan struct{}
}

// Search 发起对 target 的查找
//
// 种子取自地址族路由表中当前最近的节点；没有种子时立即完成。
func (d *DHT) Search(target types.ID, family types.Family, cb SearchCallback) (*Search, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	table := d.Table(family)
	if table == nil {
		return nil, ErrNoEndpoint
	}

	s := &Search{
		ID:       uuid.New(),
		Target:   target,
		Family:   family,
		d:        d,
		k:        d.cfg.SearchResults,
		callback: cb,
		started:  d.clock.Now(),
		queried:  make(map[types.ID]struct{}),
		done:     make(chan struct{}),
	}

	seeds := table.FindClosestNodes(routing.Query{Target: target, Max: s.k})
	infos := make([]protocol.NodeInfo, 0, len(seeds))
	for _, n := range seeds {
		infos = append(infos, protocol.NodeInfo{ID: n.ID, Addr: n.Addr})
	}
	routing.ReleaseAll(seeds)

	d.searchesMu.Lock()
	d.searches[s.ID] = s
	d.searchesMu.Unlock()

	logger.Debug("开始查找", "search", s.ID.String(), "target", target.ShortString(), "family", family, "seeds", len(infos))

	s.mu.Lock()
	launch := s.admitLocked(infos)
	s.mu.Unlock()
	s.launch(launch)
	s.maybeFinish()
	return s, nil
}

// admitLocked 从候选中挑出需要查询的节点并加入结果集
func (s *Search) admitLocked(candidates []protocol.NodeInfo) []protocol.NodeInfo {
	var launch []protocol.NodeInfo
	for _, c := range candidates {
		if c.ID == s.d.localID || types.FamilyOf(c.Addr) != s.Family {
			continue
		}
		if _, seen := s.queried[c.ID]; seen {
			continue
		}
		if !s.d.cfg.AllowMartians && isMartian(c.Addr) {
			continue
		}
		if len(s.results) >= s.k {
			worst := s.results[len(s.results)-1]
			if types.CompareDistance(c.ID, worst.ID, s.Target) >= 0 {
				continue
			}
		}
		s.queried[c.ID] = struct{}{}
		s.insertLocked(c)
		launch = append(launch, c)
	}
	s.outstanding += len(launch)
	return launch
}

// insertLocked 按距离插入结果集，超出容量时丢弃最远者
func (s *Search) insertLocked(n protocol.NodeInfo) {
	i := sort.Search(len(s.results), func(i int) bool {
		return types.CompareDistance(s.results[i].ID, n.ID, s.Target) > 0
	})
	s.results = append(s.results, protocol.NodeInfo{})
	copy(s.results[i+1:], s.results[i:])
	s.results[i] = n
	if len(s.results) > s.k {
		s.results = s.results[:s.k]
	}
}

func (s *Search) removeLocked(id types.ID) {
	for i, r := range s.results {
		if r.ID == id {
			s.results = append(s.results[:i], s.results[i+1:]...)
			return
		}
	}
}

func (s *Search) launch(nodes []protocol.NodeInfo) {
	for _, n := range nodes {
		s.d.FindNode(n.Addr, s.Target, s.Family.Mask(), s.onFindNode)
	}
}

// onFindNode 合并一个 find_node 的结果
func (s *Search) onFindNode(j *Job) {
	s.mu.Lock()
	s.outstanding--
	var launch []protocol.NodeInfo
	if j.Result() == ResultSuccess {
		launch = s.admitLocked(j.Nodes)
	} else {
		s.removeLocked(s.idOf(j.Addr))
	}
	s.mu.Unlock()

	s.launch(launch)
	s.maybeFinish()
}

// idOf 按地址找回结果集中的节点 ID
func (s *Search) idOf(addr netip.AddrPort) types.ID {
	for _, r := range s.results {
		if r.Addr == addr {
			return r.ID
		}
	}
	return types.EmptyID
}

func (s *Search) maybeFinish() {
	s.mu.Lock()
	if s.finished || s.outstanding > 0 {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.mu.Unlock()

	s.d.searchesMu.Lock()
	delete(s.d.searches, s.ID)
	s.d.searchesMu.Unlock()
	s.d.metrics.SearchDone()

	logger.Debug("查找完成", "search", s.ID.String(), "results", len(s.Results()),
		"elapsed", s.d.clock.Since(s.started))

	if s.callback != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("查找回调 panic", "search", s.ID.String(), "panic", r)
				}
			}()
			s.callback(s)
		}()
	}
	close(s.done)
}

// Results 当前结果集的副本，按距离升序
func (s *Search) Results() []protocol.NodeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.NodeInfo(nil), s.results...)
}

// Outstanding 未完成的请求数
func (s *Search) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

// Done 查找完成（回调已返回）后关闭
func (s *Search) Done() <-chan struct{} {
	return s.done
}

// Wait 等待查找完成并返回结果
func (s *Search) Wait(ctx context.Context) ([]protocol.NodeInfo, error) {
	select {
	case <-s.done:
		return s.Results(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
