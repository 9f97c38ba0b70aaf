package item

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-kdht/internal/core/storage/kv"
	"github.com/dep2p/go-kdht/pkg/lib/log"
	"github.com/dep2p/go-kdht/pkg/types"
)

var logger = log.Logger("dht/item")

// 默认时间参数
const (
	DefaultExpiration = 2 * time.Hour
	DefaultKeepalive  = time.Hour
)

// Option 存储选项
type Option func(*Store)

// WithClock 设置时钟
func WithClock(clk clock.Clock) Option {
	return func(s *Store) { s.clock = clk }
}

// WithLifetime 设置过期与重新发布间隔
func WithLifetime(expiration, keepalive time.Duration) Option {
	return func(s *Store) {
		s.expiration = expiration
		s.keepalive = keepalive
	}
}

// WithKV 启用持久化，kv 应已限定在条目前缀下
func WithKV(store *kv.Store) Option {
	return func(s *Store) { s.kv = store }
}

// Store 条目存储
type Store struct {
	mu    sync.RWMutex
	items map[types.ID]*Item

	clock      clock.Clock
	expiration time.Duration
	keepalive  time.Duration
	kv         *kv.Store
}

// NewStore 创建条目存储
func NewStore(opts ...Option) *Store {
	s := &Store{
		items:      make(map[types.ID]*Item),
		clock:      clock.New(),
		expiration: DefaultExpiration,
		keepalive:  DefaultKeepalive,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get 按 ID 查找条目
func (s *Store) Get(id types.ID) *Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[id]
}

// Len 条目数
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Put 插入新条目或以 CAS 规则更新已有条目
//
// 返回存储中的条目（可能是已存在的那一个）。签名应已由调用方验证。
// 成功的 Put 总会刷新过期时间并写回持久化记录，即使值没有变化。
func (s *Store) Put(incoming *Item, cas *int64) (*Item, error) {
	now := s.clock.Now()

	s.mu.Lock()
	cur, ok := s.items[incoming.ID]
	if !ok {
		incoming.touch(now, s.expiration, s.keepalive)
		s.items[incoming.ID] = incoming
		s.mu.Unlock()
		s.persist(incoming)
		return incoming, nil
	}
	s.mu.Unlock()

	v := incoming.View()
	if _, err := cur.Update(v.Value, v.Seq, v.Sig, cas); err != nil {
		return cur, err
	}
	cur.touch(now, s.expiration, s.keepalive)

	// 更新期间 Expire 可能已删除 cur；刷新后的 cur 重新放回
	s.mu.Lock()
	switch existing, ok := s.items[cur.ID]; {
	case !ok:
		s.items[cur.ID] = cur
		logger.Debug("条目在更新期间被清理，重新放回", "id", cur.ID.ShortString())
	case existing != cur:
		// 删除后已有新的 Put 插入，以存储中的条目为准
		s.mu.Unlock()
		return s.Put(incoming, cas)
	}
	s.mu.Unlock()

	s.persist(cur)
	return cur, nil
}

// Delete 删除条目
func (s *Store) Delete(id types.ID) bool {
	s.mu.Lock()
	_, ok := s.items[id]
	delete(s.items, id)
	s.mu.Unlock()
	if ok {
		s.unpersist(id)
	}
	return ok
}

// Expire 清理过期条目并返回需要重新发布的条目
//
// keepalive 到期且仍有引用的条目被重新发布（返回值已 Hold，调用方负责 Release），
// 过期且没有引用的条目被删除。
func (s *Store) Expire() (republish []*Item, dropped int) {
	now := s.clock.Now()

	var drop []types.ID
	s.mu.RLock()
	for id, it := range s.items {
		refs := it.Refs()
		it.mu.Lock()
		switch {
		case refs > 0 && !now.Before(it.keepalive):
			it.keepalive = now.Add(s.keepalive)
			it.expiration = now.Add(s.expiration)
			republish = append(republish, it.Hold())
		case refs == 0 && !now.Before(it.expiration):
			drop = append(drop, id)
		}
		it.mu.Unlock()
	}
	s.mu.RUnlock()

	// 过期时间已延长，写回记录以免重启后被当作过期
	for _, it := range republish {
		s.persist(it)
	}

	if len(drop) > 0 {
		removed := drop[:0]
		s.mu.Lock()
		for _, id := range drop {
			// 期间可能被重新 Hold
			if it, ok := s.items[id]; ok && it.Refs() == 0 {
				delete(s.items, id)
				removed = append(removed, id)
			}
		}
		s.mu.Unlock()
		for _, id := range removed {
			s.unpersist(id)
		}
		dropped = len(removed)
	}

	if len(republish) > 0 || dropped > 0 {
		logger.Debug("条目过期处理", "republish", len(republish), "dropped", dropped, "remaining", s.Len())
	}
	return republish, dropped
}

// Items 返回所有条目
func (s *Store) Items() []*Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	return out
}
