package dht

import (
	"net/netip"
	"sync"

	"github.com/benbjohnson/clock"
	arc "github.com/hashicorp/golang-lru/arc/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	// peerLimiterCacheSize 每 IP 限流器缓存容量
	peerLimiterCacheSize = 4096

	// blacklistSize 黑名单与计数表容量
	blacklistSize = 4096
)

// limiter 入站请求过滤
//
// 全局与每 IP 两级令牌桶，外加畸形报文计数与黑名单。
type limiter struct {
	clock clock.Clock

	global    *rate.Limiter
	peerLimit rate.Limit
	peerBurst int
	peers     *arc.ARCCache[netip.Addr, *rate.Limiter]

	// mu 保证查找与创建每 IP 限流器、累计畸形计数是原子的
	mu sync.Mutex

	maxStrikes int
	strikes    *expirable.LRU[netip.Addr, int]
	blacklist  *expirable.LRU[netip.Addr, struct{}]
}

func newLimiter(cfg *Config, clk clock.Clock) (*limiter, error) {
	peers, err := arc.NewARC[netip.Addr, *rate.Limiter](peerLimiterCacheSize)
	if err != nil {
		return nil, err
	}
	return &limiter{
		clock:      clk,
		global:     rate.NewLimiter(limitOf(cfg.RateLimit), cfg.RateBurst),
		peerLimit:  limitOf(cfg.PeerRateLimit),
		peerBurst:  cfg.PeerRateBurst,
		peers:      peers,
		maxStrikes: cfg.MaxStrikes,
		strikes:    expirable.NewLRU[netip.Addr, int](blacklistSize, nil, cfg.BlacklistTTL),
		blacklist:  expirable.NewLRU[netip.Addr, struct{}](blacklistSize, nil, cfg.BlacklistTTL),
	}, nil
}

// limitOf 0 表示不限流
func limitOf(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}

// allow 是否允许来自 ip 的请求
func (l *limiter) allow(ip netip.Addr) bool {
	now := l.clock.Now()
	if !l.peerLimiter(ip).AllowN(now, 1) {
		return false
	}
	return l.global.AllowN(now, 1)
}

// peerLimiter 返回 ip 的限流器，不存在时创建
func (l *limiter) peerLimiter(ip netip.Addr) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	peer, ok := l.peers.Get(ip)
	if !ok {
		peer = rate.NewLimiter(l.peerLimit, l.peerBurst)
		l.peers.Add(ip, peer)
	}
	return peer
}

// strike 记录一次畸形报文，达到上限时拉黑，返回是否刚被拉黑
func (l *limiter) strike(ip netip.Addr) bool {
	if l.maxStrikes <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	n, _ := l.strikes.Get(ip)
	n++
	if n < l.maxStrikes {
		l.strikes.Add(ip, n)
		return false
	}
	l.strikes.Remove(ip)
	l.blacklist.Add(ip, struct{}{})
	return true
}

// blocked 是否在黑名单中
func (l *limiter) blocked(ip netip.Addr) bool {
	return l.blacklist.Contains(ip)
}

// isMartian 不可路由的来源地址
//
// 端口 0；IPv4 的 0/8、回环、组播与保留段；IPv6 的未指定、回环与组播。
func isMartian(addr netip.AddrPort) bool {
	if addr.Port() == 0 {
		return true
	}
	ip := addr.Addr().Unmap()
	if ip.IsUnspecified() || ip.IsLoopback() || ip.IsMulticast() {
		return true
	}
	if ip.Is4() {
		b := ip.As4()
		return b[0] == 0 || b[0] >= 240
	}
	return false
}
