package config

import (
	"errors"
	"net/netip"
	"time"
)

// DHTConfig DHT 引擎配置
//
// 时间字段使用 Duration，JSON 中写作 "10s"、"15m" 等。
type DHTConfig struct {
	// ListenAddrs UDP 监听地址，每个地址对应一个端点和一个本地节点
	ListenAddrs []string `json:"listen_addrs"`

	// NodeID 十六进制本地节点 ID，为空时随机生成
	NodeID string `json:"node_id,omitempty"`

	// PulseInterval 后台循环调用 Pulse 的间隔
	PulseInterval Duration `json:"pulse_interval,omitempty"`

	// PollTimeout 单次 Pulse 轮询套接字的最长时间
	PollTimeout Duration `json:"poll_timeout,omitempty"`

	// Workers 处理入站报文的工作协程上限
	Workers int `json:"workers,omitempty"`

	// QueryTimeout 单次查询事务的过期时间
	QueryTimeout Duration `json:"query_timeout,omitempty"`

	// QueryAttempts 每个作业的查询次数上限
	QueryAttempts int `json:"query_attempts,omitempty"`

	// SearchResults 迭代查找保留的最近节点数（K）
	SearchResults int `json:"search_results,omitempty"`

	// TokenRotation 令牌密钥轮换间隔
	TokenRotation Duration `json:"token_rotation,omitempty"`

	// ItemExpiration 本地存储项的保留时长
	ItemExpiration Duration `json:"item_expiration,omitempty"`

	// ItemKeepalive 本地存储项重新发布的间隔
	ItemKeepalive Duration `json:"item_keepalive,omitempty"`

	// RateLimit 全局入站请求速率（每秒）
	RateLimit float64 `json:"rate_limit,omitempty"`

	// RateBurst 全局入站请求突发量
	RateBurst int `json:"rate_burst,omitempty"`

	// PeerRateLimit 单个 IP 入站请求速率（每秒）
	PeerRateLimit float64 `json:"peer_rate_limit,omitempty"`

	// PeerRateBurst 单个 IP 入站请求突发量
	PeerRateBurst int `json:"peer_rate_burst,omitempty"`

	// AllowMartians 是否接受回环、保留等不可路由地址
	// 仅用于本机测试网络
	AllowMartians bool `json:"allow_martians,omitempty"`

	// Persist 是否在停止时保存路由表快照、启动时恢复
	Persist bool `json:"persist"`
}

// DefaultDHTConfig 返回默认 DHT 配置
func DefaultDHTConfig() DHTConfig {
	return DHTConfig{
		ListenAddrs:    []string{"0.0.0.0:0"},
		PulseInterval:  Duration(50 * time.Millisecond),
		PollTimeout:    Duration(20 * time.Millisecond),
		Workers:        16,
		QueryTimeout:   Duration(10 * time.Second),
		QueryAttempts:  3,
		SearchResults:  8,
		TokenRotation:  Duration(5 * time.Minute),
		ItemExpiration: Duration(2 * time.Hour),
		ItemKeepalive:  Duration(time.Hour),
		RateLimit:      100,
		RateBurst:      400,
		PeerRateLimit:  20,
		PeerRateBurst:  50,
		Persist:        true,
	}
}

// Validate 验证 DHT 配置
func (c *DHTConfig) Validate() error {
	if len(c.ListenAddrs) == 0 {
		return errors.New("dht: listen_addrs cannot be empty")
	}
	for _, addr := range c.ListenAddrs {
		if _, err := netip.ParseAddrPort(addr); err != nil {
			return errors.New("dht: invalid listen address " + addr)
		}
	}
	if c.NodeID != "" && len(c.NodeID) != 40 {
		return errors.New("dht: node_id must be 40 hex characters")
	}
	if c.Workers <= 0 {
		return errors.New("dht: workers must be positive")
	}
	if c.QueryTimeout <= 0 {
		return errors.New("dht: query_timeout must be positive")
	}
	if c.QueryAttempts <= 0 {
		return errors.New("dht: query_attempts must be positive")
	}
	if c.SearchResults <= 0 {
		return errors.New("dht: search_results must be positive")
	}
	if c.ItemKeepalive > c.ItemExpiration {
		return errors.New("dht: item_keepalive must not exceed item_expiration")
	}
	if c.RateLimit < 0 || c.PeerRateLimit < 0 {
		return errors.New("dht: rate limits must not be negative")
	}
	return nil
}
