package dht

import (
	"errors"
	"time"

	"github.com/dep2p/go-kdht/config"
	"github.com/dep2p/go-kdht/internal/dht/routing"
	"github.com/dep2p/go-kdht/pkg/types"
)

// Config DHT 引擎配置
type Config struct {
	// ListenAddrs 绑定的 UDP 地址
	ListenAddrs []string

	// LocalID 本地节点 ID，零值表示随机生成
	LocalID types.ID

	// PulseInterval Run 循环的脉冲间隔
	PulseInterval time.Duration

	// PollTimeout 单次脉冲轮询端点的上限
	PollTimeout time.Duration

	// Workers 并发处理入站数据报的工作者数
	Workers int

	// QueueSize 出站队列容量
	QueueSize int

	// QueryTimeout 事务过期时间
	QueryTimeout time.Duration

	// QueryAttempts 作业的尝试次数
	QueryAttempts int

	// SearchResults 搜索结果集容量 K
	SearchResults int

	// MaxCASRetries 发布时遇到 301 的重试次数
	MaxCASRetries int

	// TokenRotation token 密钥轮换间隔
	TokenRotation time.Duration

	// ItemExpiration 存储项保留时长
	ItemExpiration time.Duration

	// ItemKeepalive 存储项重新发布间隔
	ItemKeepalive time.Duration

	// NeighbourhoodInterval 向本地 ID 附近发起搜索的间隔
	NeighbourhoodInterval time.Duration

	// RateLimit / RateBurst 全局入站请求限流
	RateLimit float64
	RateBurst int

	// PeerRateLimit / PeerRateBurst 单 IP 入站请求限流
	PeerRateLimit float64
	PeerRateBurst int

	// MaxStrikes 畸形报文达到该次数后拉黑发送方
	MaxStrikes int

	// BlacklistTTL 黑名单时长
	BlacklistTTL time.Duration

	// AllowMartians 接受回环、保留等不可路由地址（本机测试网络）
	AllowMartians bool

	// Persist 停止时保存路由表快照，启动时恢复
	Persist bool

	// Table 路由表参数
	Table routing.Config
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ListenAddrs:           []string{"0.0.0.0:0"},
		PulseInterval:         50 * time.Millisecond,
		PollTimeout:           20 * time.Millisecond,
		Workers:               16,
		QueueSize:             1024,
		QueryTimeout:          10 * time.Second,
		QueryAttempts:         3,
		SearchResults:         8,
		MaxCASRetries:         3,
		TokenRotation:         5 * time.Minute,
		ItemExpiration:        2 * time.Hour,
		ItemKeepalive:         time.Hour,
		NeighbourhoodInterval: 5 * time.Minute,
		RateLimit:             100,
		RateBurst:             400,
		PeerRateLimit:         20,
		PeerRateBurst:         50,
		MaxStrikes:            3,
		BlacklistTTL:          10 * time.Minute,
		Persist:               true,
		Table:                 routing.DefaultConfig(),
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.PulseInterval <= 0 {
		return errors.New("pulse interval must be positive")
	}
	if c.PollTimeout <= 0 {
		return errors.New("poll timeout must be positive")
	}
	if c.Workers <= 0 {
		return errors.New("workers must be positive")
	}
	if c.QueueSize <= 0 {
		return errors.New("queue size must be positive")
	}
	if c.QueryTimeout <= 0 {
		return errors.New("query timeout must be positive")
	}
	if c.QueryAttempts <= 0 {
		return errors.New("query attempts must be positive")
	}
	if c.SearchResults <= 0 {
		return errors.New("search results must be positive")
	}
	if c.MaxCASRetries < 0 {
		return errors.New("max CAS retries must not be negative")
	}
	if c.TokenRotation <= 0 {
		return errors.New("token rotation must be positive")
	}
	if c.ItemExpiration <= 0 || c.ItemKeepalive <= 0 {
		return errors.New("item expiration and keepalive must be positive")
	}
	if c.ItemKeepalive > c.ItemExpiration {
		return errors.New("item keepalive must not exceed expiration")
	}
	if c.RateLimit < 0 || c.PeerRateLimit < 0 {
		return errors.New("rate limits must not be negative")
	}
	return nil
}

// ConfigOption 配置选项函数
type ConfigOption func(*Config)

// WithListenAddrs 设置绑定地址
func WithListenAddrs(addrs ...string) ConfigOption {
	return func(c *Config) {
		c.ListenAddrs = addrs
	}
}

// WithLocalID 设置本地节点 ID
func WithLocalID(id types.ID) ConfigOption {
	return func(c *Config) {
		c.LocalID = id
	}
}

// WithQueryTimeout 设置事务过期时间
func WithQueryTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.QueryTimeout = timeout
	}
}

// WithQueryAttempts 设置作业尝试次数
func WithQueryAttempts(n int) ConfigOption {
	return func(c *Config) {
		c.QueryAttempts = n
	}
}

// WithPulseInterval 设置脉冲间隔
func WithPulseInterval(interval time.Duration) ConfigOption {
	return func(c *Config) {
		c.PulseInterval = interval
	}
}

// WithAllowMartians 设置是否接受不可路由地址
func WithAllowMartians(allow bool) ConfigOption {
	return func(c *Config) {
		c.AllowMartians = allow
	}
}

// WithItemLifetime 设置存储项保留与重新发布间隔
func WithItemLifetime(expiration, keepalive time.Duration) ConfigOption {
	return func(c *Config) {
		c.ItemExpiration = expiration
		c.ItemKeepalive = keepalive
	}
}

// WithTableConfig 设置路由表参数
func WithTableConfig(tc routing.Config) ConfigOption {
	return func(c *Config) {
		c.Table = tc
	}
}

// NewConfig 以默认配置为基础应用选项
func NewConfig(opts ...ConfigOption) *Config {
	c := DefaultConfig()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConfigFromUnified 从统一配置创建 DHT 配置
func ConfigFromUnified(cfg *config.Config) (*Config, error) {
	c := DefaultConfig()
	if cfg == nil {
		return c, nil
	}
	d := cfg.DHT

	if len(d.ListenAddrs) > 0 {
		c.ListenAddrs = append([]string(nil), d.ListenAddrs...)
	}
	if d.NodeID != "" {
		id, err := types.IDFromHex(d.NodeID)
		if err != nil {
			return nil, NewDHTError("config", err, "invalid node_id")
		}
		c.LocalID = id
	}
	setDuration(&c.PulseInterval, d.PulseInterval)
	setDuration(&c.PollTimeout, d.PollTimeout)
	setDuration(&c.QueryTimeout, d.QueryTimeout)
	setDuration(&c.TokenRotation, d.TokenRotation)
	setDuration(&c.ItemExpiration, d.ItemExpiration)
	setDuration(&c.ItemKeepalive, d.ItemKeepalive)
	setInt(&c.Workers, d.Workers)
	setInt(&c.QueryAttempts, d.QueryAttempts)
	setInt(&c.SearchResults, d.SearchResults)
	setInt(&c.RateBurst, d.RateBurst)
	setInt(&c.PeerRateBurst, d.PeerRateBurst)
	if d.RateLimit > 0 {
		c.RateLimit = d.RateLimit
	}
	if d.PeerRateLimit > 0 {
		c.PeerRateLimit = d.PeerRateLimit
	}
	c.AllowMartians = d.AllowMartians
	c.Persist = d.Persist

	if err := c.Validate(); err != nil {
		return nil, NewDHTError("config", ErrInvalidConfig, err.Error())
	}
	return c, nil
}

func setDuration(dst *time.Duration, v config.Duration) {
	if v.IsSet() {
		*dst = v.Duration()
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
