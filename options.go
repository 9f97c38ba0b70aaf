package kdht

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-kdht/config"
	"github.com/dep2p/go-kdht/pkg/types"
)

// Option 用户配置选项函数
type Option func(*nodeConfig) error

// nodeConfig 节点内部配置
type nodeConfig struct {
	// config 统一配置，预设与选项都作用于它
	config *config.Config

	// registerer 指标注册器，nil 时使用独立 Registry
	registerer prometheus.Registerer

	// clock 引擎时钟，测试中注入 clock.NewMock()
	clock clock.Clock

	// userFxOptions 用户自定义 Fx 选项
	userFxOptions []fx.Option
}

func newNodeConfig() *nodeConfig {
	return &nodeConfig{config: config.NewConfig()}
}

// ════════════════════════════════════════════════════════════════════════════
//                              配置来源
// ════════════════════════════════════════════════════════════════════════════

// WithConfig 使用完整的统一配置，之后的选项在其基础上覆盖
func WithConfig(cfg *config.Config) Option {
	return func(c *nodeConfig) error {
		if cfg == nil {
			return errors.New("config cannot be nil")
		}
		clone := *cfg
		clone.DHT.ListenAddrs = append([]string(nil), cfg.DHT.ListenAddrs...)
		c.config = &clone
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载统一配置
func WithConfigFile(path string) Option {
	return func(c *nodeConfig) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		c.config = cfg
		return nil
	}
}

// WithPreset 应用预设配置
func WithPreset(p Preset) Option {
	return func(c *nodeConfig) error {
		if p.Apply == nil {
			return fmt.Errorf("preset %q has no apply function", p.Name)
		}
		p.Apply(c.config)
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              网络
// ════════════════════════════════════════════════════════════════════════════

// WithListenAddrs 设置 UDP 监听地址，例如 "0.0.0.0:6881"、"[::]:6881"
func WithListenAddrs(addrs ...string) Option {
	return func(c *nodeConfig) error {
		if len(addrs) == 0 {
			return errors.New("listen addrs cannot be empty")
		}
		for _, a := range addrs {
			if _, err := netip.ParseAddrPort(a); err != nil {
				return fmt.Errorf("invalid listen addr %q: %w", a, err)
			}
		}
		c.config.DHT.ListenAddrs = append([]string(nil), addrs...)
		return nil
	}
}

// WithListenPort 在 IPv4 与 IPv6 通配地址上监听同一端口
func WithListenPort(port int) Option {
	return func(c *nodeConfig) error {
		if port < 0 || port > 65535 {
			return fmt.Errorf("invalid port %d", port)
		}
		c.config.DHT.ListenAddrs = []string{
			fmt.Sprintf("0.0.0.0:%d", port),
			fmt.Sprintf("[::]:%d", port),
		}
		return nil
	}
}

// WithNodeID 固定本地节点 ID
func WithNodeID(id types.ID) Option {
	return func(c *nodeConfig) error {
		if id.IsZero() {
			return errors.New("node id cannot be zero")
		}
		c.config.DHT.NodeID = id.String()
		return nil
	}
}

// WithAllowMartians 接受回环、保留等不可路由地址，仅用于本机测试网络
func WithAllowMartians(allow bool) Option {
	return func(c *nodeConfig) error {
		c.config.DHT.AllowMartians = allow
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              引擎参数
// ════════════════════════════════════════════════════════════════════════════

// WithQueryTimeout 设置单次查询的超时与尝试次数
func WithQueryTimeout(timeout time.Duration, attempts int) Option {
	return func(c *nodeConfig) error {
		if timeout <= 0 || attempts <= 0 {
			return errors.New("query timeout and attempts must be positive")
		}
		c.config.DHT.QueryTimeout = config.Duration(timeout)
		c.config.DHT.QueryAttempts = attempts
		return nil
	}
}

// WithPulseInterval 设置后台脉冲间隔
func WithPulseInterval(interval time.Duration) Option {
	return func(c *nodeConfig) error {
		if interval <= 0 {
			return errors.New("pulse interval must be positive")
		}
		c.config.DHT.PulseInterval = config.Duration(interval)
		return nil
	}
}

// WithRateLimit 设置入站请求的全局与单 IP 速率（每秒），0 保留默认值
func WithRateLimit(global, perPeer float64) Option {
	return func(c *nodeConfig) error {
		if global < 0 || perPeer < 0 {
			return errors.New("rate limits must not be negative")
		}
		c.config.DHT.RateLimit = global
		c.config.DHT.PeerRateLimit = perPeer
		return nil
	}
}

// WithClock 注入引擎时钟
func WithClock(clk clock.Clock) Option {
	return func(c *nodeConfig) error {
		c.clock = clk
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              存储与指标
// ════════════════════════════════════════════════════════════════════════════

// WithDataDir 设置持久化目录并启用快照
func WithDataDir(dir string) Option {
	return func(c *nodeConfig) error {
		if dir == "" {
			return errors.New("data dir cannot be empty")
		}
		c.config.Storage.DataDir = dir
		c.config.Storage.InMemory = false
		c.config.DHT.Persist = true
		return nil
	}
}

// WithInMemoryStorage 使用内存存储，重启后需要重新引导
func WithInMemoryStorage() Option {
	return func(c *nodeConfig) error {
		c.config.Storage.InMemory = true
		return nil
	}
}

// WithPersist 是否在停止时保存路由表快照、启动时恢复
func WithPersist(enable bool) Option {
	return func(c *nodeConfig) error {
		c.config.DHT.Persist = enable
		return nil
	}
}

// WithMetrics 启用或禁用 Prometheus 指标
func WithMetrics(enable bool) Option {
	return func(c *nodeConfig) error {
		c.config.Metrics.Enabled = enable
		return nil
	}
}

// WithRegisterer 指定 Prometheus 注册器
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *nodeConfig) error {
		c.registerer = reg
		c.config.Metrics.Enabled = reg != nil
		return nil
	}
}

// WithFxOptions 追加 Fx 选项，用于注入或观察内部组件
func WithFxOptions(opts ...fx.Option) Option {
	return func(c *nodeConfig) error {
		c.userFxOptions = append(c.userFxOptions, opts...)
		return nil
	}
}
