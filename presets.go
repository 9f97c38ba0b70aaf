package kdht

import (
	"time"

	"github.com/dep2p/go-kdht/config"
)

// ════════════════════════════════════════════════════════════════════════════
//                              预设配置
// ════════════════════════════════════════════════════════════════════════════

// Preset 命名的配置预设
type Preset struct {
	// Name 预设名称
	Name string

	// Apply 修改统一配置
	Apply func(cfg *config.Config)
}

// 预设名称常量
const (
	// PresetNameServer 服务器预设名称
	PresetNameServer = "server"

	// PresetNameClient 客户端预设名称
	PresetNameClient = "client"

	// PresetNameTest 测试预设名称
	PresetNameTest = "test"
)

// PresetServer 公网常驻节点
//
// 适用场景：引导节点、长期在线的存储节点
// 特点：
//   - 在 IPv4 与 IPv6 上监听 6881
//   - 停止时保存路由表快照
//   - 更多工作协程
var PresetServer = Preset{
	Name: PresetNameServer,
	Apply: func(cfg *config.Config) {
		cfg.DHT.ListenAddrs = []string{"0.0.0.0:6881", "[::]:6881"}
		cfg.DHT.Workers = 64
		cfg.DHT.Persist = true
	},
}

// PresetClient 短期运行的客户端
//
// 随机端口、内存存储、不持久化。
var PresetClient = Preset{
	Name: PresetNameClient,
	Apply: func(cfg *config.Config) {
		cfg.DHT.ListenAddrs = []string{"0.0.0.0:0"}
		cfg.DHT.Persist = false
		cfg.Storage.InMemory = true
	},
}

// PresetTest 本机测试网络
//
// 仅监听回环地址，接受回环节点，放宽单 IP 限流，缩短脉冲间隔。
var PresetTest = Preset{
	Name: PresetNameTest,
	Apply: func(cfg *config.Config) {
		cfg.DHT.ListenAddrs = []string{"127.0.0.1:0"}
		cfg.DHT.AllowMartians = true
		cfg.DHT.Persist = false
		cfg.DHT.PulseInterval = config.Duration(5 * time.Millisecond)
		cfg.DHT.PollTimeout = config.Duration(4 * time.Millisecond)
		cfg.DHT.QueryTimeout = config.Duration(2 * time.Second)
		cfg.DHT.RateLimit = 10000
		cfg.DHT.RateBurst = 10000
		cfg.DHT.PeerRateLimit = 10000
		cfg.DHT.PeerRateBurst = 10000
		cfg.Storage.InMemory = true
		cfg.Metrics.Enabled = false
	},
}

// PresetByName 按名称查找预设
func PresetByName(name string) (Preset, bool) {
	switch name {
	case PresetNameServer:
		return PresetServer, true
	case PresetNameClient:
		return PresetClient, true
	case PresetNameTest:
		return PresetTest, true
	default:
		return Preset{}, false
	}
}
