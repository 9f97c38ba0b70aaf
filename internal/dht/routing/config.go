package routing

import "time"

// BucketSize 每个桶最多容纳的条目数
const BucketSize = 20

// Config 路由表配置
type Config struct {
	// InactiveTime 条目超过该时间无活动即发送探测
	InactiveTime time.Duration

	// ExpiredTime 桶保持为空超过该时间即向桶中点发起 find_node
	ExpiredTime time.Duration

	// MaxPings 未应答探测达到该次数后条目标记为过期
	MaxPings int

	// RefreshInterval 维护周期
	RefreshInterval time.Duration

	// ProbeInterval 有未完成探测时使用的较短维护周期
	ProbeInterval time.Duration

	// RecycleLowWater 删除队列超过该长度才回收，同时也是空闲池上限
	RecycleLowWater int
}

// DefaultConfig 返回默认路由表配置
func DefaultConfig() Config {
	return Config{
		InactiveTime:    15 * time.Minute,
		ExpiredTime:     15 * time.Minute,
		MaxPings:        3,
		RefreshInterval: time.Minute,
		ProbeInterval:   15 * time.Second,
		RecycleLowWater: 16,
	}
}
