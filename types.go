package kdht

import (
	"github.com/dep2p/go-kdht/internal/dht"
	"github.com/dep2p/go-kdht/internal/dht/protocol"
	"github.com/dep2p/go-kdht/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              节点状态
// ════════════════════════════════════════════════════════════════════════════

// NodeState 节点状态
type NodeState int

const (
	// StateIdle 已创建，未启动
	StateIdle NodeState = iota

	// StateStarting 启动中（Fx App 启动中）
	StateStarting

	// StateRunning 运行中
	StateRunning

	// StateStopping 停止中
	StateStopping

	// StateStopped 已停止
	StateStopped
)

// String 返回状态的字符串表示
func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              类型别名
// ════════════════════════════════════════════════════════════════════════════

// ID 160 位节点或条目标识符
type ID = types.ID

// Family 地址族
type Family = types.Family

// 地址族
const (
	FamilyIPv4 = types.FamilyIPv4
	FamilyIPv6 = types.FamilyIPv6
)

// NodeInfo 查找结果中的节点（ID 与 UDP 地址）
type NodeInfo = protocol.NodeInfo

// Stats 引擎统计
type Stats = dht.Stats

// ParseID 解析十六进制 ID
func ParseID(s string) (ID, error) {
	return types.ParseID(s)
}

// ════════════════════════════════════════════════════════════════════════════
//                              存取结果
// ════════════════════════════════════════════════════════════════════════════

// PutResult 条目发布结果
type PutResult struct {
	// ID 条目标识符
	ID ID

	// Seq 可变条目的序号，不可变条目为 0
	Seq int64

	// Nodes 查找到的最近节点数
	Nodes int

	// Published 成功写入（或已是最新）的节点数
	Published int
}

// MutableValue 可变条目的查询结果
type MutableValue struct {
	// Value 条目值
	Value []byte

	// Seq 序号
	Seq int64

	// Responses 给出应答的节点数
	Responses int
}
