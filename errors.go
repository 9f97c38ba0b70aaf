package kdht

import (
	"errors"

	"github.com/dep2p/go-kdht/internal/dht"
)

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 节点生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotStarted 节点未启动
	ErrNotStarted = errors.New("node not started")

	// ErrAlreadyStarted 节点已启动
	ErrAlreadyStarted = errors.New("node already started")

	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("node closed")

	// ────────────────────────────────────────────────────────────────────────
	// 存取错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotFound 网络中没有找到条目
	ErrNotFound = dht.ErrNotFound

	// ErrNotPublished 没有任何节点接受条目
	ErrNotPublished = errors.New("item not published to any node")

	// ErrNoSeeds 没有可用的引导地址
	ErrNoSeeds = errors.New("no bootstrap seeds")

	// ErrNoResponse 引导地址均未应答
	ErrNoResponse = errors.New("no bootstrap seed responded")
)
