// Package kdht 提供 Kademlia DHT 节点与 BEP44 存储
//
// kdht 在 UDP 上实现 BitTorrent 主线 DHT 的 ping、find_node、get、put，
// 路由表为二叉前缀树，存储项支持不可变条目与带签名、序号、CAS 的可变条目。
//
// # 快速开始
//
//	import "github.com/dep2p/go-kdht"
//
//	// 1. 创建并启动节点
//	node, err := kdht.Start(ctx,
//	    kdht.WithPreset(kdht.PresetServer),
//	    kdht.WithDataDir("/var/lib/kdht"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	// 2. 引导
//	if _, err := node.Bootstrap(ctx, "router.example.org:6881"); err != nil {
//	    log.Fatal(err)
//	}
//
//	// 3. 存取条目
//	res, _ := node.PutImmutable(ctx, []byte("hello"))
//	value, _ := node.GetImmutable(ctx, res.ID)
//
// # API 层次结构
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│  入口层                                                          │
//	│  ┌─────────┐                                                     │
//	│  │  Node   │  kdht.New() / kdht.Start()                          │
//	│  └─────────┘                                                     │
//	├─────────────────────────────────────────────────────────────────┤
//	│  引擎层 internal/dht                                             │
//	│  ┌───────┐ ┌──────┐ ┌────────────┐ ┌─────────┐                  │
//	│  │ Pulse │ │ Jobs │ │ Search/Put │ │ Handler │                  │
//	│  └───────┘ └──────┘ └────────────┘ └─────────┘                  │
//	├─────────────────────────────────────────────────────────────────┤
//	│  基础层                                                          │
//	│  routing（路由树） protocol（bencode） item（BEP44） storage      │
//	└─────────────────────────────────────────────────────────────────┘
//
// # 文件组织
//
//   - kdht.go: 版本信息
//   - node.go: Node 结构与构造
//   - node_lifecycle.go: 启动、停止、关闭
//   - node_storage.go: 阻塞式查找与存取接口
//   - options.go / presets.go: 配置选项与预设
//   - fx.go: Fx 应用组装
//
// Node 的所有阻塞方法都接受 context，超时或取消时返回 ctx.Err()，
// 底层作业仍会在引擎中按自身的超时结束。
package kdht
