// Package storage 提供 DHT 持久化存储的 Fx 模块
//
// 路由表快照和本地存储项都写入同一个 BadgerDB 实例，通过 kv.Store 的前缀隔离。
//
// # 键空间设计
//
//	前缀        | 使用方          | 说明
//	------------|-----------------|---------------------------
//	d/rt/<族>   | dht 快照        | 按地址族的路由表（s2 压缩）
//	d/i/<id>    | item.Store      | BEP44 条目记录（protowire 编码）
//
// # 使用示例
//
// 使用 Fx 依赖注入：
//
//	app := fx.New(
//	    fx.Supply(cfg),
//	    storage.Module(),
//	    dht.Module,
//	)
//
// 手动创建：
//
//	eng, err := storage.NewEngine(storage.Config{InMemory: true})
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//	store := kv.New(eng, storage.DHTPrefix)
//
// 未启用持久化时仍然提供内存引擎，引擎与条目存储的接线方式不变。
package storage
