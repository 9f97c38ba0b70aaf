// Package metrics 提供 DHT 运行指标
//
// 指标分两类：
//   - BandwidthCounter: 进程内原子计数，供引擎 Stats() 直接读取
//   - Prometheus 收集器: 报文、错误码、作业结果、路由表规模、存储项数量
//
// 所有记录方法对 nil *Metrics 安全，未启用指标时引擎传入 nil 即可。
//
// # Fx 模块
//
//	app := fx.New(
//	    fx.Supply(cfg),
//	    metrics.Module,
//	    fx.Provide(func() prometheus.Registerer { return prometheus.DefaultRegisterer }),
//	)
//
// 未提供 Registerer 时注册到独立的 prometheus.Registry，同一进程可以运行多个节点。
package metrics
