package kdht

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-kdht/internal/core/metrics"
	"github.com/dep2p/go-kdht/internal/core/storage"
	"github.com/dep2p/go-kdht/internal/dht"
	"github.com/dep2p/go-kdht/pkg/lib/log"
)

var fxLogger = log.Logger("kdht/fx")

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. 配置注入
//  2. Storage: BadgerDB 引擎与 KV 存储
//  3. Metrics: Prometheus 指标（禁用时提供 nil）
//  4. DHT: 引擎，OnStart 绑定端点、恢复快照、启动脉冲循环
//  5. 用户扩展与 Node 组件注入
func buildFxApp(cfg *nodeConfig, node *Node) (*fx.App, error) {
	// ════════════════════════════════════════════════════════════════════════
	// 1. 配置验证（前置）
	// ════════════════════════════════════════════════════════════════════════
	if err := cfg.config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	modules := []fx.Option{
		fx.Supply(cfg.config),
	}

	// ════════════════════════════════════════════════════════════════════════
	// 2. 存储与指标
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, storage.Module(), metrics.Module)
	if cfg.registerer != nil {
		reg := cfg.registerer
		modules = append(modules, fx.Provide(func() prometheus.Registerer { return reg }))
	}
	if cfg.clock != nil {
		clk := cfg.clock
		modules = append(modules, fx.Provide(func() clock.Clock { return clk }))
	}

	// ════════════════════════════════════════════════════════════════════════
	// 3. DHT 引擎
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, dht.Module)

	// ════════════════════════════════════════════════════════════════════════
	// 4. 用户扩展（Fx Options）
	// ════════════════════════════════════════════════════════════════════════
	if len(cfg.userFxOptions) > 0 {
		modules = append(modules, cfg.userFxOptions...)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 5. Node 组件注入
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, fx.Invoke(injectNodeComponents(node)))

	// 禁用 Fx 日志输出（避免干扰用户日志）
	modules = append(modules,
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		fxLogger.Error("构建 Fx 应用失败", "error", err)
		return nil, err
	}
	return app, nil
}

// nodeInjectParams Node 组件注入参数
type nodeInjectParams struct {
	fx.In

	DHT *dht.DHT
}

// injectNodeComponents 创建 Node 组件注入函数
func injectNodeComponents(node *Node) interface{} {
	return func(params nodeInjectParams) {
		node.dht = params.DHT
	}
}
