package metrics

import (
	"github.com/dep2p/go-kdht/config"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Params Metrics 依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config         `optional:"true"`
	Registerer prometheus.Registerer `optional:"true"`
}

// Module 是 metrics 的 Fx 模块
//
// 未提供 Registerer 时使用独立的 prometheus.Registry，
// 避免多个节点实例在同一进程中重复注册。
var Module = fx.Module("metrics",
	fx.Provide(NewFromParams),
)

// NewFromParams 从参数创建 Metrics
//
// 指标被禁用时返回 nil，引擎的所有记录调用都会直接返回。
func NewFromParams(p Params) (*Metrics, error) {
	cfg := config.DefaultMetricsConfig()
	if p.UnifiedCfg != nil {
		cfg = p.UnifiedCfg.Metrics
	}
	if !cfg.Enabled {
		return nil, nil
	}

	reg := p.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return New(cfg.Namespace, reg)
}
