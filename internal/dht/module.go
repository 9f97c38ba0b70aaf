package dht

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-kdht/config"
	"github.com/dep2p/go-kdht/internal/core/metrics"
	"github.com/dep2p/go-kdht/internal/core/storage/kv"
)

// Module DHT Fx 模块
var Module = fx.Module("dht",
	fx.Provide(NewFromParams),
	fx.Invoke(registerLifecycle),
)

// Params DHT 依赖参数
type Params struct {
	fx.In

	Config     *Config          `optional:"true"` // 直接提供的引擎配置，优先于统一配置
	UnifiedCfg *config.Config   `optional:"true"`
	Store      *kv.Store        `optional:"true"` // 持久化存储
	Metrics    *metrics.Metrics `optional:"true"`
	Clock      clock.Clock      `optional:"true"`
}

// NewFromParams 从 Fx 参数创建 DHT
func NewFromParams(p Params) (*DHT, error) {
	cfg := p.Config
	if cfg == nil {
		c, err := ConfigFromUnified(p.UnifiedCfg)
		if err != nil {
			return nil, err
		}
		cfg = c
	}

	opts := []Option{WithMetrics(p.Metrics)}
	if p.Store != nil {
		opts = append(opts, WithStore(p.Store))
	}
	if p.Clock != nil {
		opts = append(opts, WithClock(p.Clock))
	}
	return New(cfg, opts...)
}

// registerLifecycle 注册 DHT 生命周期钩子
func registerLifecycle(lc fx.Lifecycle, d *DHT) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := d.Start(ctx); err != nil {
				logger.Error("DHT 启动失败", "err", err)
				return err
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := d.Stop(ctx); err != nil {
				logger.Error("DHT 停止失败", "err", err)
				return err
			}
			return nil
		},
	})
}
