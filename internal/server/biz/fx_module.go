package biz

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("biz",
	fx.Provide(NewCatalogService),
	fx.Provide(NewHealthMonitor),
	fx.Provide(NewRateService),
	fx.Provide(NewAffinityService),
	fx.Provide(NewAdaptiveService),
	fx.Provide(NewAuthService),
	fx.Invoke(func(lc fx.Lifecycle, svc *CatalogService) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return svc.Start(ctx)
			},
		})
	}),
	fx.Invoke(func(lc fx.Lifecycle, monitor *HealthMonitor) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return monitor.Start(ctx)
			},
			OnStop: func(ctx context.Context) error {
				return monitor.Stop(ctx)
			},
		})
	}),
	fx.Invoke(func(lc fx.Lifecycle, svc *RateService) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return svc.Start(ctx)
			},
		})
	}),
)
