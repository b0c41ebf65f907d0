package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/surge/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics",
	fx.Provide(
		func(cfg config.Config) Config {
			return Config{ServiceName: cfg.AppName, Environment: cfg.Environment}
		},
		func() prometheus.Registerer { return prometheus.DefaultRegisterer },
		NewPipelineMetrics,
		NewHTTPMetrics,
	),
)
