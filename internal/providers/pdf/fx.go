package pdf

import (
	"github.com/smallbiznis/surge/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("pdf.provider",
	fx.Provide(
		NewRendererFromConfig,
		NewMerger,
	),
)

func NewRendererFromConfig(cfg config.Config, log *zap.Logger) Renderer {
	if cfg.Renderer.URL == "" {
		log.Named("pdf").Info("rendering service not configured, using local renderer")
		return NewLocalRenderer()
	}
	return NewHTTPRenderer(cfg.Renderer.URL, cfg.Renderer.Timeout)
}
