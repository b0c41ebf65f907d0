package storage

import (
	"github.com/smallbiznis/surge/internal/clock"
	"github.com/smallbiznis/surge/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("storage",
	fx.Provide(
		func(cfg config.Config) (Storage, error) {
			return NewFileStorage(cfg.Storage.Dir)
		},
		func(cfg config.Config, clk clock.Clock) (*Signer, error) {
			return NewSigner(cfg.Storage.SigningKey, cfg.Storage.PublicBaseURL, clk)
		},
	),
)
