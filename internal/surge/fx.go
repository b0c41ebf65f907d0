package surge

import (
	"github.com/smallbiznis/surge/internal/surge/repository"
	"github.com/smallbiznis/surge/internal/surge/service"
	"go.uber.org/fx"
)

var Module = fx.Module("surge.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
