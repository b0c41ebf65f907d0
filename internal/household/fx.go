package household

import (
	"github.com/smallbiznis/surge/internal/household/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("household.domain",
	fx.Provide(repository.Provide),
)
