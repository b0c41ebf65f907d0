package report

import (
	"github.com/smallbiznis/surge/internal/report/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("report.domain",
	fx.Provide(repository.Provide),
)
