package archive

import "go.uber.org/fx"

var Module = fx.Module("archive",
	fx.Provide(New),
)
