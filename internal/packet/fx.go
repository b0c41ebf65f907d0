package packet

import "go.uber.org/fx"

var Module = fx.Module("packet",
	fx.Provide(NewAssembler),
)
