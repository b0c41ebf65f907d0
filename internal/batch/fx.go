package batch

import (
	"context"

	"github.com/smallbiznis/surge/internal/archive"
	"github.com/smallbiznis/surge/internal/packet"
	"github.com/smallbiznis/surge/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("batch",
	fx.Provide(
		func(a *packet.Assembler) Builder { return a },
		func(a *archive.Aggregator) Archiver { return a },
		func(l *ratelimit.PrepareLimiter) Limiter { return l },
		NewOrchestrator,
	),
	fx.Invoke(registerShutdown),
)

// registerShutdown lets in-flight batches finish before the process exits.
func registerShutdown(lc fx.Lifecycle, o *Orchestrator) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return o.Wait(ctx)
		},
	})
}
