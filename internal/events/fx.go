package events

import (
	"context"

	"github.com/smallbiznis/surge/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(
		NewHub,
		NewEmitter,
	),
)

type EmitterParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Hub       *Hub
	Log       *zap.Logger
}

// NewEmitter always delivers to the in-process hub and also publishes to AMQP
// when a broker is configured.
func NewEmitter(p EmitterParams) (Emitter, error) {
	if p.Config.Events.AMQPURL == "" {
		return p.Hub, nil
	}
	broker, err := NewAMQPEmitter(p.Config.Events.AMQPURL, p.Config.Events.AMQPExchange, p.Log)
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return broker.Close()
		},
	})
	return Multi{p.Hub, broker}, nil
}
