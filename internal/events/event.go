package events

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	EventProgress = "progress"
	EventAllDone  = "allDone"
)

// Event is one message on an actor channel.
type Event struct {
	Channel   string    `json:"channel"`
	Name      string    `json:"event"`
	Payload   any       `json:"data"`
	EmittedAt time.Time `json:"emitted_at"`
}

// Emitter delivers events to an actor channel. Delivery is best effort.
type Emitter interface {
	Emit(ctx context.Context, channel, name string, payload any) error
}

// ActorChannel names the channel an actor's progress events are sent to.
func ActorChannel(actorID string) string {
	return "actor:" + strings.TrimSpace(actorID)
}

// Multi fans an event out to every emitter and joins their errors.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, channel, name string, payload any) error {
	var errs []error
	for _, emitter := range m {
		if emitter == nil {
			continue
		}
		if err := emitter.Emit(ctx, channel, name, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
