package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_DeliversToSubscribers(t *testing.T) {
	hub := NewHub()
	sub, backlog, err := hub.Subscribe(ActorChannel("u1"))
	require.NoError(t, err)
	defer sub.Close()
	assert.Empty(t, backlog)

	require.NoError(t, hub.Emit(context.Background(), "actor:u1", EventProgress, map[string]int{"completed": 1}))

	select {
	case event := <-sub.Events():
		assert.Equal(t, "actor:u1", event.Channel)
		assert.Equal(t, EventProgress, event.Name)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestHub_BacklogForLateSubscriber(t *testing.T) {
	hub := NewHub()
	first, _, err := hub.Subscribe("actor:u1")
	require.NoError(t, err)
	defer first.Close()

	for i := 0; i < DefaultBufferSize+5; i++ {
		require.NoError(t, hub.Emit(context.Background(), "actor:u1", EventProgress, i))
	}

	second, backlog, err := hub.Subscribe("actor:u1")
	require.NoError(t, err)
	defer second.Close()

	require.Len(t, backlog, DefaultBufferSize)
	assert.Equal(t, 5, backlog[0].Payload)
}

func TestHub_DropsWithoutSubscribersAndCleansUp(t *testing.T) {
	hub := NewHub()
	require.NoError(t, hub.Emit(context.Background(), "actor:nobody", EventAllDone, nil))

	sub, backlog, err := hub.Subscribe("actor:nobody")
	require.NoError(t, err)
	assert.Empty(t, backlog)
	sub.Close()
	sub.Close()

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	assert.Empty(t, hub.streams)
}

func TestHub_RejectsEmptyChannel(t *testing.T) {
	hub := NewHub()
	assert.ErrorIs(t, hub.Emit(context.Background(), " ", EventProgress, nil), ErrInvalidChannel)
	_, _, err := hub.Subscribe("")
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

type failingEmitter struct{}

func (failingEmitter) Emit(context.Context, string, string, any) error {
	return errors.New("broker down")
}

func TestMulti_DeliversDespiteFailures(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe("actor:u1")
	require.NoError(t, err)
	defer sub.Close()

	err = Multi{failingEmitter{}, hub}.Emit(context.Background(), "actor:u1", EventAllDone, nil)
	assert.ErrorContains(t, err, "broker down")

	select {
	case event := <-sub.Events():
		assert.Equal(t, EventAllDone, event.Name)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "actor.42", RoutingKey(ActorChannel("42")))
}
