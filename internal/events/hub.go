package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 64
)

var (
	ErrHubUnavailable = errors.New("hub_unavailable")
	ErrInvalidChannel = errors.New("invalid_channel")
)

// Hub keeps a short backlog per channel and pushes new events to in-process
// subscribers. Slow subscribers miss events rather than block publishers.
type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []Event
	subs   map[uint64]chan Event
	nextID uint64
}

type Subscription struct {
	hub     *Hub
	channel string
	id      uint64
	ch      chan Event
	once    sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

func (h *Hub) Emit(ctx context.Context, channel, name string, payload any) error {
	if h == nil {
		return ErrHubUnavailable
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return ErrInvalidChannel
	}
	h.Publish(Event{
		Channel:   channel,
		Name:      name,
		Payload:   payload,
		EmittedAt: time.Now().UTC(),
	})
	return nil
}

// Publish records the event in the channel backlog and forwards it to
// current subscribers. Events for channels nobody watches are dropped.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	current := h.streams[event.Channel]
	h.mu.RUnlock()
	if current == nil {
		return
	}

	current.mu.Lock()
	current.buffer = append(current.buffer, event)
	if len(current.buffer) > h.bufferSize {
		current.buffer = current.buffer[len(current.buffer)-h.bufferSize:]
	}
	subs := make([]chan Event, 0, len(current.subs))
	for _, ch := range current.subs {
		subs = append(subs, ch)
	}
	current.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a live subscription plus the backlog recorded while the
// channel had other subscribers.
func (h *Hub) Subscribe(channel string) (*Subscription, []Event, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, nil, ErrInvalidChannel
	}

	h.mu.Lock()
	current := h.streams[channel]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan Event)}
		h.streams[channel] = current
	}
	current.mu.Lock()
	id := current.nextID
	current.nextID++
	ch := make(chan Event, h.subscriberBuffer)
	current.subs[id] = ch
	backlog := append([]Event(nil), current.buffer...)
	current.mu.Unlock()
	h.mu.Unlock()

	return &Subscription{hub: h, channel: channel, id: id, ch: ch}, backlog, nil
}

func (h *Hub) unsubscribe(channel string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	current := h.streams[channel]
	if current == nil {
		return
	}
	current.mu.Lock()
	delete(current.subs, id)
	empty := len(current.subs) == 0
	current.mu.Unlock()
	if empty {
		delete(h.streams, channel)
	}
}

func (s *Subscription) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.channel, s.id)
	})
}
