package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// AMQPEmitter publishes events as JSON to a topic exchange. The routing key
// is the channel with ':' replaced by '.', so "actor:42" routes as "actor.42".
type AMQPEmitter struct {
	exchange string
	log      *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPEmitter(url, exchange string, log *zap.Logger) (*AMQPEmitter, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("amqp url is required")
	}
	if strings.TrimSpace(exchange) == "" {
		return nil, errors.New("amqp exchange is required")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPEmitter{
		exchange: exchange,
		log:      log.Named("events.amqp"),
		conn:     conn,
		ch:       ch,
	}, nil
}

func (e *AMQPEmitter) Emit(ctx context.Context, channel, name string, payload any) error {
	body, err := json.Marshal(Event{
		Channel:   channel,
		Name:      name,
		Payload:   payload,
		EmittedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ch == nil {
		return errors.New("amqp emitter closed")
	}
	err = e.ch.Publish(
		e.exchange,
		RoutingKey(channel),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Type:        name,
			Timestamp:   time.Now().UTC(),
			Body:        body,
		},
	)
	if err != nil {
		e.log.Warn("publish event failed", zap.String("channel", channel), zap.String("event", name), zap.Error(err))
		return err
	}
	return nil
}

func (e *AMQPEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ch == nil {
		return nil
	}
	chErr := e.ch.Close()
	connErr := e.conn.Close()
	e.ch = nil
	e.conn = nil
	return errors.Join(chErr, connErr)
}

func RoutingKey(channel string) string {
	return strings.ReplaceAll(strings.TrimSpace(channel), ":", ".")
}
