package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"foodflow/internal/delivery/model"
)

// AMQPSink copies every event to a durable fanout exchange with publisher
// confirms.
type AMQPSink struct {
	exchange string
	conn     *amqp.Connection
	ch       *amqp.Channel
	acks     <-chan amqp.Confirmation

	mu sync.Mutex
}

// DialAMQP connects to url and declares exchange.
func DialAMQP(url, exchange string) (*AMQPSink, error) {
	if exchange == "" {
		exchange = "order_events_fanout"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp confirm: %w", err)
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return &AMQPSink{exchange: exchange, conn: conn, ch: ch, acks: acks}, nil
}

// Publish sends ev and waits for the broker confirm.
func (s *AMQPSink) Publish(ctx context.Context, topics []model.Topic, ev model.Event) error {
	msg, err := buildPublishing(topics, ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ch.PublishWithContext(ctx, s.exchange, "", false, false, msg); err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	select {
	case conf := <-s.acks:
		if conf.Ack {
			return nil
		}
		return errors.New("amqp publish NACK from broker")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildPublishing(topics []model.Topic, ev model.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	names := make([]string, len(topics))
	for i, t := range topics {
		names[i] = string(t)
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	return amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		ContentType:   "application/json",
		MessageId:     ev.ID,
		CorrelationId: fmt.Sprintf("order-%d", ev.OrderID),
		Type:          string(ev.Type),
		Timestamp:     at.UTC(),
		Headers: amqp.Table{
			"x-source": "foodflow",
			"x-topics": strings.Join(names, ","),
		},
		Body: body,
	}, nil
}

// Ping reports whether the connection is still open.
func (s *AMQPSink) Ping() error {
	if s.conn == nil || s.conn.IsClosed() {
		return errors.New("amqp connection is closed")
	}
	return nil
}

// Close releases the channel and connection.
func (s *AMQPSink) Close() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
