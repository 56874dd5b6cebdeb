// Package events fans order events out to push connections and downstream
// consumers. With Redis configured every server instance receives every event
// through pub/sub and delivers it to its own connections.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"foodflow/internal/delivery/model"
)

// Logger is the logging interface used by the broker.
type Logger interface {
	Infof(string, ...interface{})
	Errorf(string, ...interface{})
}

// Deliverer hands an event to locally connected push clients.
type Deliverer interface {
	Deliver(topics []model.Topic, ev model.Event)
}

// Sink receives a copy of every event, e.g. a message queue.
type Sink interface {
	Publish(ctx context.Context, topics []model.Topic, ev model.Event) error
}

type envelope struct {
	Topics []model.Topic `json:"topics"`
	Event  model.Event   `json:"event"`
}

// Broker publishes events. It satisfies the service Publisher interface.
type Broker struct {
	local   Deliverer
	rdb     *redis.Client
	channel string
	sinks   []Sink
	logger  Logger
}

// NewBroker builds a broker. rdb may be nil, in which case events are only
// delivered to local connections.
func NewBroker(local Deliverer, rdb *redis.Client, channel string, logger Logger, sinks ...Sink) *Broker {
	if channel == "" {
		channel = "foodflow:events"
	}
	return &Broker{local: local, rdb: rdb, channel: channel, sinks: sinks, logger: logger}
}

// Publish distributes ev to topics. A Redis failure falls back to local
// delivery so that at least this instance's clients are notified.
func (b *Broker) Publish(ctx context.Context, topics []model.Topic, ev model.Event) error {
	var errs error
	if b.rdb == nil {
		b.deliver(topics, ev)
	} else {
		payload, err := json.Marshal(envelope{Topics: topics, Event: ev})
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("redis publish: %w", err))
			b.deliver(topics, ev)
		}
	}
	for _, s := range b.sinks {
		errs = multierr.Append(errs, s.Publish(ctx, topics, ev))
	}
	return errs
}

func (b *Broker) deliver(topics []model.Topic, ev model.Event) {
	if b.local != nil {
		b.local.Deliver(topics, ev)
	}
}

// Run relays events from Redis to local connections until ctx is done.
func (b *Broker) Run(ctx context.Context) error {
	if b.rdb == nil {
		<-ctx.Done()
		return nil
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	if b.logger != nil {
		b.logger.Infof("events: listening on %s", b.channel)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handleMessage(msg.Payload)
		}
	}
}

func (b *Broker) handleMessage(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		if b.logger != nil {
			b.logger.Errorf("events: bad payload: %v", err)
		}
		return
	}
	if len(env.Topics) == 0 {
		return
	}
	b.deliver(env.Topics, env.Event)
}
