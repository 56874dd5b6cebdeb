package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"golang.org/x/exp/rand"

	"foodflow/internal/delivery/model"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	reconnectDelay  = 2 * time.Second
	eventBufferSize = 256
	dedupeWindow    = 512
)

// ErrClosed is returned by a push client after Run has returned.
var ErrClosed = errors.New("push client closed")

// PushStats is a point-in-time view of a push client.
type PushStats struct {
	Connected  bool
	Reconnects int64
	Duplicates int64
	Received   int64
}

// PushClient keeps a websocket to the push endpoint, re-subscribing after
// reconnects. Events with an id seen recently are dropped.
type PushClient struct {
	endpoint string
	header   http.Header
	dialer   *websocket.Dialer
	logger   Logger
	delay    time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	topics map[model.Topic]struct{}
	writes sync.Mutex

	events chan model.Event
	seen   *dedupe

	connected  atomic.Bool
	closed     atomic.Bool
	reconnects atomic.Int64
	duplicates atomic.Int64
	received   atomic.Int64
}

// NewPushClient builds a client for baseURL (http or ws scheme).
func NewPushClient(baseURL string, id Identity, logger Logger) (*PushClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse push url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	q := u.Query()
	q.Set("role", string(id.Role))
	q.Set("actor_id", strconv.FormatInt(id.ActorID, 10))
	u.RawQuery = q.Encode()

	header := http.Header{}
	id.apply(header)
	return &PushClient{
		endpoint: u.String(),
		header:   header,
		dialer:   websocket.DefaultDialer,
		logger:   logger,
		delay:    reconnectDelay,
		topics:   make(map[model.Topic]struct{}),
		events:   make(chan model.Event, eventBufferSize),
		seen:     newDedupe(dedupeWindow),
	}, nil
}

// SetReconnectDelay overrides the fixed pause between connection attempts.
func (p *PushClient) SetReconnectDelay(d time.Duration) {
	if d > 0 {
		p.delay = d
	}
}

// Events delivers decoded push events. The channel is closed when Run returns.
func (p *PushClient) Events() <-chan model.Event { return p.events }

// Stats reports connection counters.
func (p *PushClient) Stats() PushStats {
	return PushStats{
		Connected:  p.connected.Load(),
		Reconnects: p.reconnects.Load(),
		Duplicates: p.duplicates.Load(),
		Received:   p.received.Load(),
	}
}

// Subscribe adds a topic. Subscribing to a known topic is a no-op.
func (p *PushClient) Subscribe(topic model.Topic) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.mu.Lock()
	if _, ok := p.topics[topic]; ok {
		p.mu.Unlock()
		return nil
	}
	p.topics[topic] = struct{}{}
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return nil
	}
	return p.send(conn, model.Command{Action: model.ActionSubscribe, Topic: topic})
}

// Unsubscribe drops a topic. Unknown topics are ignored.
func (p *PushClient) Unsubscribe(topic model.Topic) error {
	p.mu.Lock()
	if _, ok := p.topics[topic]; !ok {
		p.mu.Unlock()
		return nil
	}
	delete(p.topics, topic)
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return nil
	}
	return p.send(conn, model.Command{Action: model.ActionUnsubscribe, Topic: topic})
}

// Run connects and reads until ctx is done, reconnecting after a fixed delay.
// After every reconnect a resync event is emitted since events may have been
// missed while disconnected.
func (p *PushClient) Run(ctx context.Context) error {
	defer func() {
		p.closed.Store(true)
		close(p.events)
	}()
	first := true
	for {
		if err := p.session(ctx, first); err != nil && ctx.Err() == nil && p.logger != nil {
			p.logger.Errorf("push session ended: %v", err)
		}
		first = false
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(p.delay)):
		}
	}
}

func (p *PushClient) session(ctx context.Context, first bool) error {
	conn, _, err := p.dialer.DialContext(ctx, p.endpoint, p.header)
	if err != nil {
		return fmt.Errorf("dial push: %w", err)
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = conn.Close()
		case <-stop:
		}
	}()

	p.mu.Lock()
	p.conn = conn
	topics := make([]model.Topic, 0, len(p.topics))
	for t := range p.topics {
		topics = append(topics, t)
	}
	p.mu.Unlock()
	p.connected.Store(true)
	defer func() {
		p.connected.Store(false)
		p.mu.Lock()
		if p.conn == conn {
			p.conn = nil
		}
		p.mu.Unlock()
		_ = conn.Close()
	}()

	for _, t := range topics {
		if err := p.send(conn, model.Command{Action: model.ActionSubscribe, Topic: t}); err != nil {
			return err
		}
	}
	if !first {
		p.reconnects.Inc()
		if p.logger != nil {
			p.logger.Infof("push reconnected, resubscribed %d topics", len(topics))
		}
		if !p.deliver(ctx, model.Event{ID: uuid.NewString(), Type: model.EventResync, At: time.Now()}) {
			return ctx.Err()
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if mt != websocket.TextMessage || len(data) == 0 || data[0] != '{' {
			continue
		}
		var ev model.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			if p.logger != nil {
				p.logger.Errorf("push decode failed: %v", err)
			}
			continue
		}
		p.received.Inc()
		if ev.ID != "" && !p.seen.add(ev.ID) {
			p.duplicates.Inc()
			continue
		}
		if !p.deliver(ctx, ev) {
			return ctx.Err()
		}
	}
}

func (p *PushClient) deliver(ctx context.Context, ev model.Event) bool {
	select {
	case p.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *PushClient) send(conn *websocket.Conn, cmd model.Command) error {
	p.writes.Lock()
	defer p.writes.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("push %s %s: %w", cmd.Action, cmd.Topic, err)
	}
	return nil
}

// jitter spreads reconnects of many clients by up to a fifth of d.
func jitter(d time.Duration) time.Duration {
	spread := int64(d) / 5
	if spread <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(spread))
}

// dedupe remembers the last n event ids.
type dedupe struct {
	mu   sync.Mutex
	ids  map[string]struct{}
	ring []string
	next int
}

func newDedupe(n int) *dedupe {
	return &dedupe{ids: make(map[string]struct{}, n), ring: make([]string, n)}
}

// add reports whether id was not seen before.
func (d *dedupe) add(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.ids[id]; ok {
		return false
	}
	if old := d.ring[d.next]; old != "" {
		delete(d.ids, old)
	}
	d.ring[d.next] = id
	d.ids[id] = struct{}{}
	d.next = (d.next + 1) % len(d.ring)
	return true
}

var _ Subscriber = (*PushClient)(nil)
