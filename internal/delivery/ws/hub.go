package ws

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"foodflow/internal/delivery/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	// sendBuffer is how many events a connection may lag behind before it
	// is dropped. The client resyncs when it reconnects.
	sendBuffer = 64
)

// Logger defines minimal logging interface required by the hub.
type Logger interface {
	Infof(string, ...interface{})
	Errorf(string, ...interface{})
}

type client struct {
	id      int64
	role    model.Role
	actorID int64
	conn    *websocket.Conn
	write   sync.Mutex
	topics  map[model.Topic]struct{}
	send    chan []byte
	done    chan struct{}
	closing sync.Once
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Connections int64
	Delivered   int64
	Rejected    int64
	Dropped     int64
}

// Hub keeps push connections and the topics each of them subscribed to.
// An actor may hold several connections at once.
type Hub struct {
	logger   Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[int64]*client
	topics  map[model.Topic]map[int64]*client

	nextID    atomic.Int64
	open      atomic.Int64
	delivered atomic.Int64
	rejected  atomic.Int64
	dropped   atomic.Int64
}

// NewHub constructs an empty hub.
func NewHub(logger Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[int64]*client),
		topics:  make(map[model.Topic]map[int64]*client),
	}
}

// ServeWS upgrades the request. The caller is identified by the role query
// parameter and either its identity header or the actor_id parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	role, actorID, ok := identify(r)
	if !ok {
		http.Error(w, "missing role or actor_id", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("push ws upgrade failed: %v", err)
		}
		return
	}

	c := &client{
		id:      h.nextID.Inc(),
		role:    role,
		actorID: actorID,
		conn:    conn,
		topics:  make(map[model.Topic]struct{}),
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.open.Inc()

	if h.logger != nil {
		h.logger.Infof("push %s %d connected", role, actorID)
	}

	go h.writeLoop(c)
	go h.pingLoop(c)
	go h.readLoop(c)
}

func identify(r *http.Request) (model.Role, int64, bool) {
	role, ok := model.ParseRole(r.URL.Query().Get("role"))
	if !ok {
		return "", 0, false
	}
	raw := strings.TrimSpace(r.Header.Get(role.Header()))
	if raw == "" {
		raw = r.URL.Query().Get("actor_id")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, false
	}
	return role, id, true
}

func (h *Hub) pingLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		if !h.alive(c) {
			return
		}
		h.safeWrite(c, func(conn *websocket.Conn) error {
			return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		})
	}
}

// writeLoop drains queued events so publishers never wait on a socket.
func (h *Hub) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			h.safeWrite(c, func(conn *websocket.Conn) error {
				return conn.WriteMessage(websocket.TextMessage, data)
			})
		}
	}
}

func (h *Hub) readLoop(c *client) {
	defer h.closeClient(c)

	conn := c.conn
	conn.SetReadLimit(16 << 10)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if mt != websocket.TextMessage {
			continue
		}
		trimmed := strings.TrimSpace(string(message))
		if strings.EqualFold(trimmed, "ping") {
			h.safeWrite(c, func(conn *websocket.Conn) error {
				return conn.WriteMessage(websocket.TextMessage, []byte("pong"))
			})
			continue
		}
		var cmd model.Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}
		h.handle(c, cmd)
	}
}

func (h *Hub) handle(c *client, cmd model.Command) {
	topic, err := model.ParseTopic(string(cmd.Topic))
	if err != nil {
		h.rejected.Inc()
		return
	}
	switch cmd.Action {
	case model.ActionSubscribe:
		if !mayJoin(c.role, c.actorID, topic) {
			h.rejected.Inc()
			if h.logger != nil {
				h.logger.Infof("push %s %d denied topic %s", c.role, c.actorID, topic)
			}
			return
		}
		h.mu.Lock()
		c.topics[topic] = struct{}{}
		subs := h.topics[topic]
		if subs == nil {
			subs = make(map[int64]*client)
			h.topics[topic] = subs
		}
		subs[c.id] = c
		h.mu.Unlock()
	case model.ActionUnsubscribe:
		h.mu.Lock()
		h.leave(c, topic)
		h.mu.Unlock()
	}
}

// mayJoin restricts actor and role topics to their owners. Order topics only
// carry ids and statuses and are open to every identified caller.
func mayJoin(role model.Role, actorID int64, topic model.Topic) bool {
	if role == model.RoleAdmin {
		return true
	}
	parts := strings.Split(string(topic), ":")
	switch parts[0] {
	case "order":
		return true
	case "role":
		return parts[1] == string(role)
	case "actor":
		return parts[1] == string(role) && parts[2] == strconv.FormatInt(actorID, 10)
	}
	return false
}

// leave must be called with h.mu held.
func (h *Hub) leave(c *client, topic model.Topic) {
	delete(c.topics, topic)
	if subs := h.topics[topic]; subs != nil {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

func (h *Hub) alive(c *client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[c.id] == c
}

func (h *Hub) closeClient(c *client) {
	c.closing.Do(func() { close(c.done) })
	_ = c.conn.Close()
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	for topic := range c.topics {
		h.leave(c, topic)
	}
	h.mu.Unlock()
	h.open.Dec()
}

func (h *Hub) safeWrite(c *client, fn func(*websocket.Conn) error) {
	c.write.Lock()
	defer c.write.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := fn(c.conn); err != nil {
		if h.logger != nil {
			h.logger.Errorf("push %s %d write failed: %v", c.role, c.actorID, err)
		}
		h.closeClient(c)
	}
}

// Deliver queues ev once for every connection subscribed to at least one of
// topics. It does not block: a connection whose queue is full is dropped.
func (h *Hub) Deliver(topics []model.Topic, ev model.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("push marshal failed: %v", err)
		}
		return
	}
	h.mu.RLock()
	targets := make(map[int64]*client)
	for _, t := range topics {
		for id, c := range h.topics[t] {
			targets[id] = c
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
			h.delivered.Inc()
		default:
			h.dropped.Inc()
			if h.logger != nil {
				h.logger.Errorf("push %s %d is too slow, dropping connection", c.role, c.actorID)
			}
			h.closeClient(c)
		}
	}
}

// Subscribers returns how many connections listen on topic.
func (h *Hub) Subscribers(topic model.Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Stats reports hub counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Connections: h.open.Load(),
		Delivered:   h.delivered.Load(),
		Rejected:    h.rejected.Load(),
		Dropped:     h.dropped.Load(),
	}
}
