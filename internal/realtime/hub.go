package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/wolfman30/lumen-clinic/internal/changes"
	"github.com/wolfman30/lumen-clinic/internal/observability/metrics"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

// ClientMessage is what a client sends.
type ClientMessage struct {
	Action string `json:"action"` // "subscribe", "unsubscribe", "ping"
	ID     string `json:"id,omitempty"`
	Topic  string `json:"topic,omitempty"`
	Params Params `json:"params,omitempty"`
}

// ServerMessage is what the hub sends.
type ServerMessage struct {
	Type  string `json:"type"` // "snapshot", "unsubscribed", "error", "pong"
	ID    string `json:"id,omitempty"`
	Topic string `json:"topic,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	At    string `json:"at,omitempty"`
}

const (
	resolveTimeout = 10 * time.Second
	maxSubsPerConn = 32
)

// Hub serves subscription connections and refreshes them from a Broker.
type Hub struct {
	registry       *Registry
	broker         Broker
	allowedOrigins []string
	metrics        *metrics.RealtimeMetrics
	logger         *logging.Logger

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// HubOption customizes the hub.
type HubOption func(*Hub)

// WithAllowedOrigins restricts WebSocket origins. Empty allows any.
func WithAllowedOrigins(origins []string) HubOption {
	return func(h *Hub) { h.allowedOrigins = origins }
}

func WithMetrics(m *metrics.RealtimeMetrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

func NewHub(registry *Registry, broker Broker, logger *logging.Logger, opts ...HubOption) *Hub {
	if registry == nil || broker == nil {
		panic("realtime: registry and broker required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	h := &Hub{registry: registry, broker: broker, logger: logger, conns: map[*conn]struct{}{}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run forwards broker changes to connections until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	stream, err := h.broker.Subscribe(ctx)
	if err != nil {
		return err
	}
	h.logger.Info("realtime hub started")
	for change := range stream {
		h.dispatch(change)
	}
	h.logger.Info("realtime hub stopped")
	return ctx.Err()
}

func (h *Hub) dispatch(change changes.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.invalidate(change.Collection)
	}
}

// Connections reports open connections.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// ServeHTTP upgrades the request to a subscription connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	srv := websocket.Server{
		Handshake: h.handshake,
		Handler: func(ws *websocket.Conn) {
			h.serve(r.Context(), ws)
		},
	}
	srv.ServeHTTP(w, r)
}

func (h *Hub) handshake(cfg *websocket.Config, r *http.Request) error {
	origin, err := websocket.Origin(cfg, r)
	if err != nil {
		return err
	}
	cfg.Origin = origin
	if len(h.allowedOrigins) == 0 {
		return nil
	}
	if origin == nil || !originAllowed(h.allowedOrigins, origin) {
		return errors.New("origin not allowed")
	}
	return nil
}

func originAllowed(allowed []string, origin *url.URL) bool {
	got := strings.TrimSuffix(origin.Scheme+"://"+origin.Host, "/")
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(strings.TrimSuffix(a, "/"), got) {
			return true
		}
	}
	return false
}

func (h *Hub) serve(ctx context.Context, ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := newConn(ctx, ws, h)
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.ConnectionOpened()
	defer func() {
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
		h.metrics.ConnectionClosed()
	}()

	go c.refreshLoop()
	h.logger.Debug("realtime connection opened", "remote_addr", ws.Request().RemoteAddr)

	for {
		var msg ClientMessage
		if err := websocket.JSON.Receive(ws, &msg); err != nil {
			h.logger.Debug("realtime connection closed", "error", err)
			return
		}
		c.handle(msg)
	}
}

type subscription struct {
	id     string
	name   string
	topic  Topic
	params Params
}

type conn struct {
	ctx context.Context
	ws  *websocket.Conn
	hub *Hub

	sendMu sync.Mutex

	mu    sync.Mutex
	subs  map[string]*subscription
	dirty map[changes.Collection]bool
	wake  chan struct{}
}

func newConn(ctx context.Context, ws *websocket.Conn, hub *Hub) *conn {
	return &conn{
		ctx:   ctx,
		ws:    ws,
		hub:   hub,
		subs:  map[string]*subscription{},
		dirty: map[changes.Collection]bool{},
		wake:  make(chan struct{}, 1),
	}
}

func (c *conn) send(msg ServerMessage) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.write(msg)
}

// sendIfActive sends msg only while sub is still registered. The check runs
// under sendMu, so a frame for sub can never follow its "unsubscribed" reply.
func (c *conn) sendIfActive(sub *subscription, msg ServerMessage) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.mu.Lock()
	active := c.subs[sub.id] == sub
	c.mu.Unlock()
	if !active {
		return false
	}
	c.write(msg)
	return true
}

// write requires sendMu.
func (c *conn) write(msg ServerMessage) {
	if err := websocket.JSON.Send(c.ws, msg); err != nil {
		c.hub.logger.Debug("realtime send failed", "error", err, "type", msg.Type)
	}
}

func (c *conn) handle(msg ClientMessage) {
	id := msg.ID
	if id == "" {
		id = msg.Topic
	}
	switch msg.Action {
	case "ping":
		c.send(ServerMessage{Type: "pong"})
	case "subscribe":
		topic, err := c.hub.registry.lookup(msg.Topic)
		if err != nil {
			c.send(ServerMessage{Type: "error", ID: id, Topic: msg.Topic, Error: err.Error()})
			return
		}
		c.mu.Lock()
		if _, exists := c.subs[id]; !exists && len(c.subs) >= maxSubsPerConn {
			c.mu.Unlock()
			c.send(ServerMessage{Type: "error", ID: id, Topic: msg.Topic, Error: "too many subscriptions"})
			return
		}
		sub := &subscription{id: id, name: msg.Topic, topic: topic, params: msg.Params}
		c.subs[id] = sub
		c.mu.Unlock()
		c.push(sub)
	case "unsubscribe":
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		c.send(ServerMessage{Type: "unsubscribed", ID: id})
	default:
		c.send(ServerMessage{Type: "error", ID: id, Error: "unknown action " + msg.Action})
	}
}

// push resolves sub and sends the snapshot. Resolver failures become error
// frames; the connection stays open. Nothing is sent once sub has been
// unsubscribed or replaced.
func (c *conn) push(sub *subscription) {
	ctx, cancel := context.WithTimeout(c.ctx, resolveTimeout)
	defer cancel()
	data, err := sub.topic.Resolve(ctx, sub.params)
	if err != nil {
		c.hub.metrics.ObserveSnapshot(sub.name, "error")
		c.hub.logger.Warn("realtime snapshot failed", "error", err, "topic", sub.name)
		c.sendIfActive(sub, ServerMessage{Type: "error", ID: sub.id, Topic: sub.name, Error: err.Error()})
		return
	}
	if !c.sendIfActive(sub, ServerMessage{Type: "snapshot", ID: sub.id, Topic: sub.name, Data: data, At: time.Now().UTC().Format(time.RFC3339Nano)}) {
		c.hub.metrics.ObserveSnapshot(sub.name, "dropped")
		return
	}
	c.hub.metrics.ObserveSnapshot(sub.name, "ok")
}

// invalidate marks a collection dirty and wakes the refresh loop. It never blocks.
func (c *conn) invalidate(col changes.Collection) {
	c.mu.Lock()
	c.dirty[col] = true
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *conn) refreshLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}
		c.mu.Lock()
		dirty := c.dirty
		c.dirty = map[changes.Collection]bool{}
		var stale []*subscription
		for _, sub := range c.subs {
			for col := range dirty {
				if sub.topic.watches(col) {
					stale = append(stale, sub)
					break
				}
			}
		}
		c.mu.Unlock()
		for _, sub := range stale {
			c.push(sub)
		}
	}
}
