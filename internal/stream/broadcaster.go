// Package stream broadcasts dispatcher lifecycle events to websocket
// clients as JSON frames. It consumes the emitter's watch channel, so a
// slow client can only ever drop frames, never slow a dispatch.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/actionpipe/actionpipe/internal/emitter"
	"github.com/actionpipe/actionpipe/internal/logging"
	"github.com/actionpipe/actionpipe/internal/pipeline"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// OriginValidator decides whether a websocket upgrade from an origin is
// allowed.
type OriginValidator interface {
	IsAllowedOrigin(origin string) bool
}

// OriginList validates origins against a fixed list. An empty list or a "*"
// entry allows any origin.
type OriginList []string

// IsAllowedOrigin implements OriginValidator.
func (l OriginList) IsAllowedOrigin(origin string) bool {
	if len(l) == 0 {
		return true
	}
	for _, allowed := range l {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// welcomeFrame greets a new client with the registry's current shape.
type welcomeFrame struct {
	Type      string    `json:"type"`
	Actions   int       `json:"actions"`
	Handlers  int       `json:"handlers"`
	Clients   int       `json:"clients"`
	Timestamp time.Time `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Broadcaster fans lifecycle events out to websocket clients. A central hub
// goroutine owns registration, disconnection, and broadcasting; per-client
// pumps handle the socket I/O.
type Broadcaster struct {
	dispatcher *pipeline.Dispatcher
	origins    OriginValidator
	logger     logging.Logger

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*client

	broadcast  chan []byte
	register   chan *client
	unregister chan *websocket.Conn

	events  <-chan emitter.Event
	dropped atomic.Uint64

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	shutdown     atomic.Bool
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithOrigins sets the upgrade origin validator.
func WithOrigins(origins OriginValidator) Option {
	return func(b *Broadcaster) {
		if origins != nil {
			b.origins = origins
		}
	}
}

// WithLogger sets the broadcaster's logger.
func WithLogger(logger logging.Logger) Option {
	return func(b *Broadcaster) {
		if logger != nil {
			b.logger = logger.WithComponent("stream")
		}
	}
}

// New creates a broadcaster attached to a dispatcher and starts its hub.
func New(dispatcher *pipeline.Dispatcher, opts ...Option) *Broadcaster {
	ctx, cancel := context.WithCancel(context.Background())

	b := &Broadcaster{
		dispatcher: dispatcher,
		origins:    OriginList(nil),
		logger:     logging.NewDiscardLogger(),
		clients:    make(map[*websocket.Conn]*client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client, 32),
		unregister: make(chan *websocket.Conn, 32),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.events = dispatcher.Events().Watch()
	go b.consumeEvents()
	go b.runHub()
	return b
}

// consumeEvents turns lifecycle events into JSON frames. The watch channel
// already drops on overflow, so this loop never back-pressures the emitter.
func (b *Broadcaster) consumeEvents() {
	for event := range b.events {
		data, err := json.Marshal(event)
		if err != nil {
			b.logger.Warn(b.ctx, err, "cannot encode lifecycle event", "event_type", string(event.Type))
			continue
		}
		select {
		case b.broadcast <- data:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Broadcaster) runHub() {
	for {
		select {
		case c := <-b.register:
			b.addClient(c)
		case conn := <-b.unregister:
			b.removeClient(conn)
		case message := <-b.broadcast:
			b.fanOut(message)
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Broadcaster) addClient(c *client) {
	b.clientsMu.Lock()
	b.clients[c.conn] = c
	total := len(b.clients)
	b.clientsMu.Unlock()

	if data, err := json.Marshal(welcomeFrame{
		Type:      "welcome",
		Actions:   len(b.dispatcher.Registry().Actions()),
		Handlers:  b.dispatcher.Registry().TotalCount(),
		Clients:   total,
		Timestamp: time.Now(),
	}); err == nil {
		select {
		case c.send <- data:
		default:
		}
	}

	b.logger.Debug(b.ctx, "stream client connected", "clients", total)
}

func (b *Broadcaster) removeClient(conn *websocket.Conn) {
	b.clientsMu.Lock()
	c, exists := b.clients[conn]
	if exists {
		delete(b.clients, conn)
		close(c.send)
	}
	total := len(b.clients)
	b.clientsMu.Unlock()

	if exists {
		conn.Close(websocket.StatusNormalClosure, "")
		b.logger.Debug(b.ctx, "stream client disconnected", "clients", total)
	}
}

func (b *Broadcaster) fanOut(message []byte) {
	b.clientsMu.RLock()
	targets := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.clientsMu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- message:
		default:
			// Full send buffer means the client cannot keep up; cut it
			// loose rather than queue without bound.
			b.dropped.Add(1)
			select {
			case b.unregister <- c.conn:
			default:
			}
		}
	}
}

// HandleWebSocket upgrades the request and attaches the client to the hub.
func (b *Broadcaster) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if b.shutdown.Load() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	if origin := r.Header.Get("Origin"); origin != "" && !b.origins.IsAllowedOrigin(origin) {
		b.logger.Warn(r.Context(), nil, "stream upgrade rejected", "origin", origin, "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"}, // validated above
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		b.logger.Warn(r.Context(), err, "stream upgrade failed", "remote", r.RemoteAddr)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, 256),
	}

	select {
	case b.register <- c:
	case <-b.ctx.Done():
		conn.Close(websocket.StatusServiceRestart, "server shutting down")
		return
	default:
		conn.Close(websocket.StatusTryAgainLater, "server busy")
		return
	}

	go b.writePump(c)
	go b.readPump(c)
}

// readPump drains inbound messages. Clients are view-only; reading serves
// to notice the peer closing. Liveness comes from the write pump's pings,
// so an idle but healthy client is never cut off.
func (b *Broadcaster) readPump(c *client) {
	defer func() {
		select {
		case b.unregister <- c.conn:
		case <-b.ctx.Done():
		}
	}()

	for {
		if _, _, err := c.conn.Read(b.ctx); err != nil {
			return
		}
	}
}

func (b *Broadcaster) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(b.ctx, writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(b.ctx, writeTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}
		case <-b.ctx.Done():
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()
	return len(b.clients)
}

// Dropped returns how many frames were discarded because a buffer was full.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Shutdown detaches from the emitter, closes every client, and stops the
// hub. It is safe to call more than once.
func (b *Broadcaster) Shutdown(ctx context.Context) error {
	b.shutdownOnce.Do(func() {
		b.shutdown.Store(true)
		b.dispatcher.Events().Unwatch(b.events)
		b.cancel()

		// Send channels stay open; the pumps exit on the cancelled
		// context, and only the hub ever closes a send channel.
		b.clientsMu.Lock()
		for conn := range b.clients {
			conn.Close(websocket.StatusNormalClosure, "server shutdown")
		}
		b.clients = make(map[*websocket.Conn]*client)
		b.clientsMu.Unlock()

		b.logger.Info(ctx, "stream broadcaster stopped", "dropped_frames", b.dropped.Load())
	})
	return nil
}
