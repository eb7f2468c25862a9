package transport

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// ErrUnknownClient reports a send to a connection the hub no longer tracks.
var ErrUnknownClient = errors.New("unknown client connection")

// Handler receives connection lifecycle and message events from the hub.
// Callbacks run on the per-connection reader goroutine.
type Handler interface {
	// OnConnect fires once the connection is registered and writable.
	OnConnect(clientID string)
	// OnMessage delivers one inbound frame. The data slice is owned by the
	// handler after the call returns.
	OnMessage(clientID string, data []byte)
	// OnDisconnect fires exactly once after the connection is removed.
	OnDisconnect(clientID string)
}

// Config tunes hub connection handling.
type Config struct {
	// PingInterval is the keepalive cadence; reads time out at twice this.
	PingInterval time.Duration
	// MaxPayloadBytes limits inbound frame size.
	MaxPayloadBytes int64
	// MaxClients bounds concurrent connections. Zero disables the limit.
	MaxClients int
	// SendBuffer is the per-connection outbound queue depth.
	SendBuffer int
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = 1 << 20
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	return c
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// Hub owns all websocket connections: it upgrades requests, runs one reader
// and one writer goroutine per connection, and evicts connections whose
// outbound queue stays full rather than letting one slow consumer stall the
// tick loop.
type Hub struct {
	mu       sync.Mutex
	cfg      Config
	log      *zap.Logger
	handler  Handler
	clients  map[string]*client
	upgrader websocket.Upgrader
}

// NewHub constructs a hub dispatching events to the supplied handler.
func NewHub(cfg Config, handler Handler, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		cfg:     cfg.withDefaults(),
		log:     log,
		handler: handler,
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and runs the connection until it drops.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:   ksuid.New().String(),
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
	}

	h.mu.Lock()
	if h.cfg.MaxClients > 0 && len(h.clients) >= h.cfg.MaxClients {
		h.mu.Unlock()
		h.log.Warn("connection refused, client limit reached",
			zap.Int("max_clients", h.cfg.MaxClients))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server full"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	h.clients[c.id] = c
	h.mu.Unlock()

	go h.writeLoop(c)
	if h.handler != nil {
		h.handler.OnConnect(c.id)
	}
	h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	defer h.drop(c)
	c.conn.SetReadLimit(h.cfg.MaxPayloadBytes)
	deadline := 2 * h.cfg.PingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("websocket read failed", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
		if h.handler != nil {
			h.handler.OnMessage(c.id, data)
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

// Send queues one frame for the client. A full queue evicts the connection:
// a consumer that far behind cannot be caught up by buffering more. The
// channel send happens under the hub lock so it cannot race the close in
// drop.
func (h *Hub) Send(clientID string, data []byte) error {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownClient
	}
	select {
	case c.send <- data:
		h.mu.Unlock()
		return nil
	default:
	}
	h.mu.Unlock()
	h.log.Warn("send queue overflow, evicting client", zap.String("client_id", clientID))
	h.drop(c)
	return ErrUnknownClient
}

// Close terminates one connection with a normal close frame.
func (h *Hub) Close(clientID string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	h.mu.Unlock()
	if ok {
		h.drop(c)
	}
}

// Len reports the current connection count.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.drop(c)
	}
}

func (h *Hub) drop(c *client) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		//1.- The close shares the lock with Send: once it runs, no sender can
		// still hold a reference past its map lookup.
		close(c.send)
		h.mu.Unlock()
		_ = c.conn.Close()
		if h.handler != nil {
			h.handler.OnDisconnect(c.id)
		}
	})
}
