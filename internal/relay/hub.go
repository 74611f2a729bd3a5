package relay

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Nikita-bot/MedianLink/internal/config"
	"github.com/Nikita-bot/MedianLink/internal/metrics"
	"github.com/Nikita-bot/MedianLink/internal/ratelimit"
	"github.com/Nikita-bot/MedianLink/internal/signaling"
)

var ErrHubClosed = errors.New("relay: hub closed")

// Hub implements GET /ws. It fans every signaling frame out to all other
// clients and tracks how many of them are in a call.
type Hub struct {
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	active  int
	closed  bool
	nextID  atomic.Uint64

	wg sync.WaitGroup
}

func NewHub(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &Hub{
		cfg:     cfg.withDefaults(),
		log:     logger.With("component", "relay"),
		metrics: m,
		clients: make(map[*client]struct{}),
	}
	h.upgrader.CheckOrigin = h.checkOrigin
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	raw := strings.TrimSpace(r.Header.Get("Origin"))
	if raw == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	if _, ok := config.OriginAllowed(raw, h.cfg.AllowedOrigins); ok {
		return true
	}
	h.metrics.Inc(metrics.RelayOriginRejected)
	h.log.Warn("rejecting websocket origin", "origin", raw)
	return false
}

// RegisterRoutes mounts the hub and its counters on mux.
func (h *Hub) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /ws", h)
	mux.HandleFunc("GET /count", func(w http.ResponseWriter, r *http.Request) {
		writeCount(w, h.Count())
	})
	mux.HandleFunc("GET /active", func(w http.ResponseWriter, r *http.Request) {
		writeCount(w, h.Active())
	})
}

func writeCount(w http.ResponseWriter, n int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, strconv.Itoa(n))
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Active returns the number of connected clients that announced call_started
// and have not announced call_ended since.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	c := &client{
		id:    h.nextID.Add(1),
		hub:   h,
		conn:  conn,
		queue: newSendQueue(h.cfg.SendQueueSize),
		done:  make(chan struct{}),
	}
	if h.cfg.MessagesPerSecond > 0 {
		rate := int64(h.cfg.MessagesPerSecond)
		c.limiter = ratelimit.NewTokenBucket(nil, rate, rate)
	}
	c.log = h.log.With("client", c.id, "remote_addr", r.RemoteAddr)

	if err := h.register(c); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(h.cfg.WriteTimeout))
		_ = conn.Close()
		return
	}

	go func() {
		defer h.wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer h.wg.Done()
		c.pingLoop()
	}()

	c.readLoop()
	h.unregister(c)
	c.close(websocket.CloseNormalClosure, "")
}

func (h *Hub) register(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.clients[c] = struct{}{}
	// Add under mu: Close sets closed before it waits.
	h.wg.Add(2)
	h.metrics.Inc(metrics.RelayClients)
	c.log.Info("client connected", "clients", len(h.clients))
	return nil
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if c.inCall {
		c.inCall = false
		h.active--
	}
	c.log.Info("client disconnected", "clients", len(h.clients), "active", h.active)
}

// presence applies a call_started/call_ended action from c.
func (h *Hub) presence(c *client, action signaling.Action) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	switch action {
	case signaling.ActionCallStarted:
		if !c.inCall {
			c.inCall = true
			h.active++
		}
	case signaling.ActionCallEnded:
		if c.inCall {
			c.inCall = false
			h.active--
		}
	}
	c.log.Debug("presence", "action", string(action), "active", h.active)
}

// broadcast queues frame for every client except from.
func (h *Hub) broadcast(from *client, frame []byte) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c != from {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if c.queue.Enqueue(frame) {
			h.metrics.Inc(metrics.RelayForwarded)
			continue
		}
		h.metrics.Inc(metrics.RelayDropped)
		c.log.Warn("dropping frame for slow client", "queued", c.queue.Len())
	}
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close(websocket.CloseGoingAway, "shutting down")
	}
	h.wg.Wait()
}
