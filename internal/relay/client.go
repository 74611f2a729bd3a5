package relay

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Nikita-bot/MedianLink/internal/metrics"
	"github.com/Nikita-bot/MedianLink/internal/ratelimit"
	"github.com/Nikita-bot/MedianLink/internal/signaling"
)

type client struct {
	id      uint64
	hub     *Hub
	conn    *websocket.Conn
	log     *slog.Logger
	queue   *sendQueue
	limiter *ratelimit.TokenBucket

	// Guarded by hub.mu.
	inCall bool

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) readLoop() {
	cfg := c.hub.cfg
	m := c.hub.metrics

	c.conn.SetReadLimit(cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	})

	for {
		msgType, frame, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				c.log.Warn("closing client: message too large", "limit", cfg.MaxMessageBytes)
				c.close(websocket.CloseMessageTooBig, "message too large")
			} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("client read ended", "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))

		if msgType != websocket.TextMessage {
			m.Inc(metrics.RelayMalformedMessage)
			continue
		}
		if !c.limiter.Allow() {
			m.Inc(metrics.RelayRateLimited)
			c.log.Warn("dropping frame over rate limit")
			continue
		}

		msg, err := signaling.DecodeMessage(frame)
		if err != nil {
			m.Inc(metrics.RelayMalformedMessage)
			c.log.Warn("dropping malformed frame", "err", err)
			continue
		}
		if msg.Kind == signaling.KindAction {
			c.hub.presence(c, msg.Action)
			continue
		}
		c.hub.broadcast(c, frame)
	}
}

func (c *client) writeLoop() {
	for {
		frame, ok := c.queue.Dequeue()
		if !ok {
			return
		}
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
		err := c.conn.WriteMessage(websocket.TextMessage, frame)
		c.writeMu.Unlock()
		if err != nil {
			c.log.Debug("client write failed", "err", err)
			c.close(websocket.CloseAbnormalClosure, "")
			return
		}
	}
}

func (c *client) pingLoop() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.hub.cfg.WriteTimeout)); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// close stops the writer and closes the connection. A close frame is sent
// unless code is CloseAbnormalClosure, which never goes on the wire.
func (c *client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.queue.Close()
		if code != websocket.CloseAbnormalClosure {
			c.writeMu.Lock()
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(c.hub.cfg.WriteTimeout))
			c.writeMu.Unlock()
		}
		_ = c.conn.Close()
	})
}
