package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Nikita-bot/MedianLink/internal/config"
)

const wsCloseWait = 1 * time.Second

type WebSocketConfig struct {
	PingInterval    time.Duration
	IdleTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	Logger          *slog.Logger
}

func WebSocketConfigFrom(cfg config.Config, logger *slog.Logger) WebSocketConfig {
	return WebSocketConfig{
		PingInterval:    cfg.SignalingPingInterval,
		IdleTimeout:     cfg.SignalingIdleTimeout,
		WriteTimeout:    cfg.SignalingWriteTimeout,
		MaxMessageBytes: cfg.MaxSignalingMessageBytes,
		Logger:          logger,
	}
}

func (c WebSocketConfig) withDefaults() WebSocketConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = config.DefaultSignalingPingInterval
	}
	if c.IdleTimeout <= c.PingInterval {
		c.IdleTimeout = 3 * c.PingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = config.DefaultSignalingWriteTimeout
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = config.DefaultMaxSignalingMessageBytes
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type inbound struct {
	msg Message
	err error
}

// WebSocketChannel is a Channel over a gorilla websocket connection. A single
// reader goroutine decodes frames; writes are serialized by a mutex.
type WebSocketChannel struct {
	conn *websocket.Conn
	cfg  WebSocketConfig
	log  *slog.Logger

	in     chan inbound
	closed chan struct{}

	writeMu sync.Mutex

	closeOnce sync.Once

	mu      sync.Mutex
	readErr error
}

// Dial connects to a signaling relay.
func Dial(ctx context.Context, url string, cfg WebSocketConfig) (*WebSocketChannel, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("signaling: dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("signaling: dial %s: %w", url, err)
	}
	return NewWebSocketChannel(conn, cfg), nil
}

// NewWebSocketChannel takes ownership of conn.
func NewWebSocketChannel(conn *websocket.Conn, cfg WebSocketConfig) *WebSocketChannel {
	cfg = cfg.withDefaults()
	c := &WebSocketChannel{
		conn:   conn,
		cfg:    cfg,
		log:    cfg.Logger.With("component", "signaling", "remote", conn.RemoteAddr().String()),
		in:     make(chan inbound, 16),
		closed: make(chan struct{}),
	}

	conn.SetReadLimit(cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	})

	go c.readLoop()
	go c.pingLoop()
	return c
}

func (c *WebSocketChannel) readLoop() {
	defer close(c.in)
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			select {
			case <-c.closed:
			default:
				c.log.Debug("signaling read failed", "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))

		var r inbound
		if msgType != websocket.TextMessage {
			r.err = fmt.Errorf("%w: expected text frame", ErrMalformedMessage)
		} else {
			r.msg, r.err = DecodeMessage(data)
		}
		select {
		case c.in <- r:
		case <-c.closed:
			return
		}
	}
}

func (c *WebSocketChannel) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.log.Debug("signaling ping failed", "err", err)
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *WebSocketChannel) Send(ctx context.Context, msg Message) error {
	b, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("%w: write: %v", ErrClosed, err)
	}
	return nil
}

func (c *WebSocketChannel) Receive(ctx context.Context) (Message, error) {
	select {
	case r, ok := <-c.in:
		if !ok {
			return Message{}, c.lostErr()
		}
		return r.msg, r.err
	case <-c.closed:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *WebSocketChannel) lostErr() error {
	c.mu.Lock()
	err := c.readErr
	c.mu.Unlock()
	if err == nil || errors.Is(err, ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrClosed, err)
}

// Close sends a normal close frame and releases the connection. It is safe to
// call more than once.
func (c *WebSocketChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		writeClose(c.conn, websocket.CloseNormalClosure, "")
		err = c.conn.Close()
	})
	return err
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsCloseWait))
}
