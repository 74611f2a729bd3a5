package relay

import (
	"time"

	"github.com/Nikita-bot/MedianLink/internal/config"
)

type Config struct {
	// MaxMessageBytes caps one inbound text frame. Larger frames close the
	// connection.
	MaxMessageBytes int64
	// MessagesPerSecond is the per-connection sustained rate; bursts of the
	// same size are allowed. 0 disables the limit.
	MessagesPerSecond int
	// SendQueueSize bounds frames queued for one slow client. Frames beyond it
	// are dropped for that client only.
	SendQueueSize int

	PingInterval time.Duration
	IdleTimeout  time.Duration
	WriteTimeout time.Duration

	// AllowedOrigins lists normalized browser origins, "*" or "null". Empty
	// allows any origin. Requests without an Origin header are always allowed.
	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		MaxMessageBytes:   config.DefaultMaxSignalingMessageBytes,
		MessagesPerSecond: config.DefaultMaxSignalingMessagesPerSecond,
		SendQueueSize:     config.DefaultRelaySendQueueSize,
		PingInterval:      config.DefaultSignalingPingInterval,
		IdleTimeout:       config.DefaultSignalingIdleTimeout,
		WriteTimeout:      config.DefaultSignalingWriteTimeout,
	}
}

func ConfigFrom(cfg config.Config) Config {
	return Config{
		MaxMessageBytes:   cfg.MaxSignalingMessageBytes,
		MessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SendQueueSize:     cfg.RelaySendQueueSize,
		PingInterval:      cfg.SignalingPingInterval,
		IdleTimeout:       cfg.SignalingIdleTimeout,
		WriteTimeout:      cfg.SignalingWriteTimeout,
		AllowedOrigins:    cfg.AllowedOrigins,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = d.MaxMessageBytes
	}
	if c.MessagesPerSecond < 0 {
		c.MessagesPerSecond = 0
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}
