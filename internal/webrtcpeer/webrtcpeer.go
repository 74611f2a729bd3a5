package webrtcpeer

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"

	"github.com/Nikita-bot/MedianLink/internal/config"
)

type apiOptions struct {
	net    transport.Net
	logger *slog.Logger
}

type APIOption func(*apiOptions)

// WithNet routes all ICE traffic through n, typically a vnet.Net in tests.
func WithNet(n transport.Net) APIOption {
	return func(o *apiOptions) { o.net = n }
}

// WithLogger sends pion's internal logging to logger.
func WithLogger(logger *slog.Logger) APIOption {
	return func(o *apiOptions) { o.logger = logger }
}

// NewAPI builds a pion API with the default audio codecs registered and the
// network settings from cfg applied.
func NewAPI(cfg config.Config, opts ...APIOption) (*webrtc.API, error) {
	var o apiOptions
	for _, opt := range opts {
		opt(&o)
	}

	se := webrtc.SettingEngine{}
	if err := ApplyNetworkSettings(&se, cfg); err != nil {
		return nil, err
	}
	if o.net != nil {
		se.SetNet(o.net)
	}
	if o.logger != nil {
		se.LoggerFactory = NewLoggerFactory(o.logger)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	)
	return api, nil
}

func ApplyNetworkSettings(se *webrtc.SettingEngine, cfg config.Config) error {
	if cfg.WebRTCUDPPortRange != nil {
		if err := se.SetEphemeralUDPPortRange(cfg.WebRTCUDPPortRange.Min, cfg.WebRTCUDPPortRange.Max); err != nil {
			return fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}

	// SettingEngine doesn't expose a bind address; restrict candidate
	// gathering and socket binding via IPFilter instead.
	if !config.IsUnspecifiedIP(cfg.WebRTCUDPListenIP) {
		listenIP := cfg.WebRTCUDPListenIP
		se.SetIPFilter(func(ip net.IP) bool {
			return ip.Equal(listenIP)
		})
	}

	return nil
}
