package webrtcpeer

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/Nikita-bot/MedianLink/internal/call"
)

type EngineConfig struct {
	API        *webrtc.API
	ICEServers []webrtc.ICEServer
	// LocalTrack is sent on every peer. Without one peers only receive audio.
	LocalTrack webrtc.TrackLocal
	Logger     *slog.Logger
}

// Engine creates one PeerConnection per call Session.
type Engine struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	local      webrtc.TrackLocal
	log        *slog.Logger
}

var _ call.Engine = (*Engine)(nil)

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.API == nil {
		return nil, errors.New("webrtcpeer: api is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		api:        cfg.API,
		iceServers: cfg.ICEServers,
		local:      cfg.LocalTrack,
		log:        cfg.Logger.With("component", "webrtcpeer"),
	}, nil
}

func (e *Engine) NewPeer(h call.PeerHandlers) (call.Peer, error) {
	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: e.iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	if e.local != nil {
		sender, err := pc.AddTrack(e.local)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add local track: %w", err)
		}
		go drainRTCP(sender)
	} else {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add audio transceiver: %w", err)
		}
	}

	p := &peer{pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if h.OnICECandidate == nil {
			return
		}
		if c == nil {
			h.OnICECandidate(nil)
			return
		}
		init := c.ToJSON()
		h.OnICECandidate(&init)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.log.Debug("peer connection state", "state", state.String())
		cs, ok := connectivityFromPion(state)
		if !ok || h.OnConnectivityChange == nil {
			return
		}
		h.OnConnectivityChange(cs)
	})
	pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.log.Info("remote track", "id", t.ID(), "kind", t.Kind().String(), "codec", t.Codec().MimeType)
		if h.OnTrack == nil {
			return
		}
		h.OnTrack(&remoteTrack{t: t})
	})

	return p, nil
}

// drainRTCP reads sender reports so interceptors keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func connectivityFromPion(state webrtc.PeerConnectionState) (call.ConnectivityState, bool) {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return call.ConnectivityNew, true
	case webrtc.PeerConnectionStateConnecting:
		return call.ConnectivityConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return call.ConnectivityConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return call.ConnectivityDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return call.ConnectivityFailed, true
	case webrtc.PeerConnectionStateClosed:
		return call.ConnectivityClosed, true
	default:
		return 0, false
	}
}
